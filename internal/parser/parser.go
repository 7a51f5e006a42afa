// Package parser extracts a single well-formed JSON object or array
// embedded anywhere in a command's captured standard output — agent
// chatter, shell echoes, and ANSI noise included.
//
// JSON is the wire format for every report a container hands back, so
// this is a balanced-delimiter scan over the raw bytes followed by a
// strict unmarshal of the block it finds, rather than an unmarshal of
// the whole output.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrParse is returned when no balanced JSON object/array can be found
// in the text, or the balanced substring fails strict JSON parsing.
var ErrParse = errors.New("parser: no valid JSON found")

// ExtractObject decodes the first top-level, balanced `{...}` substring
// of text into v. It returns ErrParse if there is no such substring or
// if that first one is not valid JSON; later blocks are not tried.
func ExtractObject(text string, v interface{}) error {
	raw, err := extractBalanced(text, '{', '}')
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	return nil
}

// ExtractArray decodes the first top-level, balanced `[...]` substring
// of text into v. It returns ErrParse if there is no such substring or
// if that first one is not valid JSON; later blocks are not tried.
func ExtractArray(text string, v interface{}) error {
	raw, err := extractBalanced(text, '[', ']')
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	return nil
}

// extractBalanced scans text for the first open..close balanced pair,
// tracking nesting depth and skipping over characters inside string
// literals (honoring backslash escapes) so braces/brackets that appear
// in string values don't desynchronize the depth count.
func extractBalanced(text string, open, close byte) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if start == -1 {
			if c == open {
				start = i
				depth = 1
			}
			continue
		}

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}

	return "", ErrParse
}
