package analyzer

import "errors"

// ErrAgentTimeout is returned when the analyzer-role agent invocation
// does not complete within containerTimeoutSeconds.
var ErrAgentTimeout = errors.New("analyzer: agent invocation timed out")

// ErrTaskValidation is returned when the parsed task list violates the
// count bounds or per-entry field requirements. Per the resolved open
// question, a shortfall below minTasks is treated as this error rather
// than a silently accepted smaller run.
var ErrTaskValidation = errors.New("analyzer: task list failed validation")
