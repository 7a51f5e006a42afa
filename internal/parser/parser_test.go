package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractObjectWithNarrationAround(t *testing.T) {
	text := `Sure! Here is the report you asked for:
{"taskId": "task-1", "title": "Add tests", "description": "d", "status": "success", "report": "done"}
Let me know if you need anything else.`

	var out struct {
		TaskID string `json:"taskId"`
		Status string `json:"status"`
	}
	err := ExtractObject(text, &out)
	require.NoError(t, err)
	assert.Equal(t, "task-1", out.TaskID)
	assert.Equal(t, "success", out.Status)
}

func TestExtractObjectBracesInStringDontDesync(t *testing.T) {
	text := `{"report": "the function uses a { block } and works"}`
	var out struct {
		Report string `json:"report"`
	}
	require.NoError(t, ExtractObject(text, &out))
	assert.Equal(t, "the function uses a { block } and works", out.Report)
}

func TestExtractObjectEscapedQuoteInString(t *testing.T) {
	text := `{"report": "she said \"ok { \" and left"}`
	var out struct {
		Report string `json:"report"`
	}
	require.NoError(t, ExtractObject(text, &out))
	assert.Contains(t, out.Report, `ok {`)
}

func TestExtractObjectNoJSON(t *testing.T) {
	var out map[string]interface{}
	err := ExtractObject("no json here at all", &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
}

func TestExtractObjectMalformedInnerJSON(t *testing.T) {
	var out map[string]interface{}
	err := ExtractObject(`prefix { "taskId": "x", } suffix`, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
}

func TestExtractArrayWithNestedObjects(t *testing.T) {
	text := "Here are the tasks:\n" +
		`[{"id":"t1","title":"A","description":"d","priority":1},` +
		`{"id":"t2","title":"B","description":"d2","priority":2,"followingTasks":["t1"]}]` +
		"\nGenerated tasks.json"

	var out []struct {
		ID             string   `json:"id"`
		FollowingTasks []string `json:"followingTasks"`
	}
	require.NoError(t, ExtractArray(text, &out))
	require.Len(t, out, 2)
	assert.Equal(t, "t1", out[0].ID)
	assert.Equal(t, []string{"t1"}, out[1].FollowingTasks)
}

func TestExtractArrayNoArray(t *testing.T) {
	var out []interface{}
	err := ExtractArray(`{"not": "an array"}`, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
}

func TestExtractObjectTakesFirstBalancedBlock(t *testing.T) {
	text := `{"first": true} trailing {"second": true}`
	var out map[string]interface{}
	require.NoError(t, ExtractObject(text, &out))
	assert.Equal(t, true, out["first"])
	_, hasSecond := out["second"]
	assert.False(t, hasSecond)
}
