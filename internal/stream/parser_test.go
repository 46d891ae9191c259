package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine_EmptyAndMalformed(t *testing.T) {
	for _, line := range []string{
		"",
		"   ",
		"\t",
		"not json",
		"{truncated",
		`{"type":`,
		"[1,2,3", // invalid
	} {
		_, ok := ParseLine(line)
		assert.False(t, ok, "line %q should yield no event", line)
	}
}

func TestParseLine_System(t *testing.T) {
	ev, ok := ParseLine(`{"type":"system","session_id":"abc123def456"}`)
	require.True(t, ok)
	assert.Equal(t, EventSystem, ev.Kind)
	assert.Equal(t, "abc123def456", ev.SessionID)
}

func TestParseLine_SessionIDValidation(t *testing.T) {
	cases := []struct {
		id    string
		valid bool
	}{
		{"abcd1234", true},
		{"f47ac10b-58cc-4372-a567-0e02b2c3d479", true},
		{"with_underscore-and-dash_0", true},
		{"short", false},             // under 8 chars
		{"has space in it", false},   // disallowed char
		{"semi;colon-injected", false},
		{"", false},
	}
	for _, tc := range cases {
		ev, ok := ParseLine(`{"type":"result","session_id":"` + tc.id + `"}`)
		require.True(t, ok, "result events always parse")
		assert.Equal(t, EventResult, ev.Kind)
		if tc.valid {
			assert.Equal(t, tc.id, ev.SessionID)
		} else {
			assert.Empty(t, ev.SessionID, "id %q should be rejected", tc.id)
		}
	}
}

func TestParseLine_WronglyTypedSessionID(t *testing.T) {
	// A non-string session_id must not discard the line: the event
	// survives with an absent id.
	for _, line := range []string{
		`{"type":"system","session_id":123}`,
		`{"type":"system","session_id":null}`,
		`{"type":"result","session_id":{"nested":"object"}}`,
	} {
		ev, ok := ParseLine(line)
		require.True(t, ok, "line %q should still parse", line)
		assert.Empty(t, ev.SessionID)
	}
}

func TestParseLine_AssistantToolUse(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"thinking"},{"type":"tool_use","name":"Bash"}]}}`
	ev, ok := ParseLine(line)
	require.True(t, ok)
	assert.Equal(t, EventToolUse, ev.Kind, "tool_use wins over text regardless of order")
	assert.Equal(t, "Bash", ev.Tool)
}

func TestParseLine_AssistantText(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"working on it"}]}}`
	ev, ok := ParseLine(line)
	require.True(t, ok)
	assert.Equal(t, EventText, ev.Kind)
	assert.Equal(t, "working on it", ev.Text)
}

func TestParseLine_AssistantEmptyContent(t *testing.T) {
	ev, ok := ParseLine(`{"type":"assistant","message":{"content":[]}}`)
	require.True(t, ok)
	assert.Equal(t, EventText, ev.Kind)
	assert.Empty(t, ev.Text)
}

func TestParseLine_Error(t *testing.T) {
	ev, ok := ParseLine(`{"type":"error","error":{"message":"rate limited"}}`)
	require.True(t, ok)
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, "rate limited", ev.Message)

	ev, ok = ParseLine(`{"type":"error"}`)
	require.True(t, ok)
	assert.Equal(t, "agent reported an error", ev.Message, "missing message gets a placeholder")
}

func TestParseLine_UnknownType(t *testing.T) {
	ev, ok := ParseLine(`{"type":"user","message":{}}`)
	require.True(t, ok)
	assert.Equal(t, EventUnknown, ev.Kind)
}
