package stream

import (
	"encoding/json"
	"regexp"
	"strings"
)

// EventKind classifies one line of agent stream-json output.
type EventKind string

const (
	EventSystem  EventKind = "system"
	EventToolUse EventKind = "tool_use"
	EventText    EventKind = "text"
	EventResult  EventKind = "result"
	EventError   EventKind = "error"
	EventUnknown EventKind = "unknown"
)

// Event is one parsed line of agent output. Only the fields relevant to the
// kind are populated.
type Event struct {
	Kind      EventKind
	SessionID string // validated; empty when absent or malformed
	Tool      string // tool_use events
	Text      string // text events
	Message   string // error events
}

// sessionIDPattern is a conservative match for agent-reported session ids.
// Anything else is treated as absent rather than trusted.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// envelope is the wire shape of one stream-json line. session_id is held
// raw so a wrongly-typed value degrades to an absent id instead of
// discarding the whole line.
type envelope struct {
	Type      string          `json:"type"`
	SessionID json.RawMessage `json:"session_id"`
	Message   struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type contentBlock struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Text string `json:"text"`
}

// ParseLine converts one line of agent output (no trailing newline) into an
// event. Empty, whitespace-only, and malformed lines yield ok=false; they
// are expected and never an error.
func ParseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}

	var env envelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return Event{}, false
	}

	switch env.Type {
	case "system":
		return Event{Kind: EventSystem, SessionID: validSessionID(env.SessionID)}, true

	case "assistant":
		// First tool_use block wins; otherwise first text block; an empty
		// content list still yields a bare text event.
		for _, block := range env.Message.Content {
			if block.Type == "tool_use" {
				return Event{Kind: EventToolUse, Tool: block.Name}, true
			}
		}
		for _, block := range env.Message.Content {
			if block.Type == "text" {
				return Event{Kind: EventText, Text: block.Text}, true
			}
		}
		return Event{Kind: EventText}, true

	case "result":
		return Event{Kind: EventResult, SessionID: validSessionID(env.SessionID)}, true

	case "error":
		msg := env.Error.Message
		if msg == "" {
			msg = "agent reported an error"
		}
		return Event{Kind: EventError, Message: msg}, true

	default:
		// Unrecognized types are surfaced, not dropped, so callers can count them.
		return Event{Kind: EventUnknown}, true
	}
}

// validSessionID extracts a string id from the raw value and returns it if
// it matches the identifier pattern, else "". Non-string values count as
// absent.
func validSessionID(raw json.RawMessage) string {
	var id string
	if json.Unmarshal(raw, &id) != nil {
		return ""
	}
	if sessionIDPattern.MatchString(id) {
		return id
	}
	return ""
}
