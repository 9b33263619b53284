package protocol

import (
	"encoding/json"
	"fmt"
)

type EventType string

const (
	EventTranscript   EventType = "Transcript"
	EventToolCall     EventType = "ToolCall"
	EventToolResult   EventType = "ToolResult"
	EventResponseText EventType = "ResponseText"
	EventError        EventType = "Error"
)

// Event is a tagged union. Exactly one payload field is set, matching Type;
// ResponseText and Error carry their payload in Text.
type Event struct {
	Type       EventType
	Transcript *SpeechTurn
	ToolCall   *ToolCall
	ToolResult *ToolResult
	Text       string
}

func NewTranscript(turn SpeechTurn) Event {
	return Event{Type: EventTranscript, Transcript: &turn}
}

func NewToolCall(call ToolCall) Event {
	return Event{Type: EventToolCall, ToolCall: &call}
}

func NewToolResult(result ToolResult) Event {
	return Event{Type: EventToolResult, ToolResult: &result}
}

func NewResponseText(text string) Event {
	return Event{Type: EventResponseText, Text: text}
}

func NewError(reason string) Event {
	return Event{Type: EventError, Text: reason}
}

type wireEvent struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes the event as {"type": ..., "data": ...}.
func (e Event) MarshalJSON() ([]byte, error) {
	var payload any
	switch e.Type {
	case EventTranscript:
		payload = e.Transcript
	case EventToolCall:
		payload = e.ToolCall
	case EventToolResult:
		payload = e.ToolResult
	case EventResponseText, EventError:
		payload = e.Text
	default:
		return nil, fmt.Errorf("unknown event type: %q", e.Type)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Type, err)
	}

	return json.Marshal(wireEvent{Type: e.Type, Data: data})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	out := Event{Type: w.Type}
	var target any
	switch w.Type {
	case EventTranscript:
		out.Transcript = &SpeechTurn{}
		target = out.Transcript
	case EventToolCall:
		out.ToolCall = &ToolCall{}
		target = out.ToolCall
	case EventToolResult:
		out.ToolResult = &ToolResult{}
		target = out.ToolResult
	case EventResponseText, EventError:
		target = &out.Text
	default:
		return fmt.Errorf("unknown event type: %q", w.Type)
	}

	if err := json.Unmarshal(w.Data, target); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", w.Type, err)
	}

	*e = out
	return nil
}
