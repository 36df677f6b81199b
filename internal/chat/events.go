package chat

import "time"

// Event types emitted over SSE and WebSocket feeds. Every turn emits exactly
// one start, one or more content fragments, one complete and one end, or a
// terminal error in place of the remainder.
const (
	EventStart    = "start"
	EventContent  = "content"
	EventComplete = "complete"
	EventError    = "error"
	EventEnd      = "end"
)

// CharacterMeta identifies the character serving the turn
type CharacterMeta struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// Event is one item in a turn's event stream. Only the fields relevant to
// the event type are populated.
type Event struct {
	Type string `json:"type"`

	// start
	ConversationID  uint           `json:"conversation_id,omitempty"`
	Character       *CharacterMeta `json:"character,omitempty"`
	Provider        string         `json:"provider,omitempty"`
	EstimatedTokens int            `json:"estimated_tokens,omitempty"`

	// content
	Content string `json:"content,omitempty"`

	// complete
	MessageID       string  `json:"message_id,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	MessageLength   int     `json:"message_length,omitempty"`
	Timestamp       string  `json:"timestamp,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func startEvent(conversationID uint, character CharacterMeta, provider string, estimatedTokens int) Event {
	return Event{
		Type:            EventStart,
		ConversationID:  conversationID,
		Character:       &character,
		Provider:        provider,
		EstimatedTokens: estimatedTokens,
	}
}

func contentEvent(fragment string) Event {
	return Event{Type: EventContent, Content: fragment}
}

func completeEvent(messageID, provider string, duration time.Duration, length int) Event {
	return Event{
		Type:            EventComplete,
		MessageID:       messageID,
		Provider:        provider,
		DurationSeconds: duration.Seconds(),
		MessageLength:   length,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
}

func errorEvent(code, message string) Event {
	return Event{Type: EventError, Code: code, Message: message}
}

func endEvent() Event {
	return Event{Type: EventEnd}
}
