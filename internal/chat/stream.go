package chat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// heartbeatInterval is how often an SSE comment line is written while waiting
// for the next event, keeping intermediaries from timing out an idle stream.
const heartbeatInterval = 15 * time.Second

// WriteSSE relays a turn's events to the client as server-sent events. It
// returns when the event channel closes or the write side fails. Each event
// is written as an `event:` line naming the type plus a JSON `data:` payload.
func WriteSSE(w http.ResponseWriter, events <-chan Event) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("chat: response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("chat: encode event: %w", err)
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
				return err
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

// Collected is the buffered form of a turn, returned when the client asked
// for a plain JSON response instead of a stream. Events carries the full
// ordered sequence the stream would have delivered; the remaining fields are
// conveniences lifted from it.
type Collected struct {
	ConversationID uint           `json:"conversation_id"`
	Character      *CharacterMeta `json:"character,omitempty"`
	Provider       string         `json:"provider,omitempty"`
	MessageID      string         `json:"message_id,omitempty"`
	Content        string         `json:"content"`
	Events         []Event        `json:"messages"`
	Err            *Event         `json:"-"`
}

// Collect drains a turn's event stream into a single response
func Collect(events <-chan Event) Collected {
	var out Collected
	for ev := range events {
		out.Events = append(out.Events, ev)
		switch ev.Type {
		case EventStart:
			out.ConversationID = ev.ConversationID
			out.Character = ev.Character
			out.Provider = ev.Provider
		case EventContent:
			out.Content += ev.Content
		case EventComplete:
			out.MessageID = ev.MessageID
		case EventError:
			e := ev
			out.Err = &e
		}
	}
	return out
}
