// Package llm contains the provider adapters and the failover engine that
// routes each generation to a healthy backend.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ChatMessage is one turn in the prompt sent to a provider
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a provider-independent generation request
type ChatRequest struct {
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// Chunk is one fragment of a streamed completion. Exactly one of Content or
// Err is meaningful; a Chunk with Done set closes the stream.
type Chunk struct {
	Content string
	Done    bool
	Err     error
}

// Provider is a single LLM backend capable of streaming completions
type Provider interface {
	// Name identifies the provider in logs, events and health keys
	Name() string

	// Model returns the model this provider dispatches to
	Model() string

	// Stream starts a completion and delivers fragments on the returned
	// channel. The channel is closed after the Done or error chunk. An error
	// from Stream itself means the request never started.
	Stream(ctx context.Context, req ChatRequest) (<-chan Chunk, error)
}

// FatalError marks a provider failure that retrying cannot fix, such as a
// rejected request or bad credentials. The failover engine gives up on the
// request instead of walking the candidate list.
type FatalError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("llm: %s rejected request (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsFatal reports whether err is a non-retryable provider failure
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
