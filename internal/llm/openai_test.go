package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/spb722/ai-companion/pkg/config"
	"github.com/spb722/ai-companion/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewOpenAIProvider(config.ProviderConfig{
		Name:    "test",
		Model:   "test-model",
		BaseURL: srv.URL,
		APIKey:  "test-key",
	}, 10*time.Second, 2*time.Second, logger.New(logger.Config{Level: "error"}))
}

func sseBody(fragments ...string) string {
	var body string
	for _, f := range fragments {
		body += fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", f)
	}
	return body + "data: [DONE]\n\n"
}

func collect(t *testing.T, chunks <-chan Chunk) (string, error) {
	t.Helper()
	var text string
	deadline := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return text, nil
			}
			if chunk.Err != nil {
				return text, chunk.Err
			}
			if chunk.Done {
				continue
			}
			text += chunk.Content
		case <-deadline:
			t.Fatal("stream did not terminate")
		}
	}
}

func TestStreamParsesFragments(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody("Hello", ", ", "world"))
	})

	chunks, err := p.Stream(context.Background(), ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	text, err := collect(t, chunks)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", text)
}

func TestStreamEndsOnFinishReason(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"done\"},\"finish_reason\":\"stop\"}]}\n\n")
		// No [DONE] sentinel; the finish_reason alone closes the stream
	})

	chunks, err := p.Stream(context.Background(), ChatRequest{})
	require.NoError(t, err)

	text, err := collect(t, chunks)
	require.NoError(t, err)
	assert.Equal(t, "done", text)
}

func TestStreamClientErrorIsFatal(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided"}}`)
	})

	_, err := p.Stream(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.True(t, IsFatal(err), "a 4xx rejection must not be retried elsewhere")
	assert.Contains(t, err.Error(), "Incorrect API key provided")
}

func TestStreamServerErrorIsRetryable(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := p.Stream(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.False(t, IsFatal(err), "upstream 5xx leaves room for failover")
}

func TestStreamRateLimitIsRetryable(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := p.Stream(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.False(t, IsFatal(err), "provider throttling falls through to the next candidate")
}

func TestStreamSkipsMalformedFragments(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {broken json\n\n")
		fmt.Fprint(w, sseBody("still works"))
	})

	chunks, err := p.Stream(context.Background(), ChatRequest{})
	require.NoError(t, err)

	text, err := collect(t, chunks)
	require.NoError(t, err)
	assert.Equal(t, "still works", text)
}

func TestStreamCancelledContext(t *testing.T) {
	release := make(chan struct{})
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		flusher.Flush()
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	chunks, err := p.Stream(ctx, ChatRequest{})
	require.NoError(t, err)

	first := <-chunks
	assert.Equal(t, "first", first.Content)
	cancel()

	// The stream terminates promptly, by terminal chunk or channel close
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-chunks:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not terminate after cancellation")
		}
	}
}

func TestStreamCancellationReleasesGoroutines(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"first\"}}]}\n\n")
		flusher.Flush()
		// Hold the stream open until the client disconnects
		<-r.Context().Done()
	})

	baseline := runtime.NumGoroutine()

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		chunks, err := p.Stream(ctx, ChatRequest{})
		require.NoError(t, err)

		<-chunks
		cancel()

		// Abandon the channel without draining it, as a disconnected
		// consumer would
		_ = chunks
	}

	// The reader and scanner goroutines must wind down on their own
	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline+2
	}, 5*time.Second, 50*time.Millisecond, "cancelled streams left goroutines behind")
}
