package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spb722/ai-companion/pkg/config"
	"github.com/spb722/ai-companion/pkg/logger"
)

// OpenAIProvider streams completions from any OpenAI-compatible chat API.
// Groq and OpenAI proper differ only in base URL, model and key, so a single
// adapter covers both.
type OpenAIProvider struct {
	name            string
	model           string
	baseURL         string
	apiKey          string
	client          *http.Client
	fragmentTimeout time.Duration
	log             *logger.Logger
}

// NewOpenAIProvider creates a provider adapter from its configuration.
// fragmentTimeout bounds the silence between stream fragments; a provider
// that stalls mid-stream is treated as failed rather than hanging the turn.
func NewOpenAIProvider(cfg config.ProviderConfig, requestTimeout, fragmentTimeout time.Duration, log *logger.Logger) *OpenAIProvider {
	return &OpenAIProvider{
		name:            cfg.Name,
		model:           cfg.Model,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		client:          &http.Client{Timeout: requestTimeout},
		fragmentTimeout: fragmentTimeout,
		log:             log,
	}
}

// Name implements Provider
func (p *OpenAIProvider) Name() string { return p.name }

// Model implements Provider
func (p *OpenAIProvider) Model() string { return p.model }

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Stream implements Provider. It opens a server-sent-event stream against the
// chat completions endpoint and forwards content deltas as Chunks.
func (p *OpenAIProvider) Stream(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model:       p.model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: %s: encode request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: %s: build request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: %s: dial: %w", p.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var parsed apiErrorBody
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, &FatalError{Provider: p.name, StatusCode: resp.StatusCode, Message: msg}
		}
		return nil, fmt.Errorf("llm: %s: status %d: %s", p.name, resp.StatusCode, msg)
	}

	out := make(chan Chunk)
	go p.readStream(ctx, resp.Body, out)
	return out, nil
}

// readStream parses the SSE body line by line. Providers vary in how they end
// the stream (a [DONE] sentinel, a finish_reason, or just EOF); all three are
// accepted. Every send races the context so a consumer that stopped receiving
// after cancellation never strands this goroutine or the response body; a
// cancelled turn may end with the channel simply closing instead of a
// terminal chunk.
func (p *OpenAIProvider) readStream(ctx context.Context, body io.ReadCloser, out chan<- Chunk) {
	defer close(out)
	defer body.Close()

	emit := func(c Chunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	type lineResult struct {
		line string
		err  error
	}
	stop := make(chan struct{})
	defer close(stop)

	lines := make(chan lineResult)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- lineResult{line: scanner.Text()}:
			case <-stop:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case lines <- lineResult{err: err}:
			case <-stop:
			}
		}
	}()

	timer := time.NewTimer(p.fragmentTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-timer.C:
			emit(Chunk{Err: fmt.Errorf("llm: %s: no fragment for %s", p.name, p.fragmentTimeout)})
			return

		case res, ok := <-lines:
			if !ok {
				// EOF without an explicit terminator still ends the stream
				emit(Chunk{Done: true})
				return
			}
			if res.err != nil {
				emit(Chunk{Err: fmt.Errorf("llm: %s: read stream: %w", p.name, res.err)})
				return
			}

			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(p.fragmentTimeout)

			data, ok := strings.CutPrefix(res.line, "data:")
			if !ok {
				continue
			}
			data = strings.TrimSpace(data)
			if data == "" {
				continue
			}
			if data == "[DONE]" {
				emit(Chunk{Done: true})
				return
			}

			var chunk chatCompletionChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				p.log.Warn("skipping malformed stream fragment", "provider", p.name, "error", err.Error())
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			if choice.Delta.Content != "" {
				if !emit(Chunk{Content: choice.Delta.Content}) {
					return
				}
			}
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				emit(Chunk{Done: true})
				return
			}
		}
	}
}
