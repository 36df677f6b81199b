package llm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spb722/ai-companion/pkg/logger"
	"github.com/spb722/ai-companion/pkg/metrics"
)

// ErrAllProvidersFailed is returned when every candidate was tried and none
// produced a completion
var ErrAllProvidersFailed = errors.New("llm: all providers failed")

// ErrNoProviders is returned when no provider is configured at all
var ErrNoProviders = errors.New("llm: no providers configured")

// ErrUnknownProvider is returned when a named provider is not registered
var ErrUnknownProvider = errors.New("llm: unknown provider")

// Engine selects a provider for each generation and walks the fallback order
// when the chosen one fails. Provider health lives in the shared store, so
// every gateway instance sees the same degradations and pins.
type Engine struct {
	providers   []Provider
	priority    map[string]int
	health      *Health
	retryBudget int
	log         *logger.Logger
}

// NewEngine creates a failover engine over the configured providers.
// priorities maps provider name to its preference rank (lower first).
func NewEngine(providers []Provider, priorities map[string]int, health *Health, retryBudget int, log *logger.Logger) *Engine {
	return &Engine{
		providers:   providers,
		priority:    priorities,
		health:      health,
		retryBudget: retryBudget,
		log:         log,
	}
}

// Candidates returns the providers in dispatch order: a pinned provider
// first, then healthy providers by priority, then degraded ones. Degraded
// providers stay in the list because a degraded fallback still beats no
// answer.
func (e *Engine) Candidates(ctx context.Context) []Provider {
	if len(e.providers) == 0 {
		return nil
	}

	ordered := make([]Provider, len(e.providers))
	copy(ordered, e.providers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return e.priority[ordered[i].Name()] < e.priority[ordered[j].Name()]
	})

	var healthy, degraded []Provider
	for _, p := range ordered {
		if e.health.IsDegraded(ctx, p.Name()) {
			degraded = append(degraded, p)
		} else {
			healthy = append(healthy, p)
		}
	}
	candidates := append(healthy, degraded...)

	if pinned := e.health.Pinned(ctx); pinned != "" {
		for i, p := range candidates {
			if p.Name() == pinned {
				candidates = append([]Provider{p}, append(candidates[:i:i], candidates[i+1:]...)...)
				break
			}
		}
	}
	return candidates
}

// Get returns the registered provider with the given name
func (e *Engine) Get(name string) (Provider, error) {
	for _, p := range e.providers {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
}

// Pin routes all subsequent generations through the named provider
func (e *Engine) Pin(ctx context.Context, name string) error {
	if _, err := e.Get(name); err != nil {
		return err
	}
	return e.health.Pin(ctx, name)
}

// Unpin restores priority-and-health based selection
func (e *Engine) Unpin(ctx context.Context) error {
	return e.health.Unpin(ctx)
}

// Status describes one provider for the status endpoints
type Status struct {
	Name     string `json:"name"`
	Model    string `json:"model"`
	Degraded bool   `json:"degraded"`
	Failures int    `json:"failures"`
	Pinned   bool   `json:"pinned"`
}

// Statuses reports the health view of every registered provider
func (e *Engine) Statuses(ctx context.Context) []Status {
	pinned := e.health.Pinned(ctx)
	statuses := make([]Status, 0, len(e.providers))
	for _, p := range e.providers {
		statuses = append(statuses, Status{
			Name:     p.Name(),
			Model:    p.Model(),
			Degraded: e.health.IsDegraded(ctx, p.Name()),
			Failures: e.health.Failures(ctx, p.Name()),
			Pinned:   p.Name() == pinned,
		})
	}
	return statuses
}

// Probe sends a minimal request through the named provider and reports
// whether it answered. Used by the admin test endpoint.
func (e *Engine) Probe(ctx context.Context, name string) (time.Duration, error) {
	p, err := e.Get(name)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	chunks, err := p.Stream(ctx, ChatRequest{
		Messages:  []ChatMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 5,
	})
	if err != nil {
		e.health.RecordFailure(ctx, name)
		return time.Since(start), err
	}
	for chunk := range chunks {
		if chunk.Err != nil {
			e.health.RecordFailure(ctx, name)
			return time.Since(start), chunk.Err
		}
	}
	e.health.RecordSuccess(ctx, name)
	return time.Since(start), nil
}

// Generate runs one completion, failing over across candidates until the
// retry budget is spent. onProvider is invoked with the provider actually
// serving the stream, before its first fragment is forwarded. Fragments are
// relayed to out; Generate reports how the attempt ended.
//
// A stream that dies after emitting content is not retried: the fragments are
// already on the wire, and replaying them through another provider would
// duplicate text.
func (e *Engine) Generate(ctx context.Context, req ChatRequest, onProvider func(Provider), out chan<- Chunk) (string, error) {
	candidates := e.Candidates(ctx)
	if len(candidates) == 0 {
		return "", ErrNoProviders
	}

	attempts := e.retryBudget + 1
	if attempts > len(candidates) {
		attempts = len(candidates)
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		p := candidates[i]
		if i > 0 {
			metrics.ProviderFailovers.Inc()
			e.log.Info("failing over to next provider",
				"provider", p.Name(),
				"attempt", i+1,
			)
		}

		emitted, err := e.attempt(ctx, p, req, onProvider, out)
		if err == nil {
			e.health.RecordSuccess(ctx, p.Name())
			return p.Name(), nil
		}

		lastErr = err
		e.health.RecordFailure(ctx, p.Name())
		metrics.ProviderFailures.WithLabelValues(p.Name()).Inc()
		e.log.Warn("provider attempt failed",
			"provider", p.Name(),
			"error", err.Error(),
		)

		if IsFatal(err) || emitted || ctx.Err() != nil {
			return p.Name(), err
		}
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
	}
	return "", ErrAllProvidersFailed
}

// attempt runs the request against one provider, forwarding fragments to out.
// It reports whether any content reached out before the attempt ended.
func (e *Engine) attempt(ctx context.Context, p Provider, req ChatRequest, onProvider func(Provider), out chan<- Chunk) (bool, error) {
	start := time.Now()
	chunks, err := p.Stream(ctx, req)
	if err != nil {
		return false, err
	}

	notified := false
	emitted := false
	for chunk := range chunks {
		if chunk.Err != nil {
			return emitted, chunk.Err
		}
		if chunk.Done {
			break
		}
		if !notified {
			onProvider(p)
			notified = true
		}
		select {
		case out <- Chunk{Content: chunk.Content}:
			emitted = true
		case <-ctx.Done():
			return emitted, ctx.Err()
		}
	}

	// A cancelled provider may close its channel without a terminal chunk
	if ctx.Err() != nil {
		return emitted, ctx.Err()
	}
	if !emitted {
		return false, fmt.Errorf("llm: %s: stream produced no content", p.Name())
	}
	metrics.StreamDuration.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
	return true, nil
}
