package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spb722/ai-companion/pkg/kv"
	"github.com/spb722/ai-companion/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider scripts one provider's behavior per attempt
type fakeProvider struct {
	name      string
	fragments []string
	dialErr   error
	failAfter int // emit this many fragments, then error (-1 = never)
	calls     atomic.Int32
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return f.name + "-model" }

func (f *fakeProvider) Stream(ctx context.Context, _ ChatRequest) (<-chan Chunk, error) {
	f.calls.Add(1)
	if f.dialErr != nil {
		return nil, f.dialErr
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		for i, frag := range f.fragments {
			if f.failAfter >= 0 && i == f.failAfter {
				out <- Chunk{Err: errors.New("stream interrupted")}
				return
			}
			select {
			case out <- Chunk{Content: frag}:
			case <-ctx.Done():
				out <- Chunk{Err: ctx.Err()}
				return
			}
		}
		out <- Chunk{Done: true}
	}()
	return out, nil
}

func healthy(name string, fragments ...string) *fakeProvider {
	return &fakeProvider{name: name, fragments: fragments, failAfter: -1}
}

func newEngine(t *testing.T, store kv.Store, retryBudget int, providers ...Provider) *Engine {
	t.Helper()
	priorities := make(map[string]int, len(providers))
	for i, p := range providers {
		priorities[p.Name()] = i + 1
	}
	health := NewHealth(store, 3, 2*time.Minute)
	return NewEngine(providers, priorities, health, retryBudget, logger.New(logger.Config{Level: "error"}))
}

// generate runs Generate with a collector on the output channel
func generate(t *testing.T, e *Engine, ctx context.Context) (provider string, text string, started []string, err error) {
	t.Helper()
	out := make(chan Chunk, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for c := range out {
			text += c.Content
		}
	}()

	provider, err = e.Generate(ctx, ChatRequest{
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	}, func(p Provider) {
		started = append(started, p.Name())
	}, out)
	close(out)
	<-done
	return provider, text, started, err
}

func TestGenerateUsesPrimary(t *testing.T) {
	primary := healthy("groq", "Hello", ", world")
	fallback := healthy("openai", "unused")
	e := newEngine(t, kv.NewMemoryStore(), 2, primary, fallback)

	provider, text, started, err := generate(t, e, context.Background())
	require.NoError(t, err)
	assert.Equal(t, "groq", provider)
	assert.Equal(t, "Hello, world", text)
	assert.Equal(t, []string{"groq"}, started)
	assert.Equal(t, int32(0), fallback.calls.Load())
}

func TestFailoverToFallbackBeforeContent(t *testing.T) {
	primary := &fakeProvider{name: "groq", dialErr: errors.New("connect timeout")}
	fallback := healthy("openai", "Hi there")
	e := newEngine(t, kv.NewMemoryStore(), 2, primary, fallback)

	provider, text, started, err := generate(t, e, context.Background())
	require.NoError(t, err)
	assert.Equal(t, "openai", provider, "the reply must be tagged with the serving provider")
	assert.Equal(t, "Hi there", text)
	assert.Equal(t, []string{"openai"}, started, "only the serving provider announces the turn")
}

func TestFatalErrorStopsFailover(t *testing.T) {
	primary := &fakeProvider{name: "groq", dialErr: &FatalError{Provider: "groq", StatusCode: 401, Message: "bad key"}}
	fallback := healthy("openai", "unused")
	e := newEngine(t, kv.NewMemoryStore(), 2, primary, fallback)

	_, _, _, err := generate(t, e, context.Background())
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, int32(0), fallback.calls.Load(), "a rejected request must not be replayed")
}

func TestNoRetryAfterContentEmitted(t *testing.T) {
	primary := &fakeProvider{name: "groq", fragments: []string{"partial ", "never sent"}, failAfter: 1}
	fallback := healthy("openai", "unused")
	e := newEngine(t, kv.NewMemoryStore(), 2, primary, fallback)

	provider, text, _, err := generate(t, e, context.Background())
	require.Error(t, err)
	assert.Equal(t, "groq", provider)
	assert.Equal(t, "partial ", text)
	assert.Equal(t, int32(0), fallback.calls.Load(), "delivered fragments must not be duplicated elsewhere")
}

func TestAllProvidersFailed(t *testing.T) {
	primary := &fakeProvider{name: "groq", dialErr: errors.New("down")}
	fallback := &fakeProvider{name: "openai", dialErr: errors.New("down too")}
	e := newEngine(t, kv.NewMemoryStore(), 2, primary, fallback)

	_, _, _, err := generate(t, e, context.Background())
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestRetryBudgetBoundsAttempts(t *testing.T) {
	a := &fakeProvider{name: "a", dialErr: errors.New("down")}
	b := &fakeProvider{name: "b", dialErr: errors.New("down")}
	c := &fakeProvider{name: "c", dialErr: errors.New("down")}
	e := newEngine(t, kv.NewMemoryStore(), 1, a, b, c) // budget 1 = two attempts

	_, _, _, err := generate(t, e, context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())
	assert.Equal(t, int32(0), c.calls.Load())
}

func TestDegradedProviderMovesToBack(t *testing.T) {
	store := kv.NewMemoryStore()
	primary := healthy("groq", "hi")
	fallback := healthy("openai", "hi")
	e := newEngine(t, store, 2, primary, fallback)
	ctx := context.Background()

	health := NewHealth(store, 3, 2*time.Minute)
	for i := 0; i < 3; i++ {
		health.RecordFailure(ctx, "groq")
	}

	candidates := e.Candidates(ctx)
	require.Len(t, candidates, 2)
	assert.Equal(t, "openai", candidates[0].Name())
	assert.Equal(t, "groq", candidates[1].Name(), "degraded providers stay available as a last resort")
}

func TestPinOverridesOrdering(t *testing.T) {
	store := kv.NewMemoryStore()
	primary := healthy("groq", "hi")
	fallback := healthy("openai", "pinned reply")
	e := newEngine(t, store, 2, primary, fallback)
	ctx := context.Background()

	require.NoError(t, e.Pin(ctx, "openai"))

	provider, text, _, err := generate(t, e, ctx)
	require.NoError(t, err)
	assert.Equal(t, "openai", provider)
	assert.Equal(t, "pinned reply", text)

	require.NoError(t, e.Unpin(ctx))
	provider, _, _, err = generate(t, e, ctx)
	require.NoError(t, err)
	assert.Equal(t, "groq", provider)
}

func TestPinUnknownProvider(t *testing.T) {
	e := newEngine(t, kv.NewMemoryStore(), 2, healthy("groq", "hi"))
	err := e.Pin(context.Background(), "mistral")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestHealthRecovery(t *testing.T) {
	store := kv.NewMemoryStore()
	health := NewHealth(store, 3, 2*time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		health.RecordFailure(ctx, "groq")
	}
	assert.True(t, health.IsDegraded(ctx, "groq"))

	health.RecordSuccess(ctx, "groq")
	assert.False(t, health.IsDegraded(ctx, "groq"))
	assert.Equal(t, 0, health.Failures(ctx, "groq"))
}

func TestHealthCooldownExpires(t *testing.T) {
	store := kv.NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	health := NewHealth(store, 3, 2*time.Minute)
	health.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		health.RecordFailure(ctx, "groq")
	}
	require.True(t, health.IsDegraded(ctx, "groq"))

	now = now.Add(3 * time.Minute)
	assert.False(t, health.IsDegraded(ctx, "groq"), "a quiet provider recovers after the cooldown")
}

func TestStatusesReportPinAndHealth(t *testing.T) {
	store := kv.NewMemoryStore()
	e := newEngine(t, store, 2, healthy("groq", "hi"), healthy("openai", "hi"))
	ctx := context.Background()
	require.NoError(t, e.Pin(ctx, "openai"))

	statuses := e.Statuses(ctx)
	require.Len(t, statuses, 2)
	byName := map[string]Status{}
	for _, s := range statuses {
		byName[s.Name] = s
	}
	assert.True(t, byName["openai"].Pinned)
	assert.False(t, byName["groq"].Pinned)
	assert.Equal(t, "groq-model", byName["groq"].Model)
}
