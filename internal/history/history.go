// Package history maintains the working context of a conversation: the recent
// messages fed back to the model on every turn. A cached copy lives in the
// key-value store; the database remains the source of truth, and the cache is
// rebuilt from it on any miss.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spb722/ai-companion/internal/models"
	"github.com/spb722/ai-companion/pkg/kv"
	"github.com/spb722/ai-companion/pkg/logger"
	"github.com/spb722/ai-companion/pkg/metrics"
)

// MessageSource is the slice of the message repository the cache needs
type MessageSource interface {
	AppendMessage(ctx context.Context, msg *models.Message) error
	RecentMessages(ctx context.Context, conversationID uint, limit int) ([]models.Message, error)
}

// perMessageOverhead approximates the tokens a chat API spends on message
// framing beyond the content itself.
const perMessageOverhead = 4

// Entry is one message in the cached context window
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EstimateTokens gives a cheap token count approximation for budgeting.
// Intentionally rough; the budget has headroom for the error.
func EstimateTokens(content string) int {
	return len(content)/4 + perMessageOverhead
}

// Options bound the context window
type Options struct {
	TTL         time.Duration
	TokenBudget int
	MaxMessages int
	Enabled     bool
}

// Cache assembles and maintains conversation context windows
type Cache struct {
	store kv.Store
	repo  MessageSource
	opts  Options
	log   *logger.Logger
}

// NewCache creates a context cache
func NewCache(store kv.Store, repo MessageSource, opts Options, log *logger.Logger) *Cache {
	return &Cache{store: store, repo: repo, opts: opts, log: log}
}

func cacheKey(conversationID uint) string {
	return fmt.Sprintf("conv:%d:ctx", conversationID)
}

// Get returns the context window for a conversation, trimmed to the token
// budget. On a cache miss or a cache failure the window is rebuilt from the
// database; a degraded cache only costs latency, never correctness.
func (c *Cache) Get(ctx context.Context, conversationID uint) ([]Entry, error) {
	if c.opts.Enabled {
		raw, err := c.store.Get(ctx, cacheKey(conversationID))
		if err == nil {
			var entries []Entry
			if jsonErr := json.Unmarshal([]byte(raw), &entries); jsonErr == nil {
				metrics.ContextCacheHits.WithLabelValues("hit").Inc()
				return c.trim(entries), nil
			}
			// Corrupt payload: fall through to rebuild
			c.log.Warn("discarding corrupt context cache entry", "conversation_id", conversationID)
			_ = c.store.Del(ctx, cacheKey(conversationID))
		} else if !errors.Is(err, kv.ErrNotFound) {
			metrics.ContextCacheHits.WithLabelValues("error").Inc()
			c.log.Warn("context cache unavailable, reading from database",
				"conversation_id", conversationID,
				"error", err.Error(),
			)
		} else {
			metrics.ContextCacheHits.WithLabelValues("miss").Inc()
		}
	}

	entries, err := c.rebuild(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return c.trim(entries), nil
}

// Append records one message. The database write comes first; only after it
// succeeds is the cached window updated, so the cache can never hold messages
// the store does not.
func (c *Cache) Append(ctx context.Context, msg *models.Message) error {
	if err := c.repo.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("history: persist message: %w", err)
	}

	if !c.opts.Enabled {
		return nil
	}

	raw, err := c.store.Get(ctx, cacheKey(msg.ConversationID))
	if err != nil {
		// No cached window to extend; the next Get rebuilds it
		return nil
	}
	var entries []Entry
	if jsonErr := json.Unmarshal([]byte(raw), &entries); jsonErr != nil {
		_ = c.store.Del(ctx, cacheKey(msg.ConversationID))
		return nil
	}

	entries = append(entries, Entry{Role: msg.Sender, Content: msg.Content})
	c.put(ctx, msg.ConversationID, c.trim(entries))
	return nil
}

// Invalidate drops the cached window for a conversation
func (c *Cache) Invalidate(ctx context.Context, conversationID uint) error {
	return c.store.Del(ctx, cacheKey(conversationID))
}

func (c *Cache) rebuild(ctx context.Context, conversationID uint) ([]Entry, error) {
	messages, err := c.repo.RecentMessages(ctx, conversationID, c.opts.MaxMessages)
	if err != nil {
		return nil, fmt.Errorf("history: rebuild context: %w", err)
	}

	entries := make([]Entry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, Entry{Role: m.Sender, Content: m.Content})
	}

	if c.opts.Enabled {
		c.put(ctx, conversationID, entries)
	}
	return entries, nil
}

func (c *Cache) put(ctx context.Context, conversationID uint, entries []Entry) {
	payload, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, cacheKey(conversationID), string(payload), c.opts.TTL); err != nil {
		c.log.Warn("context cache write failed",
			"conversation_id", conversationID,
			"error", err.Error(),
		)
	}
}

// trim drops the oldest entries until the window fits both the message cap
// and the token budget. The most recent exchange is always retained even when
// it alone exceeds the budget.
func (c *Cache) trim(entries []Entry) []Entry {
	if c.opts.MaxMessages > 0 && len(entries) > c.opts.MaxMessages {
		entries = entries[len(entries)-c.opts.MaxMessages:]
	}
	if c.opts.TokenBudget <= 0 {
		return entries
	}

	total := 0
	for _, e := range entries {
		total += EstimateTokens(e.Content)
	}
	for total > c.opts.TokenBudget && len(entries) > 2 {
		total -= EstimateTokens(entries[0].Content)
		entries = entries[1:]
	}
	return entries
}

// Tokens reports the estimated token cost of a window
func Tokens(entries []Entry) int {
	total := 0
	for _, e := range entries {
		total += EstimateTokens(e.Content)
	}
	return total
}
