// Package chat orchestrates one conversation turn: admission, character
// resolution, context assembly, provider dispatch with failover, and
// persistence of the exchange.
package chat

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spb722/ai-companion/internal/history"
	"github.com/spb722/ai-companion/internal/llm"
	"github.com/spb722/ai-companion/internal/models"
	"github.com/spb722/ai-companion/internal/prompt"
	"github.com/spb722/ai-companion/internal/quota"
	"github.com/spb722/ai-companion/internal/repository"
	"github.com/spb722/ai-companion/pkg/errors"
	"github.com/spb722/ai-companion/pkg/kv"
	"github.com/spb722/ai-companion/pkg/logger"
	"github.com/spb722/ai-companion/pkg/metrics"
)

// maxMessageRunes caps the length of an incoming user message
const maxMessageRunes = 2000

// selectionTTL is how long a user's character choice is remembered in the
// store before falling back to the database default.
const selectionTTL = 24 * time.Hour

// SendRequest is one incoming chat turn. Stream defaults to true; a client
// that wants the buffered JSON response sets it to false.
type SendRequest struct {
	Message     string `json:"message" binding:"required"`
	CharacterID uint   `json:"character_id,omitempty"`
	Language    string `json:"language,omitempty"`
	Stream      *bool  `json:"stream,omitempty"`
}

// CharacterSource is the slice of the character repository the service needs
type CharacterSource interface {
	GetByID(ctx context.Context, id uint) (*models.Character, error)
	ListActive(ctx context.Context) ([]models.Character, error)
}

// ConversationSource is the slice of the conversation repository the service
// needs
type ConversationSource interface {
	GetOrCreate(ctx context.Context, userID, characterID uint) (*models.Conversation, error)
	GetByID(ctx context.Context, id uint) (*models.Conversation, error)
	ListMessages(ctx context.Context, conversationID uint, limit, offset int) ([]models.Message, int64, error)
}

// Service runs the chat turn lifecycle
type Service struct {
	store      kv.Store
	characters CharacterSource
	convs      ConversationSource
	cache      *history.Cache
	quota      *quota.Tracker
	engine     *llm.Engine
	builder    *prompt.Builder
	log        *logger.Logger
}

// NewService creates the chat orchestrator
func NewService(
	store kv.Store,
	characters CharacterSource,
	convs ConversationSource,
	cache *history.Cache,
	tracker *quota.Tracker,
	engine *llm.Engine,
	builder *prompt.Builder,
	log *logger.Logger,
) *Service {
	return &Service{
		store:      store,
		characters: characters,
		convs:      convs,
		cache:      cache,
		quota:      tracker,
		engine:     engine,
		builder:    builder,
		log:        log,
	}
}

func selectionKey(userID uint) string {
	return fmt.Sprintf("user:%d:character", userID)
}

// SelectCharacter records the user's active character choice. Premium
// characters require a paid tier.
func (s *Service) SelectCharacter(ctx context.Context, user *models.User, characterID uint) (*models.Character, error) {
	character, err := s.characters.GetByID(ctx, characterID)
	if stderrors.Is(err, repository.ErrNotFound) {
		return nil, errors.NewNotFoundError(errors.CodeCharacterNotFound, "Character not found.")
	}
	if err != nil {
		return nil, err
	}
	if character.IsPremium && !user.IsPremium() {
		return nil, errors.NewForbiddenError(errors.CodePremiumRequired,
			"This character requires a paid subscription.")
	}

	if err := s.store.Set(ctx, selectionKey(user.ID), strconv.FormatUint(uint64(characterID), 10), selectionTTL); err != nil {
		s.log.Warn("character selection cache write failed", "user_id", user.ID, "error", err.Error())
	}
	return character, nil
}

// resolveCharacter picks the character for a turn: an explicit request wins,
// then the remembered selection, then the first active character.
func (s *Service) resolveCharacter(ctx context.Context, user *models.User, explicitID uint) (*models.Character, error) {
	if explicitID != 0 {
		return s.SelectCharacter(ctx, user, explicitID)
	}

	if raw, err := s.store.Get(ctx, selectionKey(user.ID)); err == nil {
		if id, parseErr := strconv.ParseUint(raw, 10, 64); parseErr == nil {
			character, getErr := s.characters.GetByID(ctx, uint(id))
			if getErr == nil {
				return character, nil
			}
			// Selection points at a removed character; forget it
			_ = s.store.Del(ctx, selectionKey(user.ID))
		}
	}

	active, err := s.characters.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	for i := range active {
		if !active[i].IsPremium || user.IsPremium() {
			return &active[i], nil
		}
	}
	return nil, errors.NewNotFoundError(errors.CodeCharacterNotFound, "No character is available.")
}

// Send runs one turn and returns its event stream. A non-nil error means the
// turn was rejected before dispatch and nothing was consumed or persisted
// beyond what the error describes. Once the channel is returned, all further
// outcomes arrive as events; the channel is closed after the terminal event.
func (s *Service) Send(ctx context.Context, user *models.User, req SendRequest) (<-chan Event, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, errors.NewBadRequestError(errors.CodeInvalidMessage, "Message must not be empty.")
	}
	if utf8.RuneCountInString(message) > maxMessageRunes {
		return nil, errors.NewBadRequestError(errors.CodeInvalidMessage,
			fmt.Sprintf("Message exceeds the %d character limit.", maxMessageRunes))
	}

	character, err := s.resolveCharacter(ctx, user, req.CharacterID)
	if err != nil {
		return nil, err
	}

	conv, err := s.convs.GetOrCreate(ctx, user.ID, character.ID)
	if err != nil {
		return nil, fmt.Errorf("chat: open conversation: %w", err)
	}

	// The quota spend happens exactly once per turn, before dispatch.
	// Provider retries inside the engine never charge again.
	info, err := s.quota.Consume(ctx, user.ID, user.SubscriptionTier)
	if err != nil {
		if stderrors.Is(err, quota.ErrExceeded) {
			metrics.QuotaRejections.WithLabelValues(info.Tier).Inc()
			return nil, errors.NewQuotaExceededError(info.Tier, info.Limit, info.Used)
		}
		return nil, fmt.Errorf("chat: consume quota: %w", err)
	}

	window, err := s.cache.Get(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("chat: load context: %w", err)
	}

	language := req.Language
	if language == "" {
		language = user.PreferredLanguage
	}
	llmReq := s.builder.Build(character, window, language, message)

	userMsg := &models.Message{
		ConversationID: conv.ID,
		Sender:         models.SenderUser,
		Content:        message,
		TokenEstimate:  history.EstimateTokens(message),
	}
	if err := s.cache.Append(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("chat: persist user message: %w", err)
	}

	events := make(chan Event, 32)
	go s.run(ctx, conv, character, llmReq, events)
	return events, nil
}

// run drives the generation and emits the turn's events. It owns the events
// channel and closes it after the terminal event.
func (s *Service) run(ctx context.Context, conv *models.Conversation, character *models.Character, req llm.ChatRequest, events chan<- Event) {
	defer close(events)

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	started := time.Now()
	estimated := prompt.EstimateTokens(req)

	chunks := make(chan llm.Chunk, 32)
	var full strings.Builder
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for chunk := range chunks {
			full.WriteString(chunk.Content)
			if !emit(contentEvent(chunk.Content)) {
				// Client is gone; keep draining so the engine can finish
				for range chunks {
				}
				return
			}
		}
	}()

	provider, err := s.engine.Generate(ctx, req, func(p llm.Provider) {
		emit(startEvent(conv.ID, CharacterMeta{ID: character.ID, Name: character.Name}, p.Name(), estimated))
	}, chunks)
	close(chunks)
	<-forwarded

	if ctx.Err() != nil {
		// Disconnected mid-stream: the partial reply is discarded, not
		// persisted, so history only ever contains complete exchanges.
		metrics.ChatRequests.WithLabelValues("disconnected").Inc()
		s.log.Info("client disconnected mid-stream",
			"conversation_id", conv.ID,
			"partial_length", full.Len(),
		)
		return
	}

	if err != nil {
		metrics.ChatRequests.WithLabelValues("failed").Inc()
		s.log.LogError(err, "generation failed",
			"conversation_id", conv.ID,
			"provider", provider,
		)
		emit(errorEvent(errors.CodeServiceUnavailable,
			"AI service is currently unavailable. Please try again later."))
		return
	}

	reply := full.String()
	assistantMsg := &models.Message{
		ConversationID: conv.ID,
		Sender:         models.SenderAssistant,
		Content:        reply,
		Provider:       provider,
		TokenEstimate:  history.EstimateTokens(reply),
	}
	// Persistence runs on a fresh context so a disconnect between the last
	// fragment and the write cannot lose a fully delivered reply.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.cache.Append(persistCtx, assistantMsg); err != nil {
		metrics.ChatRequests.WithLabelValues("persist_failed").Inc()
		s.log.LogError(err, "assistant message persist failed", "conversation_id", conv.ID)
		emit(errorEvent(errors.CodeInternal, "Failed to record the reply."))
		return
	}

	metrics.ChatRequests.WithLabelValues("success").Inc()
	emit(completeEvent(assistantMsg.ExternalID, provider, time.Since(started), utf8.RuneCountInString(reply)))
	emit(endEvent())
}

// HistoryPage is one page of a conversation's messages plus the
// conversation's running stats
type HistoryPage struct {
	ConversationID uint                     `json:"conversation_id"`
	StartedAt      time.Time                `json:"started_at"`
	LastMessageAt  time.Time                `json:"last_message_at"`
	MessageCount   int64                    `json:"message_count"`
	Messages       []models.MessageResponse `json:"messages"`
	Total          int64                    `json:"total"`
}

// History returns a page of a conversation's messages for the history
// endpoint. The conversation must belong to the requesting user.
func (s *Service) History(ctx context.Context, user *models.User, conversationID uint, limit, offset int) (*HistoryPage, error) {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if stderrors.Is(err, repository.ErrNotFound) {
		return nil, errors.NewNotFoundError(errors.CodeConversationNotFound, "Conversation not found.")
	}
	if err != nil {
		return nil, err
	}
	if conv.UserID != user.ID {
		return nil, errors.NewNotFoundError(errors.CodeConversationNotFound, "Conversation not found.")
	}

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	messages, total, err := s.convs.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, err
	}

	out := make([]models.MessageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ToResponse())
	}
	return &HistoryPage{
		ConversationID: conv.ID,
		StartedAt:      conv.StartedAt,
		LastMessageAt:  conv.LastMessageAt,
		MessageCount:   conv.MessageCount,
		Messages:       out,
		Total:          total,
	}, nil
}
