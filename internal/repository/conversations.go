package repository

import (
	"context"
	"errors"

	"github.com/spb722/ai-companion/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepository handles persistence for conversations and messages
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// GetOrCreate returns the conversation for a (user, character) pair,
// creating it on first contact. The unique index on the pair makes the
// create race-safe; a conflicting insert falls through to the fetch.
func (r *ConversationRepository) GetOrCreate(ctx context.Context, userID, characterID uint) (*models.Conversation, error) {
	conv := models.Conversation{UserID: userID, CharacterID: characterID}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&conv).Error
	if err != nil {
		return nil, err
	}
	if conv.ID != 0 {
		return &conv, nil
	}

	err = r.db.WithContext(ctx).
		Where("user_id = ? AND character_id = ?", userID, characterID).
		First(&conv).Error
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// GetByID fetches a conversation by primary key
func (r *ConversationRepository) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).First(&conv, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// AppendMessage inserts a message and rolls the conversation's stats forward
// in the same transaction
func (r *ConversationRepository) AppendMessage(ctx context.Context, msg *models.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Updates(map[string]any{
				"last_message_at": msg.CreatedAt,
				"message_count":   gorm.Expr("message_count + 1"),
			}).Error
	})
}

// RecentMessages returns the latest limit messages of a conversation in
// chronological order
func (r *ConversationRepository) RecentMessages(ctx context.Context, conversationID uint, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id desc").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	// Reverse into oldest-first order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// ListMessages returns a page of messages for the history endpoint,
// oldest first
func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID uint, limit, offset int) ([]models.Message, int64, error) {
	var total int64
	q := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ?", conversationID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id asc").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}
