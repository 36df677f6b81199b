package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Message sender roles
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Conversation groups the messages between one user and one character.
// Each (user, character) pair has at most one conversation. LastMessageAt and
// MessageCount are maintained on every append.
type Conversation struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"uniqueIndex:idx_user_character;not null" json:"user_id"`
	CharacterID   uint      `gorm:"uniqueIndex:idx_user_character;not null" json:"character_id"`
	User          User      `gorm:"foreignKey:UserID" json:"-"`
	Character     Character `gorm:"foreignKey:CharacterID" json:"-"`
	StartedAt     time.Time `gorm:"autoCreateTime" json:"started_at"`
	LastMessageAt time.Time `json:"last_message_at"`
	MessageCount  int64     `gorm:"not null;default:0" json:"message_count"`
}

// Message is a single utterance within a conversation. Messages are
// append-only; they are never updated or deleted once written.
type Message struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	ExternalID     string       `gorm:"uniqueIndex;not null" json:"external_id"`
	ConversationID uint         `gorm:"index;not null" json:"conversation_id"`
	Conversation   Conversation `gorm:"foreignKey:ConversationID" json:"-"`
	Sender         string       `gorm:"not null" json:"sender"`
	Content        string       `gorm:"type:text;not null" json:"content"`
	Provider       string       `json:"provider,omitempty"`
	TokenEstimate  int          `json:"token_estimate,omitempty"`
	CreatedAt      time.Time    `gorm:"index" json:"created_at"`
}

// BeforeCreate assigns a stable external identifier before insert
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ExternalID == "" {
		m.ExternalID = uuid.NewString()
	}
	return nil
}

// MessageResponse is the wire shape of a persisted message
type MessageResponse struct {
	ID             string    `json:"id"`
	ConversationID uint      `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	Provider       string    `json:"provider,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ToResponse converts a Message model to a MessageResponse
func (m *Message) ToResponse() MessageResponse {
	return MessageResponse{
		ID:             m.ExternalID,
		ConversationID: m.ConversationID,
		Sender:         m.Sender,
		Content:        m.Content,
		Provider:       m.Provider,
		CreatedAt:      m.CreatedAt,
	}
}
