package models

import (
	"time"
)

// Character represents an AI persona users can chat with
type Character struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"not null" json:"name"`
	Description     string    `json:"description"`
	PersonalityType string    `gorm:"index" json:"personality_type"`
	BasePrompt      string    `gorm:"type:text" json:"-"` // Prompt material stays server-side
	AvatarURL       string    `json:"avatar_url,omitempty"`
	IsPremium       bool      `gorm:"default:false" json:"is_premium"`
	IsActive        bool      `gorm:"default:true" json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CharacterResponse is the public view of a character
type CharacterResponse struct {
	ID              uint   `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	PersonalityType string `json:"personality_type"`
	AvatarURL       string `json:"avatar_url,omitempty"`
	IsPremium       bool   `json:"is_premium"`
}

// ToResponse converts a Character model to a CharacterResponse
func (c *Character) ToResponse() CharacterResponse {
	return CharacterResponse{
		ID:              c.ID,
		Name:            c.Name,
		Description:     c.Description,
		PersonalityType: c.PersonalityType,
		AvatarURL:       c.AvatarURL,
		IsPremium:       c.IsPremium,
	}
}
