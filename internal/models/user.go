package models

import (
	"time"

	"github.com/spb722/ai-companion/pkg/jwt"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Subscription tiers
const (
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// User represents a user in the system
type User struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Email             string    `gorm:"uniqueIndex" json:"email"`
	Password          string    `json:"-"` // Never return password in JSON
	Role              string    `json:"role" gorm:"default:user"`
	SubscriptionTier  string    `json:"subscription_tier" gorm:"default:free;index"`
	PreferredLanguage string    `json:"preferred_language" gorm:"default:en"`
	LastLogin         time.Time `json:"last_login,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsPremium reports whether the user is on a paid tier
func (u *User) IsPremium() bool {
	return u.SubscriptionTier == TierPro || u.SubscriptionTier == TierEnterprise
}

// CreateUserRequest is the request structure for creating a new user
type CreateUserRequest struct {
	Email             string `json:"email" binding:"required,email"`
	Password          string `json:"password" binding:"required,min=8"`
	PreferredLanguage string `json:"preferred_language,omitempty"`
}

// LoginRequest is the request structure for user login
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// UserResponse is the response structure for user data (without sensitive info)
type UserResponse struct {
	ID                uint      `json:"id"`
	Email             string    `json:"email"`
	Role              string    `json:"role"`
	SubscriptionTier  string    `json:"subscription_tier"`
	PreferredLanguage string    `json:"preferred_language"`
	CreatedAt         time.Time `json:"created_at"`
}

// HashPassword hashes a password for storage
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPasswordHash compares a password with a hash
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// BeforeCreate is a GORM hook to hash the password before saving
func (u *User) BeforeCreate(tx *gorm.DB) error {
	hashedPassword, err := HashPassword(u.Password)
	if err != nil {
		return err
	}
	u.Password = hashedPassword

	if u.Role == "" {
		u.Role = string(jwt.RoleUser)
	}
	if u.SubscriptionTier == "" {
		u.SubscriptionTier = TierFree
	}
	if u.PreferredLanguage == "" {
		u.PreferredLanguage = "en"
	}

	return nil
}

// ToResponse converts a User model to a UserResponse
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:                u.ID,
		Email:             u.Email,
		Role:              u.Role,
		SubscriptionTier:  u.SubscriptionTier,
		PreferredLanguage: u.PreferredLanguage,
		CreatedAt:         u.CreatedAt,
	}
}
