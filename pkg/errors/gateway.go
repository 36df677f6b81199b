package errors

import "fmt"

// Error codes shared across the gateway surfaces.
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeInvalidMessage       = "INVALID_MESSAGE"
	CodeAuthRequired         = "AUTH_REQUIRED"
	CodeInvalidToken         = "INVALID_TOKEN"
	CodeTokenExpired         = "TOKEN_EXPIRED"
	CodePremiumRequired      = "PREMIUM_REQUIRED"
	CodeCharacterNotFound    = "CHARACTER_NOT_FOUND"
	CodeConversationNotFound = "CONVERSATION_NOT_FOUND"
	CodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	CodeQuotaExceeded        = "QUOTA_EXCEEDED"
	CodeServiceUnavailable   = "SERVICE_UNAVAILABLE"
	CodeInternal             = "INTERNAL_ERROR"
)

// NewRateLimitError creates a 429 carrying the quantified retry-after
func NewRateLimitError(limit int, retryAfterSeconds int) *AppError {
	err := NewTooManyRequestsError(CodeRateLimitExceeded, "Rate limit exceeded. Please try again later.")
	return err.WithDetails(map[string]any{
		"limit":       limit,
		"retry_after": retryAfterSeconds,
	})
}

// NewQuotaExceededError creates a 429 describing the exhausted daily allowance
func NewQuotaExceededError(tier string, limit, used int64) *AppError {
	err := NewTooManyRequestsError(CodeQuotaExceeded,
		fmt.Sprintf("Daily message limit reached for the %s tier.", tier))
	return err.WithDetails(map[string]any{
		"tier":      tier,
		"limit":     limit,
		"used":      used,
		"remaining": int64(0),
	})
}

// NewProviderUnavailableError is returned once every failover candidate is exhausted
func NewProviderUnavailableError() *AppError {
	return NewServiceUnavailableError(CodeServiceUnavailable,
		"AI service is currently unavailable. Please try again later.")
}
