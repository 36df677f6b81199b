package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse battery staple", hash)

	assert.True(t, CheckPasswordHash("correct horse battery staple", hash))
	assert.False(t, CheckPasswordHash("wrong password", hash))
}

func TestIsPremium(t *testing.T) {
	assert.False(t, (&User{SubscriptionTier: TierFree}).IsPremium())
	assert.True(t, (&User{SubscriptionTier: TierPro}).IsPremium())
	assert.True(t, (&User{SubscriptionTier: TierEnterprise}).IsPremium())
}

func TestUserResponseOmitsPassword(t *testing.T) {
	u := &User{ID: 1, Email: "u@example.com", Password: "hashed", SubscriptionTier: TierFree}
	resp := u.ToResponse()
	assert.Equal(t, u.Email, resp.Email)
	assert.Equal(t, u.SubscriptionTier, resp.SubscriptionTier)
}
