package prompt

import (
	"strings"
	"testing"

	"github.com/spb722/ai-companion/internal/history"
	"github.com/spb722/ai-companion/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemPromptIncludesPersona(t *testing.T) {
	b := NewBuilder(500)
	character := &models.Character{
		Name:            "Maya",
		PersonalityType: "caring",
		BasePrompt:      "You are a thoughtful companion.",
	}

	system := b.System(character, "en")
	assert.Contains(t, system, "You are a thoughtful companion.")
	assert.Contains(t, system, "Maya")
	assert.Contains(t, system, "caring")
	assert.NotContains(t, system, "Reply in", "no language directive for the default language")
}

func TestSystemPromptFallsBackWhenUnconfigured(t *testing.T) {
	b := NewBuilder(500)
	system := b.System(&models.Character{Name: "Maya"}, "en")
	assert.Contains(t, system, "companion", "an empty base prompt still yields a usable persona")
}

func TestSystemPromptLanguageDirective(t *testing.T) {
	b := NewBuilder(500)
	character := &models.Character{Name: "Maya", BasePrompt: "Base."}

	assert.Contains(t, b.System(character, "hi"), "Reply in Hindi.")
	assert.Contains(t, b.System(character, "ta"), "Reply in Tamil.")
	assert.NotContains(t, b.System(character, "fr"), "Reply in", "unknown languages fall back silently")
}

func TestBuildOrdersMessages(t *testing.T) {
	b := NewBuilder(500)
	character := &models.Character{Name: "Maya", BasePrompt: "Base."}
	window := []history.Entry{
		{Role: models.SenderUser, Content: "earlier question"},
		{Role: models.SenderAssistant, Content: "earlier answer"},
	}

	req := b.Build(character, window, "en", "new question")
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "earlier question", req.Messages[1].Content)
	assert.Equal(t, "earlier answer", req.Messages[2].Content)
	assert.Equal(t, models.SenderUser, req.Messages[3].Role)
	assert.Equal(t, "new question", req.Messages[3].Content)
	assert.Equal(t, 500, req.MaxTokens)
}

func TestEstimateTokensGrowsWithContent(t *testing.T) {
	b := NewBuilder(500)
	character := &models.Character{Name: "Maya", BasePrompt: "Base."}

	small := EstimateTokens(b.Build(character, nil, "en", "hi"))
	large := EstimateTokens(b.Build(character, nil, "en", strings.Repeat("long message ", 100)))
	assert.Greater(t, large, small)
	assert.Greater(t, small, 0)
}
