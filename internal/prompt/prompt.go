// Package prompt assembles the system prompt and message list sent to a
// provider for one conversation turn.
package prompt

import (
	"fmt"
	"strings"

	"github.com/spb722/ai-companion/internal/history"
	"github.com/spb722/ai-companion/internal/llm"
	"github.com/spb722/ai-companion/internal/models"
)

// fallbackPrompt keeps the companion usable when a character has no prompt
// material configured.
const fallbackPrompt = "You are a warm, attentive companion. Keep replies short, natural and in character."

var languageNames = map[string]string{
	"en": "English",
	"hi": "Hindi",
	"ta": "Tamil",
}

// Builder turns a character, a context window and the incoming message into a
// provider request.
type Builder struct {
	maxTokens   int
	temperature float64
}

// NewBuilder creates a prompt builder. maxTokens caps the completion length
// requested from providers.
func NewBuilder(maxTokens int) *Builder {
	return &Builder{maxTokens: maxTokens, temperature: 0.8}
}

// System renders the system prompt for a character and reply language
func (b *Builder) System(character *models.Character, language string) string {
	base := strings.TrimSpace(character.BasePrompt)
	if base == "" {
		base = fallbackPrompt
	}

	var sb strings.Builder
	sb.WriteString(base)
	fmt.Fprintf(&sb, "\n\nYou are %s.", character.Name)
	if character.PersonalityType != "" {
		fmt.Fprintf(&sb, " Your personality is %s.", character.PersonalityType)
	}
	if name, ok := languageNames[language]; ok && language != "en" {
		fmt.Fprintf(&sb, " Reply in %s.", name)
	}
	return sb.String()
}

// Build produces the full provider request for one turn: system prompt,
// context window, then the new user message.
func (b *Builder) Build(character *models.Character, window []history.Entry, language, userMessage string) llm.ChatRequest {
	messages := make([]llm.ChatMessage, 0, len(window)+2)
	messages = append(messages, llm.ChatMessage{Role: "system", Content: b.System(character, language)})
	for _, e := range window {
		messages = append(messages, llm.ChatMessage{Role: e.Role, Content: e.Content})
	}
	messages = append(messages, llm.ChatMessage{Role: models.SenderUser, Content: userMessage})

	return llm.ChatRequest{
		Messages:    messages,
		MaxTokens:   b.maxTokens,
		Temperature: b.temperature,
	}
}

// EstimateTokens reports the approximate prompt cost of a request
func EstimateTokens(req llm.ChatRequest) int {
	total := 0
	for _, m := range req.Messages {
		total += history.EstimateTokens(m.Content)
	}
	return total
}
