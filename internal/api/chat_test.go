package api

import (
	"net/http/httptest"
	"testing"

	"github.com/spb722/ai-companion/internal/chat"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func streamContext(t *testing.T, target, accept string) *gin.Context {
	t.Helper()
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", target, nil)
	if accept != "" {
		c.Request.Header.Set("Accept", accept)
	}
	return c
}

func boolPtr(v bool) *bool { return &v }

func TestWantsStreamDefaultsToStreaming(t *testing.T) {
	c := streamContext(t, "/api/v1/chat/send", "")
	assert.True(t, wantsStream(c, chat.SendRequest{}))
}

func TestWantsStreamBodyFlagWins(t *testing.T) {
	c := streamContext(t, "/api/v1/chat/send", "text/event-stream")
	assert.False(t, wantsStream(c, chat.SendRequest{Stream: boolPtr(false)}),
		"the body flag overrides the Accept header")

	c = streamContext(t, "/api/v1/chat/send?stream=false", "application/json")
	assert.True(t, wantsStream(c, chat.SendRequest{Stream: boolPtr(true)}),
		"the body flag overrides the query parameter")
}

func TestWantsStreamQueryAndAcceptFallbacks(t *testing.T) {
	c := streamContext(t, "/api/v1/chat/send?stream=false", "")
	assert.False(t, wantsStream(c, chat.SendRequest{}))

	c = streamContext(t, "/api/v1/chat/send?stream=true", "application/json")
	assert.True(t, wantsStream(c, chat.SendRequest{}))

	c = streamContext(t, "/api/v1/chat/send", "application/json")
	assert.False(t, wantsStream(c, chat.SendRequest{}), "a JSON-only client gets the buffered reply")

	c = streamContext(t, "/api/v1/chat/send", "text/event-stream")
	assert.True(t, wantsStream(c, chat.SendRequest{}))
}
