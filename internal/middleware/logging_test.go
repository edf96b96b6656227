package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"company-qa-go/pkg/log"
)

func captureLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	t.Cleanup(log.Replace(zap.New(core)))
	return logs
}

func TestRequestLoggerCapturesBodies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logs := captureLogs(t)

	var seen string
	r := gin.New()
	r.Use(RequestLogger())
	r.POST("/api/chat", func(c *gin.Context) {
		var body struct {
			Query string `json:"query"`
		}
		require.NoError(t, c.ShouldBindJSON(&body))
		seen = body.Query
		c.JSON(http.StatusOK, gin.H{"answer": "ok"})
	})

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"query":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "hi", seen, "body is still readable by the handler")
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, int64(http.StatusOK), fields["statusCode"])
	assert.Equal(t, `{"query":"hi"}`, fields["requestBody"])
	assert.Equal(t, `{"answer":"ok"}`, fields["responseBody"])
}

func TestRequestLoggerSkipsStreamingResponses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logs := captureLogs(t)

	r := gin.New()
	r.Use(RequestLogger())
	r.POST("/api/chat/stream", func(c *gin.Context) {
		c.String(http.StatusOK, "data: {}\n\n")
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{}`)))

	require.Equal(t, 1, logs.Len())
	_, ok := logs.All()[0].ContextMap()["responseBody"]
	assert.False(t, ok)
}

func TestClip(t *testing.T) {
	long := strings.Repeat("a", maxLoggedBody+10)
	assert.Len(t, clip([]byte(long)), maxLoggedBody+3)
	assert.Equal(t, "short", clip([]byte("short")))
}
