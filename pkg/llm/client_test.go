package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"company-qa-go/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClientWithHTTP(config.LLMConfig{
		APIKey:     "sk-test",
		BaseURL:    srv.URL,
		Model:      "gpt-4o-mini",
		Generation: config.LLMGenerationConfig{Temperature: 0.3, MaxTokens: 1000},
	}, srv.Client())
}

func sseDelta(content string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{{"delta": map[string]string{"content": content}}},
	})
	return fmt.Sprintf("data: %s\n\n", b)
}

func collect(t *testing.T, ch <-chan StreamChunk) ([]string, error) {
	t.Helper()
	var parts []string
	for c := range ch {
		if c.Err != nil {
			return parts, c.Err
		}
		parts = append(parts, c.Content)
	}
	return parts, nil
}

func TestChatSendsRequestAndReturnsAnswer(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"您好"}}]}`))
	})

	answer, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "您好", answer)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.False(t, got.Stream)
	require.NotNil(t, got.Temperature)
	assert.Equal(t, 0.3, *got.Temperature)
	require.NotNil(t, got.MaxTokens)
	assert.Equal(t, 1000, *got.MaxTokens)
	assert.Nil(t, got.TopP)
}

func TestChatExplicitParamsWin(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})
	temp := 0.0
	_, err := c.Chat(context.Background(), nil, &GenerationParams{Temperature: &temp})
	require.NoError(t, err)
	require.NotNil(t, got.Temperature)
	assert.Equal(t, 0.0, *got.Temperature)
	assert.Nil(t, got.MaxTokens)
}

func TestChatNon200(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`rate limited`))
	})
	_, err := c.Chat(context.Background(), nil, nil)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Equal(t, "rate limited", statusErr.Body)
}

func TestChatNoChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	_, err := c.Chat(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestChatStreamYieldsFragmentsInOrder(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseDelta("購買後"))
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, `data: {"choices":[{"delta":{"role":"assistant"}}]}`+"\n\n")
		fmt.Fprint(w, sseDelta("七天內"))
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, sseDelta("可退款"))
		fmt.Fprint(w, "data: [DONE]\n\n")
		fmt.Fprint(w, sseDelta("ignored after done"))
	})

	ch, err := c.ChatStream(context.Background(), []Message{{Role: "user", Content: "refund"}}, nil)
	require.NoError(t, err)
	parts, err := collect(t, ch)
	require.NoError(t, err)

	assert.True(t, got.Stream)
	assert.Equal(t, []string{"購買後", "七天內", "可退款"}, parts)
}

func TestChatStreamStatusErrorIsReturnedUpFront(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	ch, err := c.ChatStream(context.Background(), nil, nil)
	assert.Nil(t, ch)
	var statusErr *StatusError
	assert.ErrorAs(t, err, &statusErr)
}

func TestChatStreamStopsWhenCancelled(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 100; i++ {
			if _, err := fmt.Fprint(w, sseDelta(fmt.Sprintf("part%d ", i))); err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-release:
			case <-time.After(5 * time.Millisecond):
			}
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.ChatStream(ctx, nil, nil)
	require.NoError(t, err)

	first := <-ch
	require.NoError(t, first.Err)
	assert.Equal(t, "part0 ", first.Content)
	cancel()

	// 生产方关闭 channel，且取消不会以错误分块的形式出现
	deadline := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return
			}
			assert.NoError(t, c.Err)
		case <-deadline:
			t.Fatal("stream did not stop after cancellation")
		}
	}
}

func TestChatStreamTruncatedBodyEndsCleanly(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sseDelta("partial"))
		fmt.Fprint(w, `data: {"choices":[{"delta":{"content":"tail"}}]}`)
	})
	ch, err := c.ChatStream(context.Background(), nil, nil)
	require.NoError(t, err)
	parts, err := collect(t, ch)
	require.NoError(t, err)
	assert.Equal(t, "partial|tail", strings.Join(parts, "|"))
}

func TestParamsFromConfig(t *testing.T) {
	assert.Nil(t, ParamsFromConfig(config.LLMGenerationConfig{}))
	p := ParamsFromConfig(config.LLMGenerationConfig{TopP: 0.9})
	require.NotNil(t, p)
	assert.Nil(t, p.Temperature)
	assert.Equal(t, 0.9, *p.TopP)
}
