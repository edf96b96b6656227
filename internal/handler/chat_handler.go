// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"company-qa-go/internal/model"
	"company-qa-go/internal/service"
	"company-qa-go/pkg/log"
)

const (
	msgEmptyQuery     = "Query cannot be empty"
	msgGenerateFailed = "Failed to generate response"
	msgBusy           = "Previous response is still in progress"
	msgStopped        = "Response stopped"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatRequest 是问答接口的请求体。
type ChatRequest struct {
	Query               string           `json:"query"`
	SessionID           string           `json:"session_id"`
	ConversationHistory []model.ChatTurn `json:"conversation_history"`
}

// ChatResponse 是阻塞问答接口的响应体。
type ChatResponse struct {
	Answer         string         `json:"answer"`
	Sources        []model.Source `json:"sources"`
	Confidence     float64        `json:"confidence"`
	SessionID      string         `json:"session_id"`
	Timestamp      string         `json:"timestamp"`
	LatencySeconds float64        `json:"latency_seconds"`
	MatchesFound   int            `json:"matches_found"`
	Cached         bool           `json:"cached,omitempty"`
	Outcome        model.Outcome  `json:"outcome"`
}

// ChatHandler 负责处理问答请求（JSON、SSE 与 WebSocket）。
type ChatHandler struct {
	chatService  service.ChatService
	interactions service.InteractionService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, interactions service.InteractionService) *ChatHandler {
	return &ChatHandler{chatService: chatService, interactions: interactions}
}

func sessionOrNew(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return uuid.NewString()
}

func (r ChatRequest) engineRequest() service.ChatRequest {
	return service.ChatRequest{Query: r.Query, History: r.ConversationHistory}
}

// logInteraction 与请求生命周期解耦，客户端断开后仍会写入。
func (h *ChatHandler) logInteraction(ctx context.Context, sessionID, query string, result *model.ChatResult) {
	if h.interactions == nil {
		return
	}
	h.interactions.Log(context.WithoutCancel(ctx), sessionID, query, result)
}

// Chat 处理阻塞式问答：POST /api/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[ChatHandler] 无效的请求体: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	sessionID := sessionOrNew(req.SessionID)

	result, err := h.chatService.Chat(c.Request.Context(), req.engineRequest())
	if err != nil {
		if errors.Is(err, service.ErrEmptyQuery) {
			c.JSON(http.StatusBadRequest, gin.H{"error": msgEmptyQuery})
			return
		}
		log.Errorf("[ChatHandler] 生成回答失败 [%s]: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgGenerateFailed})
		return
	}

	h.logInteraction(c.Request.Context(), sessionID, req.Query, result)

	c.JSON(http.StatusOK, ChatResponse{
		Answer:         result.Answer,
		Sources:        result.Sources,
		Confidence:     result.Confidence,
		SessionID:      sessionID,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		LatencySeconds: result.LatencySeconds,
		MatchesFound:   result.MatchesFound,
		Cached:         result.Cached,
		Outcome:        result.Outcome,
	})
}

// ChatStream 处理 SSE 流式问答：POST /api/chat/stream
func (h *ChatHandler) ChatStream(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgEmptyQuery})
		return
	}
	sessionID := sessionOrNew(req.SessionID)

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Session-Id", sessionID)
	c.Status(http.StatusOK)

	h.stream(c.Request.Context(), sessionID, req, service.NewSSEWriter(c.Writer))
}

// stream 运行一次流式问答。失败时以 error 事件结束流，调用方已断开时静默返回。
func (h *ChatHandler) stream(ctx context.Context, sessionID string, req ChatRequest, w service.EventWriter) {
	result, err := h.chatService.ChatStream(ctx, req.engineRequest(), w)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrStreamAborted):
			log.Warnf("[ChatHandler] 流式回答中断 [%s]: %v", sessionID, err)
			// 调用方已断开时写入会直接失败
			_ = w.WriteEvent(model.ErrorEvent(msgStopped))
		case errors.Is(err, service.ErrEmptyQuery):
			_ = w.WriteEvent(model.ErrorEvent(msgEmptyQuery))
		default:
			log.Errorf("[ChatHandler] 流式生成失败 [%s]: %v", sessionID, err)
			_ = w.WriteEvent(model.ErrorEvent(msgGenerateFailed))
		}
		return
	}
	h.logInteraction(ctx, sessionID, req.Query, result)
}

// wsFrame 是客户端发来的 WebSocket 消息：问答请求，或 {"type":"stop"} 停止当前回答。
type wsFrame struct {
	Type string `json:"type"`
	ChatRequest
}

// wsEventWriter 把事件写为 JSON 文本帧。
type wsEventWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsEventWriter) WriteEvent(event model.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(event)
}

// WebSocket 处理 WebSocket 流式问答：GET /api/chat/ws
// 同一连接上同时只运行一个回答；stop 消息会取消正在进行的回答。
func (h *ChatHandler) WebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	w := &wsEventWriter{conn: conn}
	connSession := uuid.NewString()
	log.Infof("[ChatHandler] WebSocket 连接已建立 [%s]", connSession)

	var (
		mu            sync.Mutex
		cancelCurrent context.CancelFunc
	)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Infof("[ChatHandler] WebSocket 连接关闭 [%s]: %v", connSession, err)
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			_ = w.WriteEvent(model.ErrorEvent("Invalid message"))
			continue
		}

		if frame.Type == "stop" {
			mu.Lock()
			if cancelCurrent != nil {
				cancelCurrent()
			}
			mu.Unlock()
			continue
		}

		mu.Lock()
		if cancelCurrent != nil {
			mu.Unlock()
			_ = w.WriteEvent(model.ErrorEvent(msgBusy))
			continue
		}
		reqCtx, cancelReq := context.WithCancel(ctx)
		cancelCurrent = cancelReq
		mu.Unlock()

		sessionID := frame.SessionID
		if strings.TrimSpace(sessionID) == "" {
			sessionID = connSession
		}

		wg.Add(1)
		go func(req ChatRequest) {
			defer wg.Done()
			defer func() {
				mu.Lock()
				cancelCurrent = nil
				mu.Unlock()
				cancelReq()
			}()
			h.stream(reqCtx, sessionID, req, w)
		}(frame.ChatRequest)
	}
}
