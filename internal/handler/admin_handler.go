package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"company-qa-go/internal/middleware"
	"company-qa-go/internal/service"
	"company-qa-go/pkg/log"
	"company-qa-go/pkg/tasks"
	"company-qa-go/pkg/token"
)

// TaskQueue 投递重建索引任务。
type TaskQueue interface {
	ProduceReindexTask(ctx context.Context, task tasks.ReindexTask) error
}

// AdminHandler 负责知识库维护相关的管理端接口。
type AdminHandler struct {
	indexService service.IndexService
	queue        TaskQueue
	cache        service.CacheClearer
	interactions service.InteractionService
	sheetObject  string
}

// NewAdminHandler 创建一个新的 AdminHandler 实例。
func NewAdminHandler(indexService service.IndexService, queue TaskQueue, cache service.CacheClearer, interactions service.InteractionService, sheetObject string) *AdminHandler {
	return &AdminHandler{
		indexService: indexService,
		queue:        queue,
		cache:        cache,
		interactions: interactions,
		sheetObject:  sheetObject,
	}
}

func newReindexTask(object, requestedBy string) tasks.ReindexTask {
	return tasks.ReindexTask{
		ID:          uuid.NewString(),
		Object:      object,
		RequestedBy: requestedBy,
		RequestedAt: time.Now().UTC(),
	}
}

func requester(c *gin.Context) string {
	if v, ok := c.Get(middleware.ClaimsKey); ok {
		if claims, ok := v.(*token.AdminClaims); ok && claims.Subject != "" {
			return tasks.SourceAdmin + ":" + claims.Subject
		}
	}
	return tasks.SourceAdmin
}

// Reindex 投递一次全量重建任务并立即清空问答缓存：POST /api/admin/reindex
func (h *AdminHandler) Reindex(c *gin.Context) {
	task := newReindexTask(h.sheetObject, requester(c))
	if err := h.queue.ProduceReindexTask(c.Request.Context(), task); err != nil {
		log.Errorf("[AdminHandler] 投递重建任务失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "投递重建任务失败", "data": nil})
		return
	}
	h.cache.Clear()
	c.JSON(http.StatusAccepted, gin.H{"code": http.StatusAccepted, "message": "重建任务已提交", "data": gin.H{"task_id": task.ID}})
}

// ClearCache 清空问答缓存：POST /api/admin/cache/clear
func (h *AdminHandler) ClearCache(c *gin.Context) {
	h.cache.Clear()
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

// Sync 同步执行一次内容变更检测与重建：POST /api/admin/sync
func (h *AdminHandler) Sync(c *gin.Context) {
	summary, err := h.indexService.SyncIfChanged(c.Request.Context(), h.sheetObject)
	if err != nil {
		log.Errorf("[AdminHandler] 同步知识库失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "同步知识库失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": summary})
}

// Conversation 返回某个会话的对话日志：GET /api/admin/conversations/:session_id?limit=50
func (h *AdminHandler) Conversation(c *gin.Context) {
	sessionID := c.Param("session_id")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "limit 参数无效", "data": nil})
			return
		}
		limit = n
	}

	history, err := h.interactions.History(c.Request.Context(), sessionID, limit)
	if err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在", "data": nil})
			return
		}
		log.Errorf("[AdminHandler] 查询对话日志失败 [%s]: %v", sessionID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询对话日志失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": history})
}
