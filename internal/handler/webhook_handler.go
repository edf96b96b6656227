package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"company-qa-go/pkg/log"
	"company-qa-go/pkg/tasks"
)

// SheetsUpdateRequest 是表格更新通知的请求体。
type SheetsUpdateRequest struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	SheetName     string `json:"sheet_name"`
	Timestamp     string `json:"timestamp"`
	Secret        string `json:"secret"`
}

// WebhookHandler 接收知识库表格的变更通知。
type WebhookHandler struct {
	queue       TaskQueue
	secret      string
	sheetObject string
}

// NewWebhookHandler 创建一个新的 WebhookHandler。secret 为空时不校验。
func NewWebhookHandler(queue TaskQueue, secret, sheetObject string) *WebhookHandler {
	return &WebhookHandler{queue: queue, secret: secret, sheetObject: sheetObject}
}

// SheetsUpdate 校验密钥后投递重建任务：POST /api/webhooks/sheets-update
func (h *WebhookHandler) SheetsUpdate(c *gin.Context) {
	var req SheetsUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.secret)) != 1 {
		log.Warnf("[WebhookHandler] 密钥不匹配, spreadsheet: %s", req.SpreadsheetID)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook secret"})
		return
	}

	log.Infof("[WebhookHandler] 收到表格更新通知: %s/%s @ %s", req.SpreadsheetID, req.SheetName, req.Timestamp)
	task := newReindexTask(h.sheetObject, tasks.SourceWebhook)
	if err := h.queue.ProduceReindexTask(c.Request.Context(), task); err != nil {
		log.Errorf("[WebhookHandler] 投递重建任务失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule reindex"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted", "task_id": task.ID})
}
