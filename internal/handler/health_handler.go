package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ServiceName 是健康检查中报告的服务名。
const ServiceName = "company-qa-go"

// Health 返回服务状态：GET /api/health
func Health(environment string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"service":     ServiceName,
			"environment": environment,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}
