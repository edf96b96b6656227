// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// 任务来源
const (
	SourceWebhook = "webhook"
	SourceAdmin   = "admin"
)

// ReindexTask 请求把知识库表格重建到向量索引中。
type ReindexTask struct {
	ID          string    `json:"id"`
	Object      string    `json:"object"`
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}
