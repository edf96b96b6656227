package model

import "time"

// Conversation 把同一访客会话的消息归为一组。
type Conversation struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID     string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"sessionId"`
	StartedAt     time.Time `json:"startedAt"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	MessageCount  int       `gorm:"not null;default:0" json:"messageCount"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Message 记录一次问答交互及其检索元数据，供分析使用。
type Message struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint      `gorm:"not null;index" json:"conversationId"`
	SessionID      string    `gorm:"type:varchar(100);not null;index" json:"sessionId"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
	Query          string    `gorm:"type:text;not null" json:"query"`
	Answer         string    `gorm:"type:text;not null" json:"answer"`
	Confidence     float64   `gorm:"not null" json:"confidence"`
	MatchesFound   int       `gorm:"default:0" json:"matchesFound"`
	LatencySeconds float64   `gorm:"default:0" json:"latencySeconds"`
	Model          string    `gorm:"type:varchar(50);default:''" json:"model"`
	Sources        []Source  `gorm:"type:json;serializer:json" json:"sources"`
	Cached         bool      `gorm:"not null;default:false" json:"cached"`
	// 标记位
	IsLowConfidence bool `gorm:"not null;default:false;index" json:"isLowConfidence"`
	IsUnanswered    bool `gorm:"not null;default:false;index" json:"isUnanswered"`
}

func (Message) TableName() string {
	return "messages"
}
