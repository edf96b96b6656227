// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"company-qa-go/internal/model"
)

// InteractionRepository 定义了对话日志的持久化操作。
type InteractionRepository interface {
	// SaveMessage 在一个事务内查找或创建会话、更新会话计数并写入消息。
	SaveMessage(ctx context.Context, msg *model.Message) error
	FindConversation(ctx context.Context, sessionID string) (*model.Conversation, error)
	ListMessages(ctx context.Context, sessionID string, limit int) ([]model.Message, error)
}

type interactionRepository struct {
	db *gorm.DB
}

// NewInteractionRepository 创建一个新的 InteractionRepository 实例。
func NewInteractionRepository(db *gorm.DB) InteractionRepository {
	return &interactionRepository{db: db}
}

// AutoMigrate 创建或更新对话日志相关的表。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Conversation{}, &model.Message{})
}

func (r *interactionRepository) SaveMessage(ctx context.Context, msg *model.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := msg.Timestamp
		if now.IsZero() {
			now = time.Now().UTC()
			msg.Timestamp = now
		}

		var conv model.Conversation
		err := tx.Where("session_id = ?", msg.SessionID).First(&conv).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			conv = model.Conversation{
				SessionID:     msg.SessionID,
				StartedAt:     now,
				LastMessageAt: now,
				MessageCount:  1,
			}
			if err := tx.Create(&conv).Error; err != nil {
				return fmt.Errorf("failed to create conversation: %w", err)
			}
		case err != nil:
			return fmt.Errorf("failed to find conversation: %w", err)
		default:
			if err := tx.Model(&conv).Updates(map[string]interface{}{
				"last_message_at": now,
				"message_count":   gorm.Expr("message_count + ?", 1),
			}).Error; err != nil {
				return fmt.Errorf("failed to update conversation: %w", err)
			}
		}

		msg.ConversationID = conv.ID
		if err := tx.Create(msg).Error; err != nil {
			return fmt.Errorf("failed to create message: %w", err)
		}
		return nil
	})
}

func (r *interactionRepository) FindConversation(ctx context.Context, sessionID string) (*model.Conversation, error) {
	var conv model.Conversation
	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListMessages 返回会话中最近的 limit 条消息，按时间先后排列。
func (r *interactionRepository) ListMessages(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	var msgs []model.Message
	q := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
