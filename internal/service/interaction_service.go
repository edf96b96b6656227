package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"company-qa-go/internal/model"
	"company-qa-go/internal/repository"
	"company-qa-go/pkg/log"
)

// InteractionService 把每次问答写入对话日志，供后续分析。
type InteractionService interface {
	// Log 记录一次问答。写入失败只记录日志，不影响已返回给访客的回答。
	Log(ctx context.Context, sessionID, query string, result *model.ChatResult)
	// History 返回会话及其最近 limit 条消息（按时间先后）。会话不存在时返回 ErrConversationNotFound。
	History(ctx context.Context, sessionID string, limit int) (*ConversationHistory, error)
}

// ErrConversationNotFound 表示没有该会话的对话日志。
var ErrConversationNotFound = errors.New("conversation not found")

// defaultHistoryLimit 是未指定 limit 时返回的消息条数。
const defaultHistoryLimit = 50

// ConversationHistory 是管理端查看的一段对话日志。
type ConversationHistory struct {
	Conversation *model.Conversation `json:"conversation"`
	Messages     []model.Message     `json:"messages"`
}

type interactionService struct {
	repo                   repository.InteractionRepository
	lowConfidenceThreshold float64
	now                    func() time.Time
}

// NewInteractionService 创建一个新的 InteractionService。
func NewInteractionService(repo repository.InteractionRepository, lowConfidenceThreshold float64) InteractionService {
	return &interactionService{
		repo:                   repo,
		lowConfidenceThreshold: lowConfidenceThreshold,
		now:                    time.Now,
	}
}

// NewMessage 根据问答结果构建日志消息并计算标记位。
func NewMessage(sessionID, query string, result *model.ChatResult, lowConfidenceThreshold float64, at time.Time) *model.Message {
	return &model.Message{
		SessionID:       sessionID,
		Timestamp:       at,
		Query:           query,
		Answer:          result.Answer,
		Confidence:      result.Confidence,
		MatchesFound:    result.MatchesFound,
		LatencySeconds:  result.LatencySeconds,
		Model:           result.Model,
		Sources:         result.Sources,
		Cached:          result.Cached,
		IsLowConfidence: result.Confidence < lowConfidenceThreshold,
		IsUnanswered:    result.Outcome == model.OutcomeDeclinedNoMatch,
	}
}

func (s *interactionService) Log(ctx context.Context, sessionID, query string, result *model.ChatResult) {
	if result == nil {
		return
	}
	msg := NewMessage(sessionID, query, result, s.lowConfidenceThreshold, s.now().UTC())
	if err := s.repo.SaveMessage(ctx, msg); err != nil {
		log.Errorf("[InteractionService] 写入对话日志失败 [%s]: %v", sessionID, err)
		return
	}
	log.Infow("[InteractionService] 已记录对话",
		"session_id", sessionID,
		"confidence", msg.Confidence,
		"low_confidence", msg.IsLowConfidence,
		"unanswered", msg.IsUnanswered,
	)
}

func (s *interactionService) History(ctx context.Context, sessionID string, limit int) (*ConversationHistory, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	conv, err := s.repo.FindConversation(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}
	msgs, err := s.repo.ListMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return &ConversationHistory{Conversation: conv, Messages: msgs}, nil
}
