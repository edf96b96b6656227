package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	sheetHashKey    = "company_qa:sheet_hash"
	taskAttemptsKey = "company_qa:reindex_attempts:%s"
	taskAttemptsTTL = 24 * time.Hour
)

// SyncStateRepository 保存知识库同步的状态：上次同步的表格哈希与重建任务的失败次数。
type SyncStateRepository interface {
	GetSheetHash(ctx context.Context) (string, error)
	SetSheetHash(ctx context.Context, hash string) error
	IncrTaskAttempts(ctx context.Context, taskID string) (int64, error)
	ResetTaskAttempts(ctx context.Context, taskID string) error
}

type redisSyncStateRepository struct {
	redisClient *redis.Client
}

// NewSyncStateRepository 创建一个新的 SyncStateRepository 实例。
func NewSyncStateRepository(redisClient *redis.Client) SyncStateRepository {
	return &redisSyncStateRepository{redisClient: redisClient}
}

// GetSheetHash 返回上次同步的哈希，从未同步过时返回空字符串。
func (r *redisSyncStateRepository) GetSheetHash(ctx context.Context) (string, error) {
	hash, err := r.redisClient.Get(ctx, sheetHashKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get sheet hash: %w", err)
	}
	return hash, nil
}

func (r *redisSyncStateRepository) SetSheetHash(ctx context.Context, hash string) error {
	if err := r.redisClient.Set(ctx, sheetHashKey, hash, 0).Err(); err != nil {
		return fmt.Errorf("failed to set sheet hash: %w", err)
	}
	return nil
}

func (r *redisSyncStateRepository) IncrTaskAttempts(ctx context.Context, taskID string) (int64, error) {
	key := fmt.Sprintf(taskAttemptsKey, taskID)
	attempts, err := r.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to incr task attempts: %w", err)
	}
	_ = r.redisClient.Expire(ctx, key, taskAttemptsTTL).Err()
	return attempts, nil
}

func (r *redisSyncStateRepository) ResetTaskAttempts(ctx context.Context, taskID string) error {
	return r.redisClient.Del(ctx, fmt.Sprintf(taskAttemptsKey, taskID)).Err()
}
