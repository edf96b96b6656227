package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"company-qa-go/pkg/log"
)

var RDB *redis.Client

// InitRedis 初始化保存同步状态的 Redis 连接
func InitRedis(addr, password string, db int) error {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	RDB = client
	log.Info("Redis client connected successfully")
	return nil
}
