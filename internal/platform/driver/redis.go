package driver

import (
	"context"
	"fmt"
	"time"

	"messaging-gateway/internal/platform/config"
	"messaging-gateway/internal/platform/logger"

	"github.com/redis/go-redis/v9"
)

var redisClient *redis.Client

// InitRedis 初始化 Redis 連接，用於跨實例推送.
func InitRedis(cfg config.RedisConfig) error {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	redisClient = client
	logger.LogInfof("Redis connected successfully: %s", cfg.Addr)
	return nil
}

// GetRedisClient 獲取 Redis 客戶端實例.
func GetRedisClient() *redis.Client {
	return redisClient
}

// PingRedis 檢查 Redis 是否可達，未啟用時返回 nil.
func PingRedis(ctx context.Context) error {
	if redisClient == nil {
		return nil
	}
	return redisClient.Ping(ctx).Err()
}

// CloseRedis 關閉 Redis 連接.
func CloseRedis() error {
	if redisClient == nil {
		return nil
	}
	err := redisClient.Close()
	redisClient = nil
	return err
}
