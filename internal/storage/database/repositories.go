// Package database 按配置選擇存儲驅動並組裝倉儲集合.
package database

import (
	"context"
	"fmt"

	"messaging-gateway/internal/platform/config"
	"messaging-gateway/internal/platform/logger"
	"messaging-gateway/internal/storage"
	"messaging-gateway/internal/storage/database/messaging"
	"messaging-gateway/internal/storage/memory"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

// NewRepositories 創建倉儲集合，cipher 為 nil 時訊息以明文存儲.
func NewRepositories(ctx context.Context, cfg *config.Config, db *mongo.Database, cipher messaging.BodyCipher) (*storage.Repositories, error) {
	switch cfg.Database.Driver {
	case config.DriverMemory:
		logger.LogWarnf("使用記憶體存儲，重啟後數據將丟失")
		return memory.NewRepositories(), nil
	case config.DriverMongo:
		return newMongoRepositories(ctx, db, cipher)
	}
	return nil, fmt.Errorf("不支援的存儲驅動: %s", cfg.Database.Driver)
}

func newMongoRepositories(ctx context.Context, db *mongo.Database, cipher messaging.BodyCipher) (*storage.Repositories, error) {
	if db == nil {
		return nil, fmt.Errorf("MongoDB 未初始化")
	}

	// 唯一索引承擔私聊與回執去重，創建失敗不能繼續
	if err := messaging.CreateIndexes(ctx, db); err != nil {
		return nil, fmt.Errorf("創建索引失敗: %w", err)
	}
	if stats, err := messaging.GetIndexStats(ctx, db); err == nil {
		logger.Info(ctx, "MongoDB 索引已就緒", logger.WithDetails(stats))
	}

	return &storage.Repositories{
		Conversations: messaging.NewConversationStore(db, cipher),
		Messages:      messaging.NewMessageStore(db, cipher),
		Receipts:      messaging.NewReceiptStore(db),
		Notifications: messaging.NewNotificationStore(db),
		Accounts:      messaging.NewAccountStore(db),
	}, nil
}
