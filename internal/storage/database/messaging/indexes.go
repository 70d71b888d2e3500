package messaging

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// CreateIndexes 創建數據庫索引，唯一索引同時承擔並發去重
func CreateIndexes(ctx context.Context, db *mongo.Database) error {
	plan := map[string][]mongo.IndexModel{
		conversationsCollection: {
			// 同一用戶對只有一個私聊
			{
				Keys: bson.D{{Key: "direct_key", Value: 1}},
				Options: options.Index().
					SetName("direct_key_unique").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"type": "direct"}),
			},
			{
				Keys:    bson.D{{Key: "last_message_at", Value: -1}},
				Options: options.Index().SetName("last_message_idx"),
			},
		},
		participantsCollection: {
			{
				Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "user_id", Value: 1}},
				Options: options.Index().SetName("conversation_user_unique").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "is_archived", Value: 1}},
				Options: options.Index().SetName("user_archived_idx"),
			},
		},
		messagesCollection: {
			// 分頁與未讀統計
			{
				Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("conversation_time_idx"),
			},
			{
				Keys:    bson.D{{Key: "sender_id", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("sender_time_idx"),
			},
		},
		receiptsCollection: {
			{
				Keys:    bson.D{{Key: "message_id", Value: 1}, {Key: "user_id", Value: 1}},
				Options: options.Index().SetName("message_user_unique").SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "user_id", Value: 1}},
				Options: options.Index().SetName("conversation_user_idx"),
			},
		},
		notificationsCollection: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "is_read", Value: 1}, {Key: "created_at", Value: -1}},
				Options: options.Index().SetName("user_read_time_idx"),
			},
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "data.chat.conversation_id", Value: 1}},
				Options: options.Index().SetName("user_conversation_idx"),
			},
		},
		accountsCollection: {
			{
				Keys:    bson.D{{Key: "is_active", Value: 1}},
				Options: options.Index().SetName("active_idx"),
			},
		},
	}

	for name, indexes := range plan {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

// GetIndexStats 獲取各集合的索引信息
func GetIndexStats(ctx context.Context, db *mongo.Database) (map[string]interface{}, error) {
	stats := make(map[string]interface{})
	for _, name := range []string{
		conversationsCollection,
		participantsCollection,
		messagesCollection,
		receiptsCollection,
		notificationsCollection,
		accountsCollection,
	} {
		cursor, err := db.Collection(name).Indexes().List(ctx)
		if err != nil {
			return nil, err
		}
		var indexes []bson.M
		if err := cursor.All(ctx, &indexes); err != nil {
			return nil, err
		}
		stats[name+"_indexes"] = indexes
	}
	return stats, nil
}
