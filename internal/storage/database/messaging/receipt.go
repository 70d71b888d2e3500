package messaging

import (
	"context"

	"messaging-gateway/internal/model"
	"messaging-gateway/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ReceiptStore 已讀回執存儲實作
type ReceiptStore struct {
	receipts *mongo.Collection
}

var _ storage.ReceiptRepository = (*ReceiptStore)(nil)

// NewReceiptStore 創建新的已讀回執存儲
func NewReceiptStore(db *mongo.Database) *ReceiptStore {
	return &ReceiptStore{receipts: db.Collection(receiptsCollection)}
}

// InsertIfAbsent 以 $setOnInsert 批量寫入，已存在的回執保持首次已讀時間
func (s *ReceiptStore) InsertIfAbsent(ctx context.Context, receipts []model.ReadReceipt) (int, error) {
	if len(receipts) == 0 {
		return 0, nil
	}

	models := make([]mongo.WriteModel, 0, len(receipts))
	for _, r := range receipts {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"message_id": r.MessageID, "user_id": r.UserID}).
			SetUpdate(bson.M{"$setOnInsert": bson.M{
				"message_id":      r.MessageID,
				"conversation_id": r.ConversationID,
				"user_id":         r.UserID,
				"read_at":         r.ReadAt,
			}}).
			SetUpsert(true))
	}

	result, err := s.receipts.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		// 並發 upsert 撞上唯一索引時，另一方已寫入同一回執
		if mongo.IsDuplicateKeyError(err) {
			if result != nil {
				return int(result.UpsertedCount), nil
			}
			return 0, nil
		}
		return 0, err
	}
	return int(result.UpsertedCount), nil
}

// ListForMessages 獲取一批訊息的已讀回執
func (s *ReceiptStore) ListForMessages(ctx context.Context, messageIDs []string) ([]model.ReadReceipt, error) {
	receipts := []model.ReadReceipt{}
	if len(messageIDs) == 0 {
		return receipts, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "read_at", Value: 1}})
	cursor, err := s.receipts.Find(ctx, bson.M{"message_id": bson.M{"$in": messageIDs}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	if err := cursor.All(ctx, &receipts); err != nil {
		return nil, err
	}
	return receipts, nil
}
