package messaging

import (
	"context"

	"messaging-gateway/internal/model"
	"messaging-gateway/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// AccountStore 帳號目錄存儲實作
type AccountStore struct {
	accounts *mongo.Collection
}

var _ storage.AccountRepository = (*AccountStore)(nil)

// NewAccountStore 創建新的帳號目錄存儲
func NewAccountStore(db *mongo.Database) *AccountStore {
	return &AccountStore{accounts: db.Collection(accountsCollection)}
}

// Upsert 寫入或更新帳號投影，頭像為空時不覆蓋現有值
func (s *AccountStore) Upsert(ctx context.Context, account *model.Account) error {
	set := bson.M{
		"display_name": account.DisplayName,
		"is_active":    account.IsActive,
		"last_seen_at": account.LastSeenAt,
	}
	if account.Role != "" {
		set["role"] = account.Role
	}
	if account.AvatarURL != "" {
		set["avatar_url"] = account.AvatarURL
	}

	_, err := s.accounts.UpdateOne(ctx,
		bson.M{"_id": account.ID},
		bson.M{"$set": set},
		options.UpdateOne().SetUpsert(true),
	)
	return translate(err)
}

// GetMany 批量獲取帳號，缺失的 ID 不在結果中
func (s *AccountStore) GetMany(ctx context.Context, ids []string) (map[string]model.Account, error) {
	result := make(map[string]model.Account, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	cursor, err := s.accounts.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var account model.Account
		if err := cursor.Decode(&account); err != nil {
			return nil, err
		}
		result[account.ID] = account
	}
	return result, cursor.Err()
}

// ListActiveIDs 列出全部活躍帳號 ID
func (s *AccountStore) ListActiveIDs(ctx context.Context) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.accounts.Find(ctx, bson.M{"is_active": true}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	ids := []string{}
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cursor.Err()
}
