package messaging

import (
	"context"
	"time"

	"messaging-gateway/internal/model"
	"messaging-gateway/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// NotificationStore 通知存儲實作
type NotificationStore struct {
	client        *mongo.Client
	notifications *mongo.Collection
}

var _ storage.NotificationRepository = (*NotificationStore)(nil)

// NewNotificationStore 創建新的通知存儲
func NewNotificationStore(db *mongo.Database) *NotificationStore {
	return &NotificationStore{
		client:        db.Client(),
		notifications: db.Collection(notificationsCollection),
	}
}

func prepareNotification(n *model.Notification) {
	if n.ID == "" {
		n.ID = newID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = model.Now()
	}
}

// Create 寫入單條通知
func (s *NotificationStore) Create(ctx context.Context, n *model.Notification) error {
	prepareNotification(n)
	_, err := s.notifications.InsertOne(ctx, n)
	return translate(err)
}

// CreateMany 在同一事務中寫入全部通知，任何一條失敗則全部回滾
func (s *NotificationStore) CreateMany(ctx context.Context, ns []*model.Notification) error {
	if len(ns) == 0 {
		return nil
	}
	docs := make([]interface{}, len(ns))
	for i, n := range ns {
		prepareNotification(n)
		docs[i] = n
	}
	err := withTransaction(ctx, s.client, func(ctx context.Context) error {
		_, err := s.notifications.InsertMany(ctx, docs)
		return err
	})
	return translate(err)
}

// activeFilter 用戶未過期的通知
func activeFilter(userID string, now time.Time) bson.M {
	return bson.M{
		"user_id": userID,
		"$or": bson.A{
			bson.M{"expires_at": nil},
			bson.M{"expires_at": bson.M{"$gt": now}},
		},
	}
}

// List 按時間倒序列出通知
func (s *NotificationStore) List(ctx context.Context, userID string, filter storage.NotificationFilter) ([]model.Notification, error) {
	query := activeFilter(userID, filter.Now)
	if filter.UnreadOnly {
		query["is_read"] = false
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if skip := clampSkip(filter.Offset); skip > 0 {
		opts.SetSkip(int64(skip))
	}

	cursor, err := s.notifications.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	notifications := []model.Notification{}
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

// CountUnread 統計未讀且未過期的通知
func (s *NotificationStore) CountUnread(ctx context.Context, userID string, now time.Time) (int, error) {
	query := activeFilter(userID, now)
	query["is_read"] = false
	count, err := s.notifications.CountDocuments(ctx, query)
	return int(count), err
}

// MarkRead 標記單條通知為已讀，已讀的通知再次標記不報錯
func (s *NotificationStore) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	if !validID(id) {
		return storage.ErrNotFound
	}
	result, err := s.notifications.UpdateOne(ctx,
		bson.M{"_id": id, "user_id": userID},
		bson.M{"$set": bson.M{"is_read": true, "read_at": at}},
	)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// MarkAllRead 標記用戶全部未讀通知
func (s *NotificationStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	return s.markMany(ctx, bson.M{"user_id": userID, "is_read": false}, at)
}

// MarkConversationRead 標記引用該會話的聊天通知
func (s *NotificationStore) MarkConversationRead(ctx context.Context, userID, conversationID string, at time.Time) (int, error) {
	return s.markMany(ctx, bson.M{
		"user_id":                   userID,
		"type":                      model.NotificationChatMessage,
		"is_read":                   false,
		"data.chat.conversation_id": conversationID,
	}, at)
}

func (s *NotificationStore) markMany(ctx context.Context, filter bson.M, at time.Time) (int, error) {
	result, err := s.notifications.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"is_read": true, "read_at": at}})
	if err != nil {
		return 0, err
	}
	return int(result.ModifiedCount), nil
}

// Delete 刪除單條通知
func (s *NotificationStore) Delete(ctx context.Context, id, userID string) error {
	if !validID(id) {
		return storage.ErrNotFound
	}
	result, err := s.notifications.DeleteOne(ctx, bson.M{"_id": id, "user_id": userID})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteMany 批量刪除用戶自己的通知
func (s *NotificationStore) DeleteMany(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.deleteWhere(ctx, bson.M{"user_id": userID, "_id": bson.M{"$in": ids}})
}

// DeleteRead 刪除用戶全部已讀通知
func (s *NotificationStore) DeleteRead(ctx context.Context, userID string) (int, error) {
	return s.deleteWhere(ctx, bson.M{"user_id": userID, "is_read": true})
}

func (s *NotificationStore) deleteWhere(ctx context.Context, filter bson.M) (int, error) {
	result, err := s.notifications.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int(result.DeletedCount), nil
}
