package messaging

import (
	"context"
	"errors"
	"time"

	"messaging-gateway/internal/model"
	"messaging-gateway/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessageStore 訊息存儲實作
type MessageStore struct {
	client        *mongo.Client
	messages      *mongo.Collection
	conversations *mongo.Collection
	participants  *mongo.Collection
	cipher        BodyCipher
}

var _ storage.MessageRepository = (*MessageStore)(nil)

// NewMessageStore 創建新的訊息存儲
func NewMessageStore(db *mongo.Database, cipher BodyCipher) *MessageStore {
	if cipher == nil {
		cipher = plainCipher{}
	}
	return &MessageStore{
		client:        db.Client(),
		messages:      db.Collection(messagesCollection),
		conversations: db.Collection(conversationsCollection),
		participants:  db.Collection(participantsCollection),
		cipher:        cipher,
	}
}

// Append 寫入訊息並在同一事務中更新會話摘要，同時讓接收者的封存會話重新出現
func (s *MessageStore) Append(ctx context.Context, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = model.Now()
	}

	stored, err := s.encrypt(msg)
	if err != nil {
		return err
	}
	preview, err := s.cipher.Encrypt(msg.SummaryText(), msg.ConversationID)
	if err != nil {
		return err
	}

	err = withTransaction(ctx, s.client, func(ctx context.Context) error {
		var conv struct {
			LastMessageAt *time.Time `bson:"last_message_at"`
		}
		err := s.conversations.FindOne(ctx, bson.M{"_id": msg.ConversationID},
			options.FindOne().SetProjection(bson.M{"last_message_at": 1})).Decode(&conv)
		if err != nil {
			return err
		}
		// 並發寫入同一會話會觸發寫衝突並重試，重新讀取上一則訊息時間
		msg.CreatedAt = model.NextMessageTime(msg.CreatedAt, conv.LastMessageAt)
		stored.CreatedAt = msg.CreatedAt

		if _, err := s.messages.InsertOne(ctx, stored); err != nil {
			return err
		}
		result, err := s.conversations.UpdateOne(ctx, bson.M{"_id": msg.ConversationID}, bson.M{
			"$set": bson.M{
				"last_message_at":      msg.CreatedAt,
				"last_message_preview": preview,
			},
		})
		if err != nil {
			return err
		}
		if result.MatchedCount == 0 {
			return storage.ErrNotFound
		}
		_, err = s.participants.UpdateMany(ctx, bson.M{
			"conversation_id": msg.ConversationID,
			"user_id":         bson.M{"$ne": msg.SenderID},
			"is_archived":     true,
		}, bson.M{"$set": bson.M{"is_archived": false}})
		return err
	})
	return translate(err)
}

// GetByID 根據 ID 獲取訊息
func (s *MessageStore) GetByID(ctx context.Context, id string) (*model.Message, error) {
	if !validID(id) {
		return nil, storage.ErrNotFound
	}
	var msg model.Message
	if err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&msg); err != nil {
		return nil, translate(err)
	}
	return s.decrypt(&msg), nil
}

// Page 獲取 before 之前的未刪除訊息（新訊息在前）
func (s *MessageStore) Page(ctx context.Context, conversationID string, before *time.Time, limit int) ([]model.Message, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"is_deleted":      false,
	}
	if before != nil {
		filter["created_at"] = bson.M{"$lt": *before}
	}

	opts := options.Find()
	opts.SetLimit(int64(limit))
	opts.SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := []model.Message{}
	for cursor.Next(ctx) {
		var msg model.Message
		if err := cursor.Decode(&msg); err != nil {
			return nil, err
		}
		messages = append(messages, *s.decrypt(&msg))
	}
	return messages, cursor.Err()
}

// Edit 修改訊息內容，若為會話最新訊息則同步刷新摘要
func (s *MessageStore) Edit(ctx context.Context, id, senderID, body string, at time.Time) (*model.Message, error) {
	var edited model.Message
	err := withTransaction(ctx, s.client, func(ctx context.Context) error {
		msg, err := s.findOwned(ctx, id, senderID)
		if err != nil {
			return err
		}
		msg.Body = body
		msg.IsEdited = true
		msg.EditedAt = &at

		stored, err := s.encrypt(msg)
		if err != nil {
			return err
		}
		if _, err := s.messages.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
			"body":      stored.Body,
			"is_edited": true,
			"edited_at": at,
		}}); err != nil {
			return err
		}
		if err := s.refreshSummary(ctx, msg.ConversationID); err != nil {
			return err
		}
		edited = *msg
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return &edited, nil
}

// SoftDelete 軟刪除訊息並重新計算會話摘要，已讀回執保持不變
func (s *MessageStore) SoftDelete(ctx context.Context, id, senderID string, at time.Time) (*model.Message, error) {
	var deleted model.Message
	err := withTransaction(ctx, s.client, func(ctx context.Context) error {
		msg, err := s.findOwned(ctx, id, senderID)
		if err != nil {
			return err
		}
		result, err := s.messages.UpdateOne(ctx, bson.M{"_id": id, "is_deleted": false}, bson.M{"$set": bson.M{
			"is_deleted": true,
			"deleted_at": at,
		}})
		if err != nil {
			return err
		}
		if result.ModifiedCount == 0 {
			return storage.ErrNotFound
		}
		if err := s.refreshSummary(ctx, msg.ConversationID); err != nil {
			return err
		}
		msg.IsDeleted = true
		msg.DeletedAt = &at
		deleted = *msg
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return &deleted, nil
}

// CountUnread 統計未讀訊息數
func (s *MessageStore) CountUnread(ctx context.Context, conversationID, userID string, since *time.Time) (int, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"is_deleted":      false,
		"sender_id":       bson.M{"$ne": userID},
	}
	if since != nil {
		filter["created_at"] = bson.M{"$gt": *since}
	}
	count, err := s.messages.CountDocuments(ctx, filter)
	return int(count), err
}

// findOwned 查找屬於發送者的未刪除訊息，其他情況一律視為不存在
func (s *MessageStore) findOwned(ctx context.Context, id, senderID string) (*model.Message, error) {
	if !validID(id) {
		return nil, storage.ErrNotFound
	}
	var msg model.Message
	err := s.messages.FindOne(ctx, bson.M{
		"_id":        id,
		"sender_id":  senderID,
		"is_deleted": false,
	}).Decode(&msg)
	if err != nil {
		return nil, translate(err)
	}
	return s.decrypt(&msg), nil
}

// refreshSummary 以最新的未刪除訊息重寫會話摘要
func (s *MessageStore) refreshSummary(ctx context.Context, conversationID string) error {
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	var latest model.Message
	err := s.messages.FindOne(ctx, bson.M{
		"conversation_id": conversationID,
		"is_deleted":      false,
	}, opts).Decode(&latest)

	set := bson.M{"last_message_at": nil, "last_message_preview": ""}
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
	case err != nil:
		return err
	default:
		s.decrypt(&latest)
		preview, err := s.cipher.Encrypt(latest.SummaryText(), conversationID)
		if err != nil {
			return err
		}
		set = bson.M{"last_message_at": latest.CreatedAt, "last_message_preview": preview}
	}

	_, err = s.conversations.UpdateOne(ctx, bson.M{"_id": conversationID}, bson.M{"$set": set})
	return err
}

// encrypt 返回內容已加密的副本
func (s *MessageStore) encrypt(msg *model.Message) (*model.Message, error) {
	stored := *msg
	if msg.Body == "" {
		return &stored, nil
	}
	body, err := s.cipher.Encrypt(msg.Body, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	stored.Body = body
	return &stored, nil
}

// decrypt 原地解密訊息內容，失敗時保留原文
func (s *MessageStore) decrypt(msg *model.Message) *model.Message {
	if msg.Body == "" {
		return msg
	}
	if plain, err := s.cipher.Decrypt(msg.Body, msg.ConversationID); err == nil {
		msg.Body = plain
	}
	return msg
}
