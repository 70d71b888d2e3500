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

// ConversationStore 會話存儲實作
type ConversationStore struct {
	client        *mongo.Client
	conversations *mongo.Collection
	participants  *mongo.Collection
	cipher        BodyCipher
}

var _ storage.ConversationRepository = (*ConversationStore)(nil)

// NewConversationStore 創建新的會話存儲
func NewConversationStore(db *mongo.Database, cipher BodyCipher) *ConversationStore {
	if cipher == nil {
		cipher = plainCipher{}
	}
	return &ConversationStore{
		client:        db.Client(),
		conversations: db.Collection(conversationsCollection),
		participants:  db.Collection(participantsCollection),
		cipher:        cipher,
	}
}

// FindDirect 查找用戶對之間的私聊
func (s *ConversationStore) FindDirect(ctx context.Context, a, b string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.conversations.FindOne(ctx, bson.M{
		"type":       model.ConversationDirect,
		"direct_key": model.DirectKey(a, b),
	}).Decode(&conv)
	if err != nil {
		return nil, translate(err)
	}
	return s.decode(&conv), nil
}

// CreateDirect 建立私聊，direct_key 唯一索引保證同一用戶對只有一條記錄
func (s *ConversationStore) CreateDirect(ctx context.Context, conv *model.Conversation, a, b string) error {
	conv.Type = model.ConversationDirect
	conv.DirectKey = model.DirectKey(a, b)
	return s.create(ctx, conv, []string{a, b})
}

// CreateGroup 建立群組
func (s *ConversationStore) CreateGroup(ctx context.Context, conv *model.Conversation, members []string) error {
	conv.Type = model.ConversationGroup
	conv.DirectKey = ""
	return s.create(ctx, conv, members)
}

func (s *ConversationStore) create(ctx context.Context, conv *model.Conversation, members []string) error {
	if conv.ID == "" {
		conv.ID = newID()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = model.Now()
	}

	docs := make([]interface{}, len(members))
	for i, userID := range members {
		docs[i] = model.Participant{
			ConversationID: conv.ID,
			UserID:         userID,
			JoinedAt:       conv.CreatedAt,
		}
	}

	err := withTransaction(ctx, s.client, func(ctx context.Context) error {
		if _, err := s.conversations.InsertOne(ctx, conv); err != nil {
			return err
		}
		_, err := s.participants.InsertMany(ctx, docs)
		return err
	})
	return translate(err)
}

// GetByID 根據 ID 獲取會話
func (s *ConversationStore) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	if !validID(id) {
		return nil, storage.ErrNotFound
	}
	var conv model.Conversation
	if err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&conv); err != nil {
		return nil, translate(err)
	}
	return s.decode(&conv), nil
}

// GetByIDs 批量獲取會話
func (s *ConversationStore) GetByIDs(ctx context.Context, ids []string) ([]model.Conversation, error) {
	if len(ids) == 0 {
		return []model.Conversation{}, nil
	}
	cursor, err := s.conversations.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	convs := []model.Conversation{}
	for cursor.Next(ctx) {
		var conv model.Conversation
		if err := cursor.Decode(&conv); err != nil {
			return nil, err
		}
		convs = append(convs, *s.decode(&conv))
	}
	return convs, cursor.Err()
}

// GetParticipant 獲取參與者記錄
func (s *ConversationStore) GetParticipant(ctx context.Context, conversationID, userID string) (*model.Participant, error) {
	var p model.Participant
	err := s.participants.FindOne(ctx, bson.M{
		"conversation_id": conversationID,
		"user_id":         userID,
	}).Decode(&p)
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// ListParticipants 列出會話全部參與者
func (s *ConversationStore) ListParticipants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	return s.findParticipants(ctx, bson.M{"conversation_id": conversationID})
}

// ListParticipations 列出用戶參與的會話
func (s *ConversationStore) ListParticipations(ctx context.Context, userID string, includeArchived bool) ([]model.Participant, error) {
	filter := bson.M{"user_id": userID}
	if !includeArchived {
		filter["is_archived"] = false
	}
	return s.findParticipants(ctx, filter)
}

func (s *ConversationStore) findParticipants(ctx context.Context, filter bson.M) ([]model.Participant, error) {
	opts := options.Find().SetSort(bson.D{{Key: "joined_at", Value: 1}})
	cursor, err := s.participants.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	participants := []model.Participant{}
	if err := cursor.All(ctx, &participants); err != nil {
		return nil, err
	}
	return participants, nil
}

// MarkRead 設置已讀游標
func (s *ConversationStore) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	return s.updateParticipant(ctx, conversationID, userID, bson.M{"last_read_at": at})
}

// AdvanceReadCursor 單調前移已讀游標
func (s *ConversationStore) AdvanceReadCursor(ctx context.Context, conversationID, userID string, at time.Time) (bool, error) {
	result, err := s.participants.UpdateOne(ctx, bson.M{
		"conversation_id": conversationID,
		"user_id":         userID,
		"$or": bson.A{
			bson.M{"last_read_at": nil},
			bson.M{"last_read_at": bson.M{"$lt": at}},
		},
	}, bson.M{"$set": bson.M{"last_read_at": at}})
	if err != nil {
		return false, err
	}
	return result.ModifiedCount > 0, nil
}

// SetMuted 設置免打擾
func (s *ConversationStore) SetMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	return s.updateParticipant(ctx, conversationID, userID, bson.M{"is_muted": muted})
}

// SetArchived 設置封存
func (s *ConversationStore) SetArchived(ctx context.Context, conversationID, userID string, archived bool) error {
	return s.updateParticipant(ctx, conversationID, userID, bson.M{"is_archived": archived})
}

func (s *ConversationStore) updateParticipant(ctx context.Context, conversationID, userID string, set bson.M) error {
	result, err := s.participants.UpdateOne(ctx, bson.M{
		"conversation_id": conversationID,
		"user_id":         userID,
	}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// decode 解密會話摘要
func (s *ConversationStore) decode(conv *model.Conversation) *model.Conversation {
	if conv.LastMessagePreview == "" {
		return conv
	}
	if plain, err := s.cipher.Decrypt(conv.LastMessagePreview, conv.ID); err == nil {
		conv.LastMessagePreview = plain
	}
	return conv
}
