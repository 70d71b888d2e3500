// Package memory 提供進程內的倉儲實作，用於本地開發與測試。
// 全部操作共用一把鎖，多行變更天然具備事務語義。
package memory

import (
	"sync"

	"messaging-gateway/internal/model"
	"messaging-gateway/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
)

type participantKey struct {
	conversationID string
	userID         string
}

type receiptKey struct {
	messageID string
	userID    string
}

// Store 記憶體存儲
type Store struct {
	mu sync.RWMutex

	conversations map[string]*model.Conversation
	directIndex   map[string]string
	participants  map[participantKey]*model.Participant
	messages      map[string]*model.Message
	receipts      map[receiptKey]*model.ReadReceipt
	notifications map[string]*model.Notification
	accounts      map[string]*model.Account
}

// New 創建空的記憶體存儲
func New() *Store {
	return &Store{
		conversations: make(map[string]*model.Conversation),
		directIndex:   make(map[string]string),
		participants:  make(map[participantKey]*model.Participant),
		messages:      make(map[string]*model.Message),
		receipts:      make(map[receiptKey]*model.ReadReceipt),
		notifications: make(map[string]*model.Notification),
		accounts:      make(map[string]*model.Account),
	}
}

// Repositories 返回基於此存儲的倉儲集合
func (s *Store) Repositories() *storage.Repositories {
	return &storage.Repositories{
		Conversations: &conversationRepo{s},
		Messages:      &messageRepo{s},
		Receipts:      &receiptRepo{s},
		Notifications: &notificationRepo{s},
		Accounts:      &accountRepo{s},
	}
}

// NewRepositories 創建獨立的記憶體倉儲集合
func NewRepositories() *storage.Repositories {
	return New().Repositories()
}

func newID() string {
	return bson.NewObjectID().Hex()
}

var (
	_ storage.ConversationRepository = (*conversationRepo)(nil)
	_ storage.MessageRepository      = (*messageRepo)(nil)
	_ storage.ReceiptRepository      = (*receiptRepo)(nil)
	_ storage.NotificationRepository = (*notificationRepo)(nil)
	_ storage.AccountRepository      = (*accountRepo)(nil)
)
