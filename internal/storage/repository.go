// Package storage 定義會話、訊息、已讀回執、通知與帳號的倉儲接口。
// MongoDB 與記憶體兩種驅動都實作這些接口。
package storage

import (
	"context"
	"errors"
	"time"

	"messaging-gateway/internal/model"
)

var (
	// ErrNotFound 記錄不存在
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate 違反唯一約束
	ErrDuplicate = errors.New("duplicate record")
)

// ConversationRepository 會話倉儲接口
type ConversationRepository interface {
	// FindDirect 查找用戶對之間的私聊，不存在時返回 ErrNotFound
	FindDirect(ctx context.Context, a, b string) (*model.Conversation, error)
	// CreateDirect 在同一事務中建立私聊與兩個參與者，並發重複時返回 ErrDuplicate
	CreateDirect(ctx context.Context, conv *model.Conversation, a, b string) error
	// CreateGroup 在同一事務中建立群組與全部參與者
	CreateGroup(ctx context.Context, conv *model.Conversation, members []string) error
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	GetByIDs(ctx context.Context, ids []string) ([]model.Conversation, error)
	GetParticipant(ctx context.Context, conversationID, userID string) (*model.Participant, error)
	ListParticipants(ctx context.Context, conversationID string) ([]model.Participant, error)
	// ListParticipations 列出用戶參與的會話狀態
	ListParticipations(ctx context.Context, userID string, includeArchived bool) ([]model.Participant, error)
	// MarkRead 把 last_read_at 設為 at，無參與記錄時返回 ErrNotFound
	MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error
	// AdvanceReadCursor 僅當 at 晚於現有游標時前移，返回是否有變更
	AdvanceReadCursor(ctx context.Context, conversationID, userID string, at time.Time) (bool, error)
	SetMuted(ctx context.Context, conversationID, userID string, muted bool) error
	SetArchived(ctx context.Context, conversationID, userID string, archived bool) error
}

// MessageRepository 訊息倉儲接口
type MessageRepository interface {
	// Append 在同一事務中寫入訊息並更新會話摘要
	Append(ctx context.Context, msg *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	// Page 返回 before 之前未刪除的訊息，按時間倒序
	Page(ctx context.Context, conversationID string, before *time.Time, limit int) ([]model.Message, error)
	// Edit 修改發送者自己的未刪除訊息，必要時刷新會話摘要
	Edit(ctx context.Context, id, senderID, body string, at time.Time) (*model.Message, error)
	// SoftDelete 軟刪除發送者自己的訊息並重新計算會話摘要
	SoftDelete(ctx context.Context, id, senderID string, at time.Time) (*model.Message, error)
	// CountUnread 統計 since 之後他人發送的未刪除訊息
	CountUnread(ctx context.Context, conversationID, userID string, since *time.Time) (int, error)
}

// ReceiptRepository 已讀回執倉儲接口
type ReceiptRepository interface {
	// InsertIfAbsent 僅插入不存在的回執，返回新建數量；重複不視為錯誤
	InsertIfAbsent(ctx context.Context, receipts []model.ReadReceipt) (int, error)
	ListForMessages(ctx context.Context, messageIDs []string) ([]model.ReadReceipt, error)
}

// NotificationFilter 通知查詢條件
type NotificationFilter struct {
	UnreadOnly bool
	Limit      int
	Offset     int
	Now        time.Time
}

// NotificationRepository 通知倉儲接口
type NotificationRepository interface {
	Create(ctx context.Context, n *model.Notification) error
	// CreateMany 在同一事務中寫入全部通知
	CreateMany(ctx context.Context, ns []*model.Notification) error
	List(ctx context.Context, userID string, filter NotificationFilter) ([]model.Notification, error)
	CountUnread(ctx context.Context, userID string, now time.Time) (int, error)
	MarkRead(ctx context.Context, id, userID string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error)
	// MarkConversationRead 把引用該會話的未讀 chat_message 通知設為已讀
	MarkConversationRead(ctx context.Context, userID, conversationID string, at time.Time) (int, error)
	Delete(ctx context.Context, id, userID string) error
	DeleteMany(ctx context.Context, userID string, ids []string) (int, error)
	DeleteRead(ctx context.Context, userID string) (int, error)
}

// AccountRepository 帳號目錄倉儲接口
type AccountRepository interface {
	Upsert(ctx context.Context, account *model.Account) error
	GetMany(ctx context.Context, ids []string) (map[string]model.Account, error)
	ListActiveIDs(ctx context.Context) ([]string, error)
}

// Repositories 倉儲集合.
type Repositories struct {
	Conversations ConversationRepository
	Messages      MessageRepository
	Receipts      ReceiptRepository
	Notifications NotificationRepository
	Accounts      AccountRepository
}
