package model

import (
	"encoding/json"
	"time"
)

// NotificationType 通知類型
type NotificationType string

const (
	NotificationChatMessage NotificationType = "chat_message"
	NotificationLowStock    NotificationType = "low_stock"
	NotificationSystem      NotificationType = "system"
)

// Notification 通知數據模型
type Notification struct {
	ID          string            `bson:"_id" json:"id"`
	UserID      string            `bson:"user_id" json:"user_id"`
	Type        NotificationType  `bson:"type" json:"type"`
	Title       string            `bson:"title" json:"title"`
	Body        string            `bson:"body" json:"body"`
	Description string            `bson:"description,omitempty" json:"description,omitempty"`
	Data        *NotificationData `bson:"data,omitempty" json:"data,omitempty"`
	IsRead      bool              `bson:"is_read" json:"is_read"`
	ReadAt      *time.Time        `bson:"read_at,omitempty" json:"read_at,omitempty"`
	CreatedAt   time.Time         `bson:"created_at" json:"created_at"`
	ExpiresAt   *time.Time        `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
}

// Expired 是否已過期
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}

// NotificationData 通知負載的標記聯合，Kind 決定哪個欄位有效，
// 未知類型保存在 Raw 中
type NotificationData struct {
	Kind     NotificationType `bson:"kind"`
	Chat     *ChatMessageData `bson:"chat,omitempty"`
	LowStock *LowStockData    `bson:"low_stock,omitempty"`
	System   *SystemData      `bson:"system,omitempty"`
	Raw      map[string]any   `bson:"raw,omitempty"`
}

// ChatMessageData chat_message 通知負載
type ChatMessageData struct {
	ConversationID string `bson:"conversation_id" json:"conversation_id"`
	MessageID      string `bson:"message_id" json:"message_id"`
	SenderID       string `bson:"sender_id" json:"sender_id"`
}

// LowStockData low_stock 通知負載
type LowStockData struct {
	ProductID   string `bson:"product_id" json:"product_id"`
	ProductName string `bson:"product_name,omitempty" json:"product_name,omitempty"`
	Quantity    int64  `bson:"quantity" json:"quantity"`
	Threshold   int64  `bson:"threshold,omitempty" json:"threshold,omitempty"`
}

// SystemData system 通知負載
type SystemData struct {
	Link     string `bson:"link,omitempty" json:"link,omitempty"`
	Severity string `bson:"severity,omitempty" json:"severity,omitempty"`
}

// NewChatMessageData 建立 chat_message 負載
func NewChatMessageData(conversationID, messageID, senderID string) *NotificationData {
	return &NotificationData{
		Kind: NotificationChatMessage,
		Chat: &ChatMessageData{
			ConversationID: conversationID,
			MessageID:      messageID,
			SenderID:       senderID,
		},
	}
}

// ParseNotificationData 根據通知類型把不透明的結構轉為已知負載
func ParseNotificationData(kind NotificationType, raw map[string]any) (*NotificationData, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}

	data := &NotificationData{Kind: kind}
	switch kind {
	case NotificationChatMessage:
		data.Chat = &ChatMessageData{}
		err = json.Unmarshal(encoded, data.Chat)
	case NotificationLowStock:
		data.LowStock = &LowStockData{}
		err = json.Unmarshal(encoded, data.LowStock)
	case NotificationSystem:
		data.System = &SystemData{}
		err = json.Unmarshal(encoded, data.System)
	default:
		data.Raw = raw
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// MarshalJSON 以扁平結構輸出，附帶 kind 欄位
func (d NotificationData) MarshalJSON() ([]byte, error) {
	var body any
	switch {
	case d.Chat != nil:
		body = d.Chat
	case d.LowStock != nil:
		body = d.LowStock
	case d.System != nil:
		body = d.System
	default:
		body = d.Raw
	}

	flat := map[string]any{}
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(encoded, &flat); err != nil {
			return nil, err
		}
	}
	flat["kind"] = d.Kind
	return json.Marshal(flat)
}

// ConversationID 負載引用的會話 ID（僅 chat_message）
func (d *NotificationData) ConversationID() string {
	if d == nil || d.Chat == nil {
		return ""
	}
	return d.Chat.ConversationID
}
