package model

import (
	"strconv"
	"time"
	"unicode/utf8"
)

// ConversationType 會話類型
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// PreviewMaxLength 會話摘要最大字元數（不含省略號）
const PreviewMaxLength = 100

const previewEllipsis = "..."

// Conversation 會話數據模型
type Conversation struct {
	ID                 string           `bson:"_id" json:"id"`
	Type               ConversationType `bson:"type" json:"type"`
	Name               string           `bson:"name,omitempty" json:"name,omitempty"`
	DirectKey          string           `bson:"direct_key,omitempty" json:"-"`
	CreatedBy          string           `bson:"created_by" json:"created_by"`
	CreatedAt          time.Time        `bson:"created_at" json:"created_at"`
	LastMessageAt      *time.Time       `bson:"last_message_at" json:"last_message_at"`
	LastMessagePreview string           `bson:"last_message_preview" json:"last_message_preview"`
}

// HasMessages 是否已有訊息
func (c *Conversation) HasMessages() bool {
	return c.LastMessageAt != nil && !c.LastMessageAt.IsZero()
}

// Participant 會話參與者及其個人狀態
type Participant struct {
	ConversationID string     `bson:"conversation_id" json:"conversation_id"`
	UserID         string     `bson:"user_id" json:"user_id"`
	JoinedAt       time.Time  `bson:"joined_at" json:"joined_at"`
	LastReadAt     *time.Time `bson:"last_read_at" json:"last_read_at"`
	IsMuted        bool       `bson:"is_muted" json:"is_muted"`
	IsArchived     bool       `bson:"is_archived" json:"is_archived"`
}

// DirectKey 產生無序用戶對的唯一鍵.
// 用戶 ID 可包含任意分隔符，第一個 ID 以長度前綴界定，保證不同的用戶對不會得到相同的鍵.
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return strconv.Itoa(len(a)) + ":" + a + "|" + b
}

// Preview 產生會話摘要，超過 100 字元時截斷並加上 "..."
func Preview(body string) string {
	if utf8.RuneCountInString(body) <= PreviewMaxLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:PreviewMaxLength]) + previewEllipsis
}

// NextMessageTime 保證新訊息時間嚴格晚於會話中上一則訊息，
// 使以訊息時間為值的已讀游標不會覆蓋同一毫秒內稍後到達的訊息
func NextMessageTime(t time.Time, last *time.Time) time.Time {
	if last != nil && !t.After(*last) {
		return last.Add(time.Millisecond)
	}
	return t
}

// Now 返回截斷到毫秒的 UTC 時間，與 MongoDB 存儲精度一致
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// ParticipantSummary 參與者摘要
type ParticipantSummary struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ConversationView 帶有個人狀態的會話視圖
type ConversationView struct {
	Conversation
	UnreadCount       int                  `json:"unread_count"`
	IsMuted           bool                 `json:"is_muted"`
	IsArchived        bool                 `json:"is_archived"`
	LastReadAt        *time.Time           `json:"last_read_at"`
	OtherParticipants []ParticipantSummary `json:"other_participants"`
}

// UnreadSummary 全局未讀統計
type UnreadSummary struct {
	ConversationsWithUnread int `json:"conversations_with_unread"`
	TotalUnread             int `json:"total_unread"`
	UnreadNotifications     int `json:"unread_notifications"`
}
