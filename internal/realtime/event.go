// Package realtime 實作即時推送網關：連接管理、訂閱表、控制事件處理，
// 以及經由進程內或 Redis 代理的事件分發。推送盡力而為，最多一次。
package realtime

import (
	"encoding/json"
	"strings"

	"messaging-gateway/internal/model"
)

// 推送給客戶端的事件
const (
	EventNewMessage      = "new_message"
	EventMessagesSeen    = "messages_seen"
	EventNewNotification = "new_notification"
	EventUserTyping      = "user_typing"
	EventUserStopTyping  = "user_stop_typing"
	EventMessageEdited   = "message_edited"
	EventMessageDeleted  = "message_deleted"
	EventJoined          = "joined"
	EventError           = "error"
)

// 客戶端發送的控制事件
const (
	ControlJoin              = "join"
	ControlJoinConversation  = "join_conversation"
	ControlLeaveConversation = "leave_conversation"
	ControlTyping            = "typing"
	ControlStopTyping        = "stop_typing"
)

// ScopeKind 訂閱範圍類型
type ScopeKind string

const (
	ScopeUser         ScopeKind = "user"
	ScopeConversation ScopeKind = "conversation"
)

// Scope 訂閱範圍
type Scope struct {
	Kind ScopeKind `json:"kind"`
	ID   string    `json:"id"`
}

// UserScope 用戶範圍
func UserScope(userID string) Scope {
	return Scope{Kind: ScopeUser, ID: userID}
}

// ConversationScope 會話範圍
func ConversationScope(conversationID string) Scope {
	return Scope{Kind: ScopeConversation, ID: conversationID}
}

func (s Scope) String() string {
	return string(s.Kind) + ":" + s.ID
}

// ParseScope 解析 "kind:id" 形式的範圍
func ParseScope(v string) (Scope, bool) {
	kind, id, ok := strings.Cut(v, ":")
	if !ok || id == "" {
		return Scope{}, false
	}
	switch ScopeKind(kind) {
	case ScopeUser, ScopeConversation:
		return Scope{Kind: ScopeKind(kind), ID: id}, true
	}
	return Scope{}, false
}

// Envelope 線上事件格式
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Delivery 一次分發：目標範圍、已編碼的事件，以及需要排除的連接
type Delivery struct {
	Scope   Scope           `json:"scope"`
	Payload json.RawMessage `json:"payload"`
	Except  string          `json:"except,omitempty"`
}

// MessageEvent new_message 與 message_edited 的數據
type MessageEvent struct {
	ConversationID string            `json:"conversation_id"`
	Message        model.MessageView `json:"message"`
}

// NotificationEvent new_notification 的數據
type NotificationEvent struct {
	Payload model.Notification `json:"payload"`
}

type joinData struct {
	UserID string `json:"user_id"`
}

type conversationData struct {
	ConversationID string `json:"conversation_id"`
}

type typingData struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type errorData struct {
	Message string `json:"message"`
}
