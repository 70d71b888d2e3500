package model

import "time"

// MessageType 訊息類型
type MessageType string

const (
	MessageText MessageType = "text"
	MessageFile MessageType = "file"
)

// Valid 檢查訊息類型是否有效
func (t MessageType) Valid() bool {
	return t == MessageText || t == MessageFile
}

// Message 訊息數據模型
type Message struct {
	ID             string           `bson:"_id" json:"id"`
	ConversationID string           `bson:"conversation_id" json:"conversation_id"`
	SenderID       string           `bson:"sender_id" json:"sender_id"`
	Body           string           `bson:"body" json:"body"`
	Type           MessageType      `bson:"type" json:"type"`
	FileURL        string           `bson:"file_url,omitempty" json:"file_url,omitempty"`
	Metadata       *MessageMetadata `bson:"metadata,omitempty" json:"metadata,omitempty"`
	IsEdited       bool             `bson:"is_edited" json:"is_edited"`
	EditedAt       *time.Time       `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	IsDeleted      bool             `bson:"is_deleted" json:"is_deleted"`
	DeletedAt      *time.Time       `bson:"deleted_at,omitempty" json:"deleted_at,omitempty"`
	CreatedAt      time.Time        `bson:"created_at" json:"created_at"`
}

// SummaryText 會話摘要使用的文字
func (m *Message) SummaryText() string {
	if m.Body == "" && m.Type == MessageFile {
		name := "attachment"
		if m.Metadata != nil && m.Metadata.FileName != "" {
			name = m.Metadata.FileName
		}
		return "[file] " + name
	}
	return Preview(m.Body)
}

// MessageMetadata 訊息元數據，已知的檔案欄位加上不透明的擴充欄位
type MessageMetadata struct {
	FileName string         `bson:"filename,omitempty" json:"filename,omitempty"`
	Size     int64          `bson:"size,omitempty" json:"size,omitempty"`
	MimeType string         `bson:"mimetype,omitempty" json:"mimetype,omitempty"`
	Extra    map[string]any `bson:"extra,omitempty" json:"extra,omitempty"`
}

// MetadataFromMap 從客戶端提交的任意結構中提取已知欄位
func MetadataFromMap(raw map[string]any) *MessageMetadata {
	if len(raw) == 0 {
		return nil
	}
	md := &MessageMetadata{}
	for k, v := range raw {
		switch k {
		case "filename":
			if s, ok := v.(string); ok {
				md.FileName = s
				continue
			}
		case "mimetype":
			if s, ok := v.(string); ok {
				md.MimeType = s
				continue
			}
		case "size":
			switch n := v.(type) {
			case float64:
				md.Size = int64(n)
				continue
			case int64:
				md.Size = n
				continue
			case int:
				md.Size = int64(n)
				continue
			}
		}
		if md.Extra == nil {
			md.Extra = make(map[string]any)
		}
		md.Extra[k] = v
	}
	return md
}

// ReadReceipt 已讀回執
type ReadReceipt struct {
	MessageID      string    `bson:"message_id" json:"message_id"`
	ConversationID string    `bson:"conversation_id" json:"conversation_id"`
	UserID         string    `bson:"user_id" json:"user_id"`
	ReadAt         time.Time `bson:"read_at" json:"read_at"`
}

// ReadBy 回傳給客戶端的已讀記錄
type ReadBy struct {
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// MessageView 帶發送者摘要和已讀列表的訊息
type MessageView struct {
	Message
	Sender ParticipantSummary `json:"sender"`
	ReadBy []ReadBy           `json:"read_by"`
}

// MessagePage 分頁結果
type MessagePage struct {
	Messages   []MessageView `json:"messages"`
	HasMore    bool          `json:"has_more"`
	NextBefore *time.Time    `json:"next_before,omitempty"`
}
