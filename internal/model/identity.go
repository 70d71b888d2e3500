package model

import "time"

// RoleAdmin 管理員角色
const RoleAdmin = "admin"

// Identity 外部認證服務傳入的已認證身份
type Identity struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role,omitempty"`
}

// IsAdmin 是否具備管理員權限
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Name 顯示名稱，缺省時退回用戶 ID
func (i Identity) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.UserID
}

// Account 帳號目錄投影
type Account struct {
	ID          string    `bson:"_id" json:"id"`
	DisplayName string    `bson:"display_name" json:"display_name"`
	AvatarURL   string    `bson:"avatar_url,omitempty" json:"avatar_url,omitempty"`
	Role        string    `bson:"role,omitempty" json:"role,omitempty"`
	IsActive    bool      `bson:"is_active" json:"is_active"`
	LastSeenAt  time.Time `bson:"last_seen_at" json:"last_seen_at"`
}

// Summary 轉為參與者摘要
func (a *Account) Summary() ParticipantSummary {
	return ParticipantSummary{UserID: a.ID, DisplayName: a.DisplayName, AvatarURL: a.AvatarURL}
}
