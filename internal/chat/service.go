// Package chat 實作會話與訊息的業務流程：私聊和群組的建立、訊息收發、
// 已讀追蹤與未讀統計。推送與通知通過接口注入，失敗不影響已提交的寫入。
package chat

import (
	"context"
	"errors"
	"time"

	"messaging-gateway/internal/apperr"
	"messaging-gateway/internal/constants"
	"messaging-gateway/internal/model"
	"messaging-gateway/internal/platform/logger"
	"messaging-gateway/internal/security/audit"
	"messaging-gateway/internal/storage"
)

// Publisher 即時推送接口，實作必須不阻塞
type Publisher interface {
	EmitNewMessage(conversationID string, message model.MessageView)
	EmitReadReceipt(conversationID, readerID string, readAt time.Time)
	EmitMessageEdited(conversationID string, message model.MessageView)
	EmitMessageDeleted(conversationID, messageID string, deletedAt time.Time)
}

// Notifier 由訊息事件派生通知
type Notifier interface {
	OnMessageSent(ctx context.Context, msg *model.Message, sender model.Identity, participants []model.Participant) error
	OnConversationRead(ctx context.Context, conversationID, userID string) error
}

// Limits 業務限制
type Limits struct {
	DefaultPageSize    int
	MaxPageSize        int
	MaxMessageLength   int
	MaxGroupMembers    int
	MaxGroupNameLength int
}

// DefaultLimits 預設限制
func DefaultLimits() Limits {
	return Limits{
		DefaultPageSize:    constants.DefaultPageSize,
		MaxPageSize:        constants.DefaultMaxPageSize,
		MaxMessageLength:   constants.DefaultMaxMessageLength,
		MaxGroupMembers:    constants.DefaultMaxGroupMembers,
		MaxGroupNameLength: constants.DefaultMaxGroupNameLength,
	}
}

// Service 會話與訊息服務
type Service struct {
	conversations storage.ConversationRepository
	messages      storage.MessageRepository
	receipts      storage.ReceiptRepository
	notifications storage.NotificationRepository
	accounts      storage.AccountRepository

	limits    Limits
	notifier  Notifier
	publisher Publisher
	audit     *audit.AuditService
}

// NewService 創建會話服務，notifier、publisher 與 auditor 可為 nil
func NewService(repos *storage.Repositories, limits Limits, notifier Notifier, publisher Publisher, auditor *audit.AuditService) *Service {
	defaults := DefaultLimits()
	if limits.DefaultPageSize <= 0 {
		limits.DefaultPageSize = defaults.DefaultPageSize
	}
	if limits.MaxPageSize <= 0 {
		limits.MaxPageSize = defaults.MaxPageSize
	}
	if limits.MaxMessageLength <= 0 {
		limits.MaxMessageLength = defaults.MaxMessageLength
	}
	if limits.MaxGroupMembers <= 0 {
		limits.MaxGroupMembers = defaults.MaxGroupMembers
	}
	if limits.MaxGroupNameLength <= 0 {
		limits.MaxGroupNameLength = defaults.MaxGroupNameLength
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if auditor == nil {
		auditor = audit.NewAuditService(false)
	}
	return &Service{
		conversations: repos.Conversations,
		messages:      repos.Messages,
		receipts:      repos.Receipts,
		notifications: repos.Notifications,
		accounts:      repos.Accounts,
		limits:        limits,
		notifier:      notifier,
		publisher:     publisher,
		audit:         auditor,
	}
}

// SetPublisher 替換推送實作，用於網關晚於服務建立的情況
func (s *Service) SetPublisher(p Publisher) {
	if p == nil {
		p = nopPublisher{}
	}
	s.publisher = p
}

// TouchAccount 以已認證身份刷新帳號目錄，失敗只記錄日誌
func (s *Service) TouchAccount(ctx context.Context, who model.Identity) {
	if who.UserID == "" {
		return
	}
	err := s.accounts.Upsert(ctx, &model.Account{
		ID:          who.UserID,
		DisplayName: who.Name(),
		Role:        who.Role,
		IsActive:    true,
		LastSeenAt:  model.Now(),
	})
	if err != nil {
		logger.Warning(ctx, "更新帳號目錄失敗",
			logger.WithUserID(who.UserID),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}))
	}
}

// IsParticipant 檢查用戶是否為會話參與者
func (s *Service) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	_, err := s.conversations.GetParticipant(ctx, conversationID, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, nil
	}
	return false, apperr.Dependency("load participant", err)
}

// requireParticipant 返回參與者記錄，不存在時返回 Forbidden
func (s *Service) requireParticipant(ctx context.Context, conversationID, userID string) (*model.Participant, error) {
	p, err := s.conversations.GetParticipant(ctx, conversationID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		s.audit.LogAccessDenied(ctx, userID, conversationID, "not a participant")
		return nil, apperr.ErrNotParticipant
	}
	if err != nil {
		return nil, apperr.Dependency("load participant", err)
	}
	return p, nil
}

// summaries 批量載入參與者摘要，未知帳號以用戶 ID 作為顯示名稱
func (s *Service) summaries(ctx context.Context, userIDs []string) map[string]model.ParticipantSummary {
	result := make(map[string]model.ParticipantSummary, len(userIDs))
	accounts, err := s.accounts.GetMany(ctx, userIDs)
	if err != nil {
		logger.Warning(ctx, "載入帳號摘要失敗", logger.WithDetails(map[string]interface{}{"error": err.Error()}))
	}
	for _, id := range userIDs {
		if a, ok := accounts[id]; ok {
			summary := a.Summary()
			if summary.DisplayName == "" {
				summary.DisplayName = id
			}
			result[id] = summary
			continue
		}
		result[id] = model.ParticipantSummary{UserID: id, DisplayName: id}
	}
	return result
}

// detach 讓已提交寫入後的副作用不受請求取消影響
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

type nopNotifier struct{}

func (nopNotifier) OnMessageSent(context.Context, *model.Message, model.Identity, []model.Participant) error {
	return nil
}

func (nopNotifier) OnConversationRead(context.Context, string, string) error { return nil }

type nopPublisher struct{}

func (nopPublisher) EmitNewMessage(string, model.MessageView) {}
func (nopPublisher) EmitReadReceipt(string, string, time.Time) {}
func (nopPublisher) EmitMessageEdited(string, model.MessageView) {}
func (nopPublisher) EmitMessageDeleted(string, string, time.Time) {}
