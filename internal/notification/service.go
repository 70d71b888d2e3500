// Package notification 管理用戶通知：由聊天訊息派生、管理員廣播，
// 以及列表、已讀與刪除等個人操作。
package notification

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"messaging-gateway/internal/apperr"
	"messaging-gateway/internal/constants"
	"messaging-gateway/internal/model"
	"messaging-gateway/internal/platform/logger"
	"messaging-gateway/internal/security/audit"
	"messaging-gateway/internal/storage"
)

// Publisher 即時推送新通知，實作必須不阻塞
type Publisher interface {
	EmitNotification(userID string, n model.Notification)
}

// Limits 通知相關限制
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
	MaxTitleLength  int
}

// Service 通知服務
type Service struct {
	notifications storage.NotificationRepository
	accounts      storage.AccountRepository
	limits        Limits
	publisher     Publisher
	audit         *audit.AuditService
}

// NewService 創建通知服務，publisher 與 auditor 可為 nil
func NewService(repos *storage.Repositories, limits Limits, publisher Publisher, auditor *audit.AuditService) *Service {
	if limits.DefaultPageSize <= 0 {
		limits.DefaultPageSize = constants.DefaultNotificationPageSize
	}
	if limits.MaxPageSize <= 0 {
		limits.MaxPageSize = constants.DefaultNotificationMaxPageSize
	}
	if limits.MaxTitleLength <= 0 {
		limits.MaxTitleLength = constants.DefaultMaxNotificationTitle
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if auditor == nil {
		auditor = audit.NewAuditService(false)
	}
	return &Service{
		notifications: repos.Notifications,
		accounts:      repos.Accounts,
		limits:        limits,
		publisher:     publisher,
		audit:         auditor,
	}
}

// SetPublisher 替換推送實作
func (s *Service) SetPublisher(p Publisher) {
	if p == nil {
		p = nopPublisher{}
	}
	s.publisher = p
}

// OnMessageSent 為除發送者和免打擾者以外的參與者建立 chat_message 通知
func (s *Service) OnMessageSent(ctx context.Context, msg *model.Message, sender model.Identity, participants []model.Participant) error {
	now := model.Now()
	title := constants.NotificationTitlePrefix + sender.Name()
	body := msg.SummaryText()

	batch := make([]*model.Notification, 0, len(participants))
	for _, p := range participants {
		if p.UserID == sender.UserID || p.IsMuted {
			continue
		}
		batch = append(batch, &model.Notification{
			UserID:    p.UserID,
			Type:      model.NotificationChatMessage,
			Title:     title,
			Body:      body,
			Data:      model.NewChatMessageData(msg.ConversationID, msg.ID, sender.UserID),
			CreatedAt: now,
		})
	}
	if len(batch) == 0 {
		return nil
	}

	if err := s.notifications.CreateMany(ctx, batch); err != nil {
		return apperr.Dependency("create chat notifications", err)
	}
	for _, n := range batch {
		s.publisher.EmitNotification(n.UserID, *n)
	}

	logger.Debug(ctx, "聊天通知已建立",
		logger.WithConversationID(msg.ConversationID),
		logger.WithMessageID(msg.ID),
		logger.WithDetails(map[string]interface{}{"recipients": len(batch)}))
	return nil
}

// OnConversationRead 把引用該會話的未讀聊天通知設為已讀
func (s *Service) OnConversationRead(ctx context.Context, conversationID, userID string) error {
	count, err := s.notifications.MarkConversationRead(ctx, userID, conversationID, model.Now())
	if err != nil {
		return apperr.Dependency("mark conversation notifications read", err)
	}
	if count > 0 {
		logger.Debug(ctx, "聊天通知已標記已讀",
			logger.WithUserID(userID),
			logger.WithConversationID(conversationID),
			logger.WithDetails(map[string]interface{}{"count": count}))
	}
	return nil
}

// BroadcastInput 廣播內容
type BroadcastInput struct {
	Title string
	Body  string
	Data  map[string]any
}

// Broadcast 向全部活躍帳號發送系統通知，返回接收人數
func (s *Service) Broadcast(ctx context.Context, actor model.Identity, in BroadcastInput) (int, error) {
	if !actor.IsAdmin() {
		s.audit.LogAccessDenied(ctx, actor.UserID, "", "broadcast requires admin")
		return 0, apperr.Forbidden("admin role required")
	}
	title, err := s.validateTitle(in.Title)
	if err != nil {
		return 0, err
	}
	data, err := model.ParseNotificationData(model.NotificationSystem, in.Data)
	if err != nil {
		return 0, apperr.Validation("invalid notification data: %v", err)
	}

	ids, err := s.accounts.ListActiveIDs(ctx)
	if err != nil {
		return 0, apperr.Dependency("list active accounts", err)
	}
	if len(ids) > 0 {
		now := model.Now()
		batch := make([]*model.Notification, len(ids))
		for i, id := range ids {
			batch[i] = &model.Notification{
				UserID:    id,
				Type:      model.NotificationSystem,
				Title:     title,
				Body:      in.Body,
				Data:      data,
				CreatedAt: now,
			}
		}
		if err := s.notifications.CreateMany(ctx, batch); err != nil {
			return 0, apperr.Dependency("create broadcast notifications", err)
		}
		for _, n := range batch {
			s.publisher.EmitNotification(n.UserID, *n)
		}
	}

	s.audit.LogBroadcast(ctx, actor.UserID, title, len(ids))
	logger.Info(ctx, "廣播通知已發送",
		logger.WithUserID(actor.UserID),
		logger.WithAction("broadcast"),
		logger.WithDetails(map[string]interface{}{"recipients": len(ids)}))
	return len(ids), nil
}

func (s *Service) validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", apperr.Validation("title is required")
	}
	if utf8.RuneCountInString(title) > s.limits.MaxTitleLength {
		return "", apperr.Validation("title exceeds %d characters", s.limits.MaxTitleLength)
	}
	return title, nil
}

// ListQuery 通知列表條件
type ListQuery struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

// List 列出用戶未過期的通知，新的在前
func (s *Service) List(ctx context.Context, userID string, q ListQuery) ([]model.Notification, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = s.limits.DefaultPageSize
	}
	if limit > s.limits.MaxPageSize {
		limit = s.limits.MaxPageSize
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	list, err := s.notifications.List(ctx, userID, storage.NotificationFilter{
		UnreadOnly: q.UnreadOnly,
		Limit:      limit,
		Offset:     offset,
		Now:        model.Now(),
	})
	if err != nil {
		return nil, apperr.Dependency("list notifications", err)
	}
	return list, nil
}

// UnreadCount 未讀且未過期的通知數
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.notifications.CountUnread(ctx, userID, model.Now())
	if err != nil {
		return 0, apperr.Dependency("count unread notifications", err)
	}
	return count, nil
}

// CreateInput 建立通知的輸入，UserID 為空時發給自己
type CreateInput struct {
	UserID      string
	Type        model.NotificationType
	Title       string
	Body        string
	Description string
	Data        map[string]any
	ExpiresAt   *time.Time
}

// Create 建立通知，為他人建立需要管理員角色
func (s *Service) Create(ctx context.Context, actor model.Identity, in CreateInput) (*model.Notification, error) {
	target := strings.TrimSpace(in.UserID)
	if target == "" {
		target = actor.UserID
	}
	if target != actor.UserID && !actor.IsAdmin() {
		s.audit.LogAccessDenied(ctx, actor.UserID, "", "create notification for another user")
		return nil, apperr.Forbidden("admin role required to notify other users")
	}
	if strings.TrimSpace(string(in.Type)) == "" {
		return nil, apperr.Validation("type is required")
	}
	title, err := s.validateTitle(in.Title)
	if err != nil {
		return nil, err
	}
	data, err := model.ParseNotificationData(in.Type, in.Data)
	if err != nil {
		return nil, apperr.Validation("invalid notification data: %v", err)
	}

	n := &model.Notification{
		UserID:      target,
		Type:        in.Type,
		Title:       title,
		Body:        in.Body,
		Description: in.Description,
		Data:        data,
		CreatedAt:   model.Now(),
		ExpiresAt:   in.ExpiresAt,
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		return nil, apperr.Dependency("create notification", err)
	}
	s.publisher.EmitNotification(n.UserID, *n)

	logger.Info(ctx, "通知已建立",
		logger.WithUserID(actor.UserID),
		logger.WithNotificationID(n.ID),
		logger.WithAction("create_notification"))
	return n, nil
}

// MarkRead 把自己的一條通知設為已讀
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	err := s.notifications.MarkRead(ctx, id, userID, model.Now())
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("notification not found")
	}
	if err != nil {
		return apperr.Dependency("mark notification read", err)
	}
	return nil
}

// MarkAllRead 把自己的全部通知設為已讀，返回更新數
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	count, err := s.notifications.MarkAllRead(ctx, userID, model.Now())
	if err != nil {
		return 0, apperr.Dependency("mark all notifications read", err)
	}
	return count, nil
}

// Delete 刪除自己的一條通知
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	err := s.notifications.Delete(ctx, id, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("notification not found")
	}
	if err != nil {
		return apperr.Dependency("delete notification", err)
	}
	return nil
}

// DeleteMany 按 ID 刪除自己的多條通知，返回刪除數
func (s *Service) DeleteMany(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, apperr.Validation("ids is required")
	}
	count, err := s.notifications.DeleteMany(ctx, userID, ids)
	if err != nil {
		return 0, apperr.Dependency("delete notifications", err)
	}
	return count, nil
}

// DeleteRead 清除自己全部已讀通知
func (s *Service) DeleteRead(ctx context.Context, userID string) (int, error) {
	count, err := s.notifications.DeleteRead(ctx, userID)
	if err != nil {
		return 0, apperr.Dependency("delete read notifications", err)
	}
	return count, nil
}

type nopPublisher struct{}

func (nopPublisher) EmitNotification(string, model.Notification) {}
