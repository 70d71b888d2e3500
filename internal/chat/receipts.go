package chat

import (
	"context"
	"time"

	"messaging-gateway/internal/apperr"
	"messaging-gateway/internal/model"
	"messaging-gateway/internal/platform/logger"
)

// recordReceipts 為他人發送的訊息建立回執，已存在的保持首次已讀時間
func (s *Service) recordReceipts(ctx context.Context, conversationID, readerID string, messages []model.Message, at time.Time) int {
	receipts := make([]model.ReadReceipt, 0, len(messages))
	for _, m := range messages {
		if m.SenderID == readerID {
			continue
		}
		receipts = append(receipts, model.ReadReceipt{
			MessageID:      m.ID,
			ConversationID: conversationID,
			UserID:         readerID,
			ReadAt:         at,
		})
	}
	if len(receipts) == 0 {
		return 0
	}

	created, err := s.receipts.InsertIfAbsent(ctx, receipts)
	if err != nil {
		logger.Warning(ctx, "寫入已讀回執失敗",
			logger.WithUserID(readerID),
			logger.WithConversationID(conversationID),
			logger.WithDetails(map[string]interface{}{"error": err.Error(), "count": len(receipts)}))
		return 0
	}
	return created
}

// onPageFetch 分頁讀取後記錄回執並前移已讀游標，返回是否有狀態變化
func (s *Service) onPageFetch(ctx context.Context, conversationID, readerID string, newestFirst []model.Message) bool {
	if len(newestFirst) == 0 {
		return false
	}
	created := s.recordReceipts(ctx, conversationID, readerID, newestFirst, model.Now())

	cursor := newestFirst[0].CreatedAt
	advanced, err := s.conversations.AdvanceReadCursor(ctx, conversationID, readerID, cursor)
	if err != nil {
		logger.Warning(ctx, "前移已讀游標失敗",
			logger.WithUserID(readerID),
			logger.WithConversationID(conversationID),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}))
	}

	if created == 0 && !advanced {
		return false
	}
	s.afterRead(ctx, conversationID, readerID, cursor)
	return true
}

// afterRead 推送已讀事件並同步通知狀態，readAt 為已讀游標值，失敗不影響讀取結果
func (s *Service) afterRead(ctx context.Context, conversationID, readerID string, readAt time.Time) {
	s.publisher.EmitReadReceipt(conversationID, readerID, readAt)
	s.syncNotifications(ctx, conversationID, readerID)
}

func (s *Service) syncNotifications(ctx context.Context, conversationID, readerID string) {
	if err := s.notifier.OnConversationRead(detach(ctx), conversationID, readerID); err != nil {
		logger.Warning(ctx, "同步聊天通知已讀狀態失敗",
			logger.WithUserID(readerID),
			logger.WithConversationID(conversationID),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}))
	}
}

// UnreadCount 統計用戶在會話中的未讀訊息數
func (s *Service) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	p, err := s.requireParticipant(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}
	count, err := s.messages.CountUnread(ctx, conversationID, userID, p.LastReadAt)
	if err != nil {
		return 0, apperr.Dependency("count unread", err)
	}
	return count, nil
}

// UnreadSummary 匯總用戶全部未封存會話的未讀數與未讀通知數
func (s *Service) UnreadSummary(ctx context.Context, actor model.Identity) (*model.UnreadSummary, error) {
	participations, err := s.conversations.ListParticipations(ctx, actor.UserID, false)
	if err != nil {
		return nil, apperr.Dependency("list participations", err)
	}

	summary := &model.UnreadSummary{}
	for _, p := range participations {
		count, err := s.messages.CountUnread(ctx, p.ConversationID, actor.UserID, p.LastReadAt)
		if err != nil {
			return nil, apperr.Dependency("count unread", err)
		}
		if count > 0 {
			summary.ConversationsWithUnread++
			summary.TotalUnread += count
		}
	}

	notifications, err := s.notifications.CountUnread(ctx, actor.UserID, model.Now())
	if err != nil {
		return nil, apperr.Dependency("count unread notifications", err)
	}
	summary.UnreadNotifications = notifications
	return summary, nil
}
