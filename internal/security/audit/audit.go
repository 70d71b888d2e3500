package audit

import (
	"context"
	"time"

	"messaging-gateway/internal/platform/logger"
)

// 審計結果
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
	ResultBlocked = "blocked"
)

// AuditService 審計服務，事件以 NOTICE 級別寫入結構化日誌
type AuditService struct {
	enabled bool
	sink    func(ctx context.Context, event AuditEvent)
}

// NewAuditService 創建審計服務
func NewAuditService(enabled bool) *AuditService {
	return &AuditService{enabled: enabled, sink: writeEvent}
}

// AuditEvent 審計事件
type AuditEvent struct {
	Timestamp      time.Time              `json:"timestamp"`
	EventType      string                 `json:"event_type"`
	UserID         string                 `json:"user_id"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	MessageID      string                 `json:"message_id,omitempty"`
	Action         string                 `json:"action"`
	Result         string                 `json:"result"`
	Details        map[string]interface{} `json:"details,omitempty"`
	IPAddress      string                 `json:"ip_address,omitempty"`
	UserAgent      string                 `json:"user_agent,omitempty"`
}

type clientKey struct{}

type clientInfo struct {
	ip        string
	userAgent string
}

// WithClient 把請求來源附加到 context，審計事件會自動帶上
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey{}, clientInfo{ip: ip, userAgent: userAgent})
}

// LogConversationCreated 記錄會話創建
func (a *AuditService) LogConversationCreated(ctx context.Context, userID, conversationID, conversationType string, members int) {
	a.record(ctx, AuditEvent{
		EventType:      "conversation_creation",
		UserID:         userID,
		ConversationID: conversationID,
		Action:         "create_conversation",
		Result:         ResultSuccess,
		Details: map[string]interface{}{
			"conversation_type": conversationType,
			"members":           members,
		},
	})
}

// LogMessageSent 記錄訊息發送
func (a *AuditService) LogMessageSent(ctx context.Context, userID, conversationID, messageID, messageType string) {
	a.record(ctx, AuditEvent{
		EventType:      "message_sent",
		UserID:         userID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Action:         "send_message",
		Result:         ResultSuccess,
		Details: map[string]interface{}{
			"message_type": messageType,
		},
	})
}

// LogMessageModified 記錄訊息修改或刪除
func (a *AuditService) LogMessageModified(ctx context.Context, userID, conversationID, messageID, operation string) {
	a.record(ctx, AuditEvent{
		EventType:      "message_modification",
		UserID:         userID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Action:         operation,
		Result:         ResultSuccess,
	})
}

// LogConversationRead 記錄會話已讀
func (a *AuditService) LogConversationRead(ctx context.Context, userID, conversationID string, receipts int) {
	a.record(ctx, AuditEvent{
		EventType:      "conversation_read",
		UserID:         userID,
		ConversationID: conversationID,
		Action:         "mark_as_read",
		Result:         ResultSuccess,
		Details: map[string]interface{}{
			"receipts_created": receipts,
		},
	})
}

// LogBroadcast 記錄廣播通知
func (a *AuditService) LogBroadcast(ctx context.Context, userID, title string, recipients int) {
	a.record(ctx, AuditEvent{
		EventType: "notification_broadcast",
		UserID:    userID,
		Action:    "broadcast",
		Result:    ResultSuccess,
		Details: map[string]interface{}{
			"title":      title,
			"recipients": recipients,
		},
	})
}

// LogAuthenticationFailure 記錄認證失敗
func (a *AuditService) LogAuthenticationFailure(ctx context.Context, userID, reason string) {
	a.record(ctx, AuditEvent{
		EventType: "authentication",
		UserID:    userID,
		Action:    "authenticate",
		Result:    ResultFailure,
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded 記錄速率限制超過
func (a *AuditService) LogRateLimitExceeded(ctx context.Context, key, endpoint string) {
	a.record(ctx, AuditEvent{
		EventType: "rate_limit",
		Action:    "api_request",
		Result:    ResultBlocked,
		Details: map[string]interface{}{
			"key":      key,
			"endpoint": endpoint,
			"reason":   "rate_limit_exceeded",
		},
	})
}

// LogAccessDenied 記錄訪問被拒絕
func (a *AuditService) LogAccessDenied(ctx context.Context, userID, conversationID, reason string) {
	a.record(ctx, AuditEvent{
		EventType:      "access_denied",
		UserID:         userID,
		ConversationID: conversationID,
		Action:         "access_resource",
		Result:         ResultDenied,
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

// IsEnabled 檢查審計是否啟用
func (a *AuditService) IsEnabled() bool {
	return a != nil && a.enabled
}

func (a *AuditService) record(ctx context.Context, event AuditEvent) {
	if !a.IsEnabled() {
		return
	}
	event.Timestamp = time.Now().UTC()
	if info, ok := ctx.Value(clientKey{}).(clientInfo); ok {
		event.IPAddress = info.ip
		event.UserAgent = info.userAgent
	}
	a.sink(ctx, event)
}

func writeEvent(ctx context.Context, event AuditEvent) {
	logger.Notice(ctx, "[AUDIT] "+event.EventType,
		logger.WithUserID(event.UserID),
		logger.WithConversationID(event.ConversationID),
		logger.WithMessageID(event.MessageID),
		logger.WithAction(event.Action),
		logger.WithLabels(map[string]string{"audit": "true", "result": event.Result}),
		logger.WithDetails(map[string]interface{}{
			"event":      event,
			"ip_address": event.IPAddress,
			"user_agent": event.UserAgent,
		}),
	)
}
