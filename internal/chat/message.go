package chat

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
	"messaging-gateway/internal/storage"
)

// SendInput 發送訊息的輸入
type SendInput struct {
	Body     string
	Type     model.MessageType
	FileURL  string
	Metadata map[string]any
}

// PageQuery 訊息分頁條件
type PageQuery struct {
	Limit  int
	Before *time.Time
}

func (s *Service) validateBody(body string) error {
	if utf8.RuneCountInString(body) > s.limits.MaxMessageLength {
		return apperr.Validation("message exceeds %d characters", s.limits.MaxMessageLength)
	}
	if strings.Contains(body, "\x00") {
		return apperr.Validation("message contains illegal characters")
	}
	return nil
}

func (s *Service) validateSend(in *SendInput) error {
	if in.Type == "" {
		in.Type = model.MessageText
	}
	if !in.Type.Valid() {
		return apperr.Validation("unsupported message type %q", in.Type)
	}
	switch in.Type {
	case model.MessageText:
		if strings.TrimSpace(in.Body) == "" {
			return apperr.Validation("message body is required")
		}
	case model.MessageFile:
		if strings.TrimSpace(in.FileURL) == "" {
			return apperr.Validation("file_url is required for file messages")
		}
		if len(in.FileURL) > constants.MaxFileURLLength {
			return apperr.Validation("file_url exceeds %d characters", constants.MaxFileURLLength)
		}
	}
	return s.validateBody(in.Body)
}

// SendMessage 發送訊息，寫入成功後派生通知並推送
func (s *Service) SendMessage(ctx context.Context, actor model.Identity, conversationID string, in SendInput) (*model.MessageView, error) {
	if err := s.validateSend(&in); err != nil {
		return nil, err
	}
	if _, err := s.requireParticipant(ctx, conversationID, actor.UserID); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ConversationID: conversationID,
		SenderID:       actor.UserID,
		Body:           in.Body,
		Type:           in.Type,
		FileURL:        strings.TrimSpace(in.FileURL),
		Metadata:       model.MetadataFromMap(in.Metadata),
		CreatedAt:      model.Now(),
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound("conversation not found")
		}
		return nil, apperr.Dependency("append message", err)
	}

	view := model.MessageView{
		Message: *msg,
		Sender:  s.summaries(ctx, []string{actor.UserID})[actor.UserID],
		ReadBy:  []model.ReadBy{},
	}
	if actor.DisplayName != "" {
		view.Sender.DisplayName = actor.DisplayName
	}

	s.fanOut(ctx, msg, actor)
	s.publisher.EmitNewMessage(conversationID, view)
	s.audit.LogMessageSent(ctx, actor.UserID, conversationID, msg.ID, string(msg.Type))
	s.TouchAccount(ctx, actor)

	logger.Info(ctx, "訊息已發送",
		logger.WithUserID(actor.UserID),
		logger.WithConversationID(conversationID),
		logger.WithMessageID(msg.ID),
		logger.WithAction("send_message"))
	return &view, nil
}

// fanOut 派生通知，失敗只記錄日誌
func (s *Service) fanOut(ctx context.Context, msg *model.Message, sender model.Identity) {
	bg := detach(ctx)
	participants, err := s.conversations.ListParticipants(bg, msg.ConversationID)
	if err == nil {
		err = s.notifier.OnMessageSent(bg, msg, sender, participants)
	}
	if err != nil {
		logger.Error(ctx, "派生聊天通知失敗",
			logger.WithUserID(sender.UserID),
			logger.WithConversationID(msg.ConversationID),
			logger.WithMessageID(msg.ID),
			logger.WithDetails(map[string]interface{}{"error": err.Error()}))
	}
}

// Messages 分頁讀取訊息，按時間正序返回並記錄已讀
func (s *Service) Messages(ctx context.Context, actor model.Identity, conversationID string, q PageQuery) (*model.MessagePage, error) {
	if _, err := s.requireParticipant(ctx, conversationID, actor.UserID); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = s.limits.DefaultPageSize
	}
	if limit > s.limits.MaxPageSize {
		limit = s.limits.MaxPageSize
	}

	newestFirst, err := s.messages.Page(ctx, conversationID, q.Before, limit+1)
	if err != nil {
		return nil, apperr.Dependency("load messages", err)
	}
	hasMore := len(newestFirst) > limit
	if hasMore {
		newestFirst = newestFirst[:limit]
	}

	page := &model.MessagePage{Messages: []model.MessageView{}, HasMore: hasMore}
	if len(newestFirst) == 0 {
		return page, nil
	}

	s.onPageFetch(ctx, conversationID, actor.UserID, newestFirst)

	ids := make([]string, len(newestFirst))
	senders := make([]string, 0, len(newestFirst))
	for i, m := range newestFirst {
		ids[i] = m.ID
		senders = append(senders, m.SenderID)
	}
	receipts, err := s.receipts.ListForMessages(ctx, ids)
	if err != nil {
		return nil, apperr.Dependency("load receipts", err)
	}
	readBy := make(map[string][]model.ReadBy, len(ids))
	for _, r := range receipts {
		readBy[r.MessageID] = append(readBy[r.MessageID], model.ReadBy{UserID: r.UserID, ReadAt: r.ReadAt})
	}
	summaries := s.summaries(ctx, senders)

	page.Messages = make([]model.MessageView, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		m := newestFirst[i]
		list := []model.ReadBy{}
		for _, r := range readBy[m.ID] {
			if r.UserID != m.SenderID {
				list = append(list, r)
			}
		}
		page.Messages = append(page.Messages, model.MessageView{
			Message: m,
			Sender:  summaries[m.SenderID],
			ReadBy:  list,
		})
	}
	oldest := page.Messages[0].CreatedAt
	page.NextBefore = &oldest
	return page, nil
}

// EditMessage 修改自己發送的文字訊息
func (s *Service) EditMessage(ctx context.Context, actor model.Identity, messageID, body string) (*model.MessageView, error) {
	if strings.TrimSpace(body) == "" {
		return nil, apperr.Validation("message body is required")
	}
	if err := s.validateBody(body); err != nil {
		return nil, err
	}

	current, err := s.messages.GetByID(ctx, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, apperr.Dependency("load message", err)
	}
	if current.SenderID != actor.UserID || current.IsDeleted {
		return nil, apperr.NotFound("message not found")
	}
	if current.Type != model.MessageText {
		return nil, apperr.Validation("only text messages can be edited")
	}

	edited, err := s.messages.Edit(ctx, messageID, actor.UserID, body, model.Now())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("message not found")
	}
	if err != nil {
		return nil, apperr.Dependency("edit message", err)
	}

	view := model.MessageView{
		Message: *edited,
		Sender:  s.summaries(ctx, []string{actor.UserID})[actor.UserID],
		ReadBy:  []model.ReadBy{},
	}
	s.publisher.EmitMessageEdited(edited.ConversationID, view)
	s.audit.LogMessageModified(ctx, actor.UserID, edited.ConversationID, edited.ID, "edit_message")
	return &view, nil
}

// DeleteMessage 軟刪除自己發送的訊息，已讀回執保留
func (s *Service) DeleteMessage(ctx context.Context, actor model.Identity, messageID string) error {
	deleted, err := s.messages.SoftDelete(ctx, messageID, actor.UserID, model.Now())
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("message not found")
	}
	if err != nil {
		return apperr.Dependency("delete message", err)
	}

	s.publisher.EmitMessageDeleted(deleted.ConversationID, deleted.ID, *deleted.DeletedAt)
	s.audit.LogMessageModified(ctx, actor.UserID, deleted.ConversationID, deleted.ID, "delete_message")
	logger.Info(ctx, "訊息已刪除",
		logger.WithUserID(actor.UserID),
		logger.WithConversationID(deleted.ConversationID),
		logger.WithMessageID(deleted.ID),
		logger.WithAction("delete_message"))
	return nil
}
