package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode/utf8"

	"messaging-gateway/internal/apperr"
	"messaging-gateway/internal/constants"
	"messaging-gateway/internal/model"
	"messaging-gateway/internal/platform/logger"
	"messaging-gateway/internal/storage"
)

// GetOrCreateDirect 返回兩人之間的私聊，不存在時建立；existed 表示是否已存在
func (s *Service) GetOrCreateDirect(ctx context.Context, actor model.Identity, otherUserID string) (*model.Conversation, bool, error) {
	otherUserID = strings.TrimSpace(otherUserID)
	if otherUserID == "" {
		return nil, false, apperr.Validation("other_user_id is required")
	}
	if otherUserID == actor.UserID {
		return nil, false, apperr.Validation("cannot start a direct conversation with yourself")
	}
	s.TouchAccount(ctx, actor)

	conv, err := s.conversations.FindDirect(ctx, actor.UserID, otherUserID)
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, apperr.Dependency("find direct conversation", err)
	}

	conv = &model.Conversation{
		CreatedBy: actor.UserID,
		CreatedAt: model.Now(),
	}
	err = s.conversations.CreateDirect(ctx, conv, actor.UserID, otherUserID)
	switch {
	case err == nil:
		s.audit.LogConversationCreated(ctx, actor.UserID, conv.ID, string(model.ConversationDirect), 2)
		logger.Info(ctx, "私聊已建立",
			logger.WithUserID(actor.UserID),
			logger.WithConversationID(conv.ID),
			logger.WithAction("create_direct"))
		return conv, false, nil
	case errors.Is(err, storage.ErrDuplicate):
		// 並發請求搶先建立，重新查詢一次
		existing, findErr := s.conversations.FindDirect(ctx, actor.UserID, otherUserID)
		if findErr == nil {
			return existing, true, nil
		}
		return nil, false, apperr.Conflict("direct conversation creation raced", findErr)
	}
	return nil, false, apperr.Dependency("create direct conversation", err)
}

// CreateGroup 建立群組，建立者總是成員之一
func (s *Service) CreateGroup(ctx context.Context, actor model.Identity, name string, memberIDs []string) (*model.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("group name is required")
	}
	if utf8.RuneCountInString(name) > s.limits.MaxGroupNameLength {
		return nil, apperr.Validation("group name exceeds %d characters", s.limits.MaxGroupNameLength)
	}
	if strings.Contains(name, "\x00") {
		return nil, apperr.Validation("group name contains illegal characters")
	}

	seen := map[string]struct{}{actor.UserID: {}}
	members := []string{actor.UserID}
	for _, id := range memberIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	if len(members) < constants.MinGroupMembers {
		return nil, apperr.Validation("a group needs at least %d members", constants.MinGroupMembers)
	}
	if len(members) > s.limits.MaxGroupMembers {
		return nil, apperr.Validation("a group allows at most %d members", s.limits.MaxGroupMembers)
	}
	s.TouchAccount(ctx, actor)

	conv := &model.Conversation{
		Name:      name,
		CreatedBy: actor.UserID,
		CreatedAt: model.Now(),
	}
	if err := s.conversations.CreateGroup(ctx, conv, members); err != nil {
		return nil, apperr.Dependency("create group", err)
	}

	s.audit.LogConversationCreated(ctx, actor.UserID, conv.ID, string(model.ConversationGroup), len(members))
	logger.Info(ctx, "群組已建立",
		logger.WithUserID(actor.UserID),
		logger.WithConversationID(conv.ID),
		logger.WithAction("create_group"),
		logger.WithDetails(map[string]interface{}{"members": len(members)}))
	return conv, nil
}

// ListConversations 列出用戶未封存的會話，附帶未讀數與其他參與者摘要
func (s *Service) ListConversations(ctx context.Context, actor model.Identity) ([]model.ConversationView, error) {
	participations, err := s.conversations.ListParticipations(ctx, actor.UserID, false)
	if err != nil {
		return nil, apperr.Dependency("list participations", err)
	}
	if len(participations) == 0 {
		return []model.ConversationView{}, nil
	}

	ids := make([]string, len(participations))
	mine := make(map[string]model.Participant, len(participations))
	for i, p := range participations {
		ids[i] = p.ConversationID
		mine[p.ConversationID] = p
	}
	convs, err := s.conversations.GetByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Dependency("load conversations", err)
	}

	views := make([]model.ConversationView, 0, len(convs))
	others := make(map[string][]string, len(convs))
	var everyone []string
	for _, conv := range convs {
		p := mine[conv.ID]
		unread, err := s.messages.CountUnread(ctx, conv.ID, actor.UserID, p.LastReadAt)
		if err != nil {
			return nil, apperr.Dependency("count unread", err)
		}
		members, err := s.conversations.ListParticipants(ctx, conv.ID)
		if err != nil {
			return nil, apperr.Dependency("list participants", err)
		}
		for _, m := range members {
			if m.UserID != actor.UserID {
				others[conv.ID] = append(others[conv.ID], m.UserID)
				everyone = append(everyone, m.UserID)
			}
		}
		views = append(views, model.ConversationView{
			Conversation: conv,
			UnreadCount:  unread,
			IsMuted:      p.IsMuted,
			IsArchived:   p.IsArchived,
			LastReadAt:   p.LastReadAt,
		})
	}

	summaries := s.summaries(ctx, everyone)
	for i := range views {
		list := []model.ParticipantSummary{}
		for _, id := range others[views[i].ID] {
			list = append(list, summaries[id])
		}
		views[i].OtherParticipants = list
	}

	sortConversations(views)
	return views, nil
}

// sortConversations 有訊息的會話按最後訊息時間倒序，無訊息的排在最後
func sortConversations(views []model.ConversationView) {
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		switch {
		case a.HasMessages() && b.HasMessages():
			if !a.LastMessageAt.Equal(*b.LastMessageAt) {
				return a.LastMessageAt.After(*b.LastMessageAt)
			}
		case a.HasMessages() != b.HasMessages():
			return a.HasMessages()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

// MarkRead 把已讀游標前移到當前最新一則訊息，並為未讀訊息補建回執.
// 游標取訊息時間而非牆鐘時間，之後到達的訊息時間必然更晚，仍計為未讀.
func (s *Service) MarkRead(ctx context.Context, actor model.Identity, conversationID string) error {
	p, err := s.requireParticipant(ctx, conversationID, actor.UserID)
	if err != nil {
		return err
	}

	newestFirst, err := s.messages.Page(ctx, conversationID, nil, s.limits.MaxPageSize)
	if err != nil {
		return apperr.Dependency("load messages", err)
	}
	if len(newestFirst) == 0 {
		s.syncNotifications(ctx, conversationID, actor.UserID)
		s.audit.LogConversationRead(ctx, actor.UserID, conversationID, 0)
		return nil
	}

	pending := make([]model.Message, 0, len(newestFirst))
	for _, m := range newestFirst {
		if p.LastReadAt == nil || m.CreatedAt.After(*p.LastReadAt) {
			pending = append(pending, m)
		}
	}
	created := s.recordReceipts(ctx, conversationID, actor.UserID, pending, model.Now())

	cursor := newestFirst[0].CreatedAt
	if err := s.conversations.MarkRead(ctx, conversationID, actor.UserID, cursor); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.ErrNotParticipant
		}
		return apperr.Dependency("mark read", err)
	}

	s.afterRead(ctx, conversationID, actor.UserID, cursor)
	s.audit.LogConversationRead(ctx, actor.UserID, conversationID, created)
	return nil
}

// SetMute 設置會話免打擾
func (s *Service) SetMute(ctx context.Context, actor model.Identity, conversationID string, muted bool) error {
	err := s.conversations.SetMuted(ctx, conversationID, actor.UserID, muted)
	return s.participantUpdateError(ctx, err, conversationID, actor.UserID, "set mute")
}

// SetArchive 設置會話封存
func (s *Service) SetArchive(ctx context.Context, actor model.Identity, conversationID string, archived bool) error {
	err := s.conversations.SetArchived(ctx, conversationID, actor.UserID, archived)
	return s.participantUpdateError(ctx, err, conversationID, actor.UserID, "set archive")
}

func (s *Service) participantUpdateError(ctx context.Context, err error, conversationID, userID, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		s.audit.LogAccessDenied(ctx, userID, conversationID, "not a participant")
		return apperr.ErrNotParticipant
	}
	return apperr.Dependency(op, err)
}
