package memory

import (
	"context"
	"sort"
	"time"

	"messaging-gateway/internal/model"
	"messaging-gateway/internal/storage"
)

type messageRepo struct {
	s *Store
}

func (r *messageRepo) Append(_ context.Context, msg *model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	conv, ok := r.s.conversations[msg.ConversationID]
	if !ok {
		return storage.ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = model.Now()
	}
	msg.CreatedAt = model.NextMessageTime(msg.CreatedAt, conv.LastMessageAt)

	stored := *msg
	r.s.messages[msg.ID] = &stored

	at := msg.CreatedAt
	conv.LastMessageAt = &at
	conv.LastMessagePreview = msg.SummaryText()

	for key, p := range r.s.participants {
		if key.conversationID == msg.ConversationID && key.userID != msg.SenderID {
			p.IsArchived = false
		}
	}
	return nil
}

func (r *messageRepo) GetByID(_ context.Context, id string) (*model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	msg, ok := r.s.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	m := *msg
	return &m, nil
}

func (r *messageRepo) Page(_ context.Context, conversationID string, before *time.Time, limit int) ([]model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	page := r.liveLocked(conversationID)
	if before != nil {
		filtered := page[:0]
		for _, m := range page {
			if m.CreatedAt.Before(*before) {
				filtered = append(filtered, m)
			}
		}
		page = filtered
	}
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	return page, nil
}

// liveLocked 返回會話中未刪除的訊息，新訊息在前
func (r *messageRepo) liveLocked(conversationID string) []model.Message {
	live := []model.Message{}
	for _, m := range r.s.messages {
		if m.ConversationID == conversationID && !m.IsDeleted {
			live = append(live, *m)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].CreatedAt.Equal(live[j].CreatedAt) {
			return live[i].ID > live[j].ID
		}
		return live[i].CreatedAt.After(live[j].CreatedAt)
	})
	return live
}

func (r *messageRepo) Edit(_ context.Context, id, senderID, body string, at time.Time) (*model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	msg, err := r.ownedLocked(id, senderID)
	if err != nil {
		return nil, err
	}
	msg.Body = body
	msg.IsEdited = true
	msg.EditedAt = &at
	r.refreshSummaryLocked(msg.ConversationID)

	m := *msg
	return &m, nil
}

func (r *messageRepo) SoftDelete(_ context.Context, id, senderID string, at time.Time) (*model.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	msg, err := r.ownedLocked(id, senderID)
	if err != nil {
		return nil, err
	}
	msg.IsDeleted = true
	msg.DeletedAt = &at
	r.refreshSummaryLocked(msg.ConversationID)

	m := *msg
	return &m, nil
}

func (r *messageRepo) ownedLocked(id, senderID string) (*model.Message, error) {
	msg, ok := r.s.messages[id]
	if !ok || msg.IsDeleted || msg.SenderID != senderID {
		return nil, storage.ErrNotFound
	}
	return msg, nil
}

func (r *messageRepo) refreshSummaryLocked(conversationID string) {
	conv, ok := r.s.conversations[conversationID]
	if !ok {
		return
	}
	live := r.liveLocked(conversationID)
	if len(live) == 0 {
		conv.LastMessageAt = nil
		conv.LastMessagePreview = ""
		return
	}
	at := live[0].CreatedAt
	conv.LastMessageAt = &at
	conv.LastMessagePreview = live[0].SummaryText()
}

func (r *messageRepo) CountUnread(_ context.Context, conversationID, userID string, since *time.Time) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	count := 0
	for _, m := range r.s.messages {
		if m.ConversationID != conversationID || m.IsDeleted || m.SenderID == userID {
			continue
		}
		if since != nil && !m.CreatedAt.After(*since) {
			continue
		}
		count++
	}
	return count, nil
}
