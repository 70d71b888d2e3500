package memory

import (
	"context"
	"sort"
	"time"

	"messaging-gateway/internal/model"
	"messaging-gateway/internal/storage"
)

type notificationRepo struct {
	s *Store
}

func (r *notificationRepo) Create(_ context.Context, n *model.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.insertLocked(n)
	return nil
}

func (r *notificationRepo) CreateMany(_ context.Context, ns []*model.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, n := range ns {
		r.insertLocked(n)
	}
	return nil
}

func (r *notificationRepo) insertLocked(n *model.Notification) {
	if n.ID == "" {
		n.ID = newID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = model.Now()
	}
	stored := *n
	r.s.notifications[n.ID] = &stored
}

func (r *notificationRepo) List(_ context.Context, userID string, filter storage.NotificationFilter) ([]model.Notification, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := []model.Notification{}
	for _, n := range r.s.notifications {
		if n.UserID != userID || n.Expired(filter.Now) {
			continue
		}
		if filter.UnreadOnly && n.IsRead {
			continue
		}
		result = append(result, *n)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []model.Notification{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *notificationRepo) CountUnread(_ context.Context, userID string, now time.Time) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	count := 0
	for _, n := range r.s.notifications {
		if n.UserID == userID && !n.IsRead && !n.Expired(now) {
			count++
		}
	}
	return count, nil
}

func (r *notificationRepo) MarkRead(_ context.Context, id, userID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n, ok := r.s.notifications[id]
	if !ok || n.UserID != userID {
		return storage.ErrNotFound
	}
	n.IsRead = true
	n.ReadAt = &at
	return nil
}

func (r *notificationRepo) MarkAllRead(_ context.Context, userID string, at time.Time) (int, error) {
	return r.markWhere(at, func(n *model.Notification) bool {
		return n.UserID == userID
	}), nil
}

func (r *notificationRepo) MarkConversationRead(_ context.Context, userID, conversationID string, at time.Time) (int, error) {
	return r.markWhere(at, func(n *model.Notification) bool {
		return n.UserID == userID &&
			n.Type == model.NotificationChatMessage &&
			n.Data.ConversationID() == conversationID
	}), nil
}

func (r *notificationRepo) markWhere(at time.Time, match func(*model.Notification) bool) int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	count := 0
	for _, n := range r.s.notifications {
		if n.IsRead || !match(n) {
			continue
		}
		n.IsRead = true
		n.ReadAt = &at
		count++
	}
	return count
}

func (r *notificationRepo) Delete(_ context.Context, id, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n, ok := r.s.notifications[id]
	if !ok || n.UserID != userID {
		return storage.ErrNotFound
	}
	delete(r.s.notifications, id)
	return nil
}

func (r *notificationRepo) DeleteMany(_ context.Context, userID string, ids []string) (int, error) {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	return r.deleteWhere(func(n *model.Notification) bool {
		_, ok := wanted[n.ID]
		return ok && n.UserID == userID
	}), nil
}

func (r *notificationRepo) DeleteRead(_ context.Context, userID string) (int, error) {
	return r.deleteWhere(func(n *model.Notification) bool {
		return n.UserID == userID && n.IsRead
	}), nil
}

func (r *notificationRepo) deleteWhere(match func(*model.Notification) bool) int {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	count := 0
	for id, n := range r.s.notifications {
		if match(n) {
			delete(r.s.notifications, id)
			count++
		}
	}
	return count
}
