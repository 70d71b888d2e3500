package memory

import (
	"context"
	"sort"
	"time"

	"messaging-gateway/internal/model"
	"messaging-gateway/internal/storage"
)

type conversationRepo struct {
	s *Store
}

func (r *conversationRepo) FindDirect(_ context.Context, a, b string) (*model.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.directIndex[model.DirectKey(a, b)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	conv := *r.s.conversations[id]
	return &conv, nil
}

func (r *conversationRepo) CreateDirect(_ context.Context, conv *model.Conversation, a, b string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := model.DirectKey(a, b)
	if _, exists := r.s.directIndex[key]; exists {
		return storage.ErrDuplicate
	}
	conv.Type = model.ConversationDirect
	conv.DirectKey = key
	r.insertLocked(conv, []string{a, b})
	r.s.directIndex[key] = conv.ID
	return nil
}

func (r *conversationRepo) CreateGroup(_ context.Context, conv *model.Conversation, members []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	conv.Type = model.ConversationGroup
	conv.DirectKey = ""
	r.insertLocked(conv, members)
	return nil
}

func (r *conversationRepo) insertLocked(conv *model.Conversation, members []string) {
	if conv.ID == "" {
		conv.ID = newID()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = model.Now()
	}
	stored := *conv
	r.s.conversations[conv.ID] = &stored
	for _, userID := range members {
		r.s.participants[participantKey{conv.ID, userID}] = &model.Participant{
			ConversationID: conv.ID,
			UserID:         userID,
			JoinedAt:       conv.CreatedAt,
		}
	}
}

func (r *conversationRepo) GetByID(_ context.Context, id string) (*model.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	conv, ok := r.s.conversations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *conv
	return &c, nil
}

func (r *conversationRepo) GetByIDs(_ context.Context, ids []string) ([]model.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	convs := []model.Conversation{}
	for _, id := range ids {
		if conv, ok := r.s.conversations[id]; ok {
			convs = append(convs, *conv)
		}
	}
	return convs, nil
}

func (r *conversationRepo) GetParticipant(_ context.Context, conversationID, userID string) (*model.Participant, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.participants[participantKey{conversationID, userID}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *conversationRepo) ListParticipants(_ context.Context, conversationID string) ([]model.Participant, error) {
	return r.filter(func(p *model.Participant) bool {
		return p.ConversationID == conversationID
	}), nil
}

func (r *conversationRepo) ListParticipations(_ context.Context, userID string, includeArchived bool) ([]model.Participant, error) {
	return r.filter(func(p *model.Participant) bool {
		return p.UserID == userID && (includeArchived || !p.IsArchived)
	}), nil
}

func (r *conversationRepo) filter(match func(*model.Participant) bool) []model.Participant {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := []model.Participant{}
	for _, p := range r.s.participants {
		if match(p) {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].JoinedAt.Equal(result[j].JoinedAt) {
			return result[i].UserID < result[j].UserID
		}
		return result[i].JoinedAt.Before(result[j].JoinedAt)
	})
	return result
}

func (r *conversationRepo) MarkRead(_ context.Context, conversationID, userID string, at time.Time) error {
	return r.update(conversationID, userID, func(p *model.Participant) {
		p.LastReadAt = &at
	})
}

func (r *conversationRepo) AdvanceReadCursor(_ context.Context, conversationID, userID string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.participants[participantKey{conversationID, userID}]
	if !ok {
		return false, nil
	}
	if p.LastReadAt != nil && !p.LastReadAt.Before(at) {
		return false, nil
	}
	p.LastReadAt = &at
	return true, nil
}

func (r *conversationRepo) SetMuted(_ context.Context, conversationID, userID string, muted bool) error {
	return r.update(conversationID, userID, func(p *model.Participant) {
		p.IsMuted = muted
	})
}

func (r *conversationRepo) SetArchived(_ context.Context, conversationID, userID string, archived bool) error {
	return r.update(conversationID, userID, func(p *model.Participant) {
		p.IsArchived = archived
	})
}

func (r *conversationRepo) update(conversationID, userID string, fn func(*model.Participant)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.participants[participantKey{conversationID, userID}]
	if !ok {
		return storage.ErrNotFound
	}
	fn(p)
	return nil
}
