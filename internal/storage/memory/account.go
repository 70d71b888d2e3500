package memory

import (
	"context"
	"sort"

	"messaging-gateway/internal/model"
)

type accountRepo struct {
	s *Store
}

func (r *accountRepo) Upsert(_ context.Context, account *model.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored := *account
	if existing, ok := r.s.accounts[account.ID]; ok {
		if stored.AvatarURL == "" {
			stored.AvatarURL = existing.AvatarURL
		}
		if stored.Role == "" {
			stored.Role = existing.Role
		}
	}
	r.s.accounts[account.ID] = &stored
	return nil
}

func (r *accountRepo) GetMany(_ context.Context, ids []string) (map[string]model.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make(map[string]model.Account, len(ids))
	for _, id := range ids {
		if a, ok := r.s.accounts[id]; ok {
			result[id] = *a
		}
	}
	return result, nil
}

func (r *accountRepo) ListActiveIDs(_ context.Context) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	ids := []string{}
	for id, a := range r.s.accounts {
		if a.IsActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
