package memory

import (
	"context"
	"sort"

	"messaging-gateway/internal/model"
)

type receiptRepo struct {
	s *Store
}

func (r *receiptRepo) InsertIfAbsent(_ context.Context, receipts []model.ReadReceipt) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	inserted := 0
	for _, rc := range receipts {
		key := receiptKey{rc.MessageID, rc.UserID}
		if _, exists := r.s.receipts[key]; exists {
			continue
		}
		stored := rc
		r.s.receipts[key] = &stored
		inserted++
	}
	return inserted, nil
}

func (r *receiptRepo) ListForMessages(_ context.Context, messageIDs []string) ([]model.ReadReceipt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = struct{}{}
	}

	result := []model.ReadReceipt{}
	for key, rc := range r.s.receipts {
		if _, ok := wanted[key.messageID]; ok {
			result = append(result, *rc)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].ReadAt.Equal(result[j].ReadAt) {
			return result[i].UserID < result[j].UserID
		}
		return result[i].ReadAt.Before(result[j].ReadAt)
	})
	return result, nil
}
