package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultPerUserCap = 500

// InMemoryStore keeps the newest records per user, dropping the oldest past perUser.
type InMemoryStore struct {
	mu      sync.RWMutex
	perUser int
	records map[string][]TurnRecord
}

func NewInMemoryStore(perUser int) *InMemoryStore {
	if perUser <= 0 {
		perUser = defaultPerUserCap
	}
	return &InMemoryStore{perUser: perUser, records: make(map[string][]TurnRecord)}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record TurnRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	arr := append(s.records[record.UserID], record)
	if over := len(arr) - s.perUser; over > 0 {
		arr = append([]TurnRecord(nil), arr[over:]...)
	}
	s.records[record.UserID] = arr
	return nil
}

// RecentTurns returns up to limit records in chronological order.
func (s *InMemoryStore) RecentTurns(_ context.Context, userID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[userID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TurnRecord, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
