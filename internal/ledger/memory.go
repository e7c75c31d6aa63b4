package ledger

import (
	"context"
	"sync"

	"github.com/papertrade/engine/internal/model"
)

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*model.UserLedger
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*model.UserLedger),
	}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*model.UserLedger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyLedger(l), nil
}

func (s *MemoryStore) Create(_ context.Context, l *model.UserLedger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[l.UserID]; ok {
		return ErrAlreadyExists
	}
	s.users[l.UserID] = copyLedger(l)
	return nil
}

func (s *MemoryStore) Update(_ context.Context, userID string, version int64, f Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	if l.Version != version {
		return ErrVersionConflict
	}

	if f.CashBalance != nil {
		l.CashBalance = *f.CashBalance
	}
	if f.Positions != nil {
		l.Positions = append([]model.Position(nil), (*f.Positions)...)
	}
	if f.LoginStreak != nil {
		l.LoginStreak = *f.LoginStreak
	}
	if f.LastLoginAt != nil {
		t := *f.LastLoginAt
		l.LastLoginAt = &t
	}
	if f.LastRewardClaimedAt != nil {
		t := *f.LastRewardClaimedAt
		l.LastRewardClaimedAt = &t
	}
	l.Version++
	return nil
}

// copyLedger deep-copies a ledger so callers can't mutate stored state.
func copyLedger(l *model.UserLedger) *model.UserLedger {
	c := *l
	c.Positions = append([]model.Position(nil), l.Positions...)
	if l.LastLoginAt != nil {
		t := *l.LastLoginAt
		c.LastLoginAt = &t
	}
	if l.LastRewardClaimedAt != nil {
		t := *l.LastRewardClaimedAt
		c.LastRewardClaimedAt = &t
	}
	return &c
}
