package pricecache

import (
	"context"
	"sync"

	"github.com/papertrade/engine/internal/model"
)

// MemoryEntryStore keeps quotes in a map. Used for testing and single-node
// deployments without Redis.
type MemoryEntryStore struct {
	mu     sync.RWMutex
	quotes map[string]model.PriceQuote
}

// NewMemoryEntryStore creates an empty in-memory entry store.
func NewMemoryEntryStore() *MemoryEntryStore {
	return &MemoryEntryStore{
		quotes: make(map[string]model.PriceQuote),
	}
}

func (s *MemoryEntryStore) Get(_ context.Context, symbol string) (model.PriceQuote, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.quotes[symbol]
	return q, ok, nil
}

func (s *MemoryEntryStore) GetMany(_ context.Context, symbols []string) (map[string]model.PriceQuote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.PriceQuote, len(symbols))
	for _, symbol := range symbols {
		if q, ok := s.quotes[symbol]; ok {
			out[symbol] = q
		}
	}
	return out, nil
}

func (s *MemoryEntryStore) Put(_ context.Context, q model.PriceQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.quotes[q.Symbol] = q
	return nil
}
