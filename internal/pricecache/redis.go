package pricecache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/papertrade/engine/internal/model"
)

// RedisEntryStore keeps quotes in Redis so multiple engine instances share
// one cache. Keys are never expired by Redis; freshness is decided from
// the quote's fetched_at by the cache layer.
type RedisEntryStore struct {
	rdb *redis.Client
}

// NewRedisEntryStore creates a Redis-backed entry store.
func NewRedisEntryStore(rdb *redis.Client) *RedisEntryStore {
	return &RedisEntryStore{rdb: rdb}
}

func (s *RedisEntryStore) Get(ctx context.Context, symbol string) (model.PriceQuote, bool, error) {
	data, err := s.rdb.Get(ctx, quoteKey(symbol)).Bytes()
	if err == redis.Nil {
		return model.PriceQuote{}, false, nil
	}
	if err != nil {
		return model.PriceQuote{}, false, err
	}

	var q model.PriceQuote
	if err := json.Unmarshal(data, &q); err != nil {
		return model.PriceQuote{}, false, fmt.Errorf("decode quote %s: %w", symbol, err)
	}
	return q, true, nil
}

func (s *RedisEntryStore) GetMany(ctx context.Context, symbols []string) (map[string]model.PriceQuote, error) {
	if len(symbols) == 0 {
		return map[string]model.PriceQuote{}, nil
	}

	keys := make([]string, len(symbols))
	for i, symbol := range symbols {
		keys[i] = quoteKey(symbol)
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]model.PriceQuote, len(symbols))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // absent key
		}
		var q model.PriceQuote
		if json.Unmarshal([]byte(raw), &q) == nil {
			out[symbols[i]] = q
		}
	}
	return out, nil
}

func (s *RedisEntryStore) Put(ctx context.Context, q model.PriceQuote) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode quote %s: %w", q.Symbol, err)
	}
	return s.rdb.Set(ctx, quoteKey(q.Symbol), data, 0).Err()
}

func quoteKey(symbol string) string { return fmt.Sprintf("price:%s", symbol) }
