// Package ledger defines persistence for per-user trading ledgers.
// Implementations include PostgreSQL (source of truth) and in-memory
// (for testing and single-node development).
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/model"
)

var (
	// ErrNotFound is returned when no ledger exists for a user id.
	ErrNotFound = errors.New("ledger: user not found")

	// ErrAlreadyExists is returned when creating a ledger for a user id
	// that already has one.
	ErrAlreadyExists = errors.New("ledger: user already exists")

	// ErrVersionConflict is returned when an update's expected version no
	// longer matches the stored record. The caller read a stale snapshot
	// and must re-read before retrying.
	ErrVersionConflict = errors.New("ledger: version conflict")
)

// Fields is a partial update of a ledger record. Nil members are left
// untouched. The store applies the named fields and bumps the version in
// one conditional write.
type Fields struct {
	CashBalance         *decimal.Decimal
	Positions           *[]model.Position
	LoginStreak         *int
	LastLoginAt         *time.Time
	LastRewardClaimedAt *time.Time
}

// Store is the ledger persistence interface. The store does not validate
// ledger invariants — position uniqueness and balance checks are the trade
// engine's job. It does enforce write ordering: every Update is conditional
// on the version the caller read, so racing read-modify-write cycles fail
// with ErrVersionConflict instead of silently losing a write.
type Store interface {
	// Get retrieves a ledger by user id.
	Get(ctx context.Context, userID string) (*model.UserLedger, error)

	// Create persists a new ledger. Fails with ErrAlreadyExists if the
	// user id is taken; callers wanting idempotent initialization check
	// existence first.
	Create(ctx context.Context, l *model.UserLedger) error

	// Update applies a partial field update, conditional on version.
	Update(ctx context.Context, userID string, version int64, f Fields) error
}
