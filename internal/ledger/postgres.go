package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Cash is stored as NUMERIC for exact decimal precision; positions are a
// JSONB document, matching the one-document-per-user shape of the ledger.
//
// Schema:
//
//	CREATE TABLE user_ledgers (
//	    user_id                TEXT PRIMARY KEY,
//	    cash_balance           NUMERIC NOT NULL,
//	    positions              JSONB NOT NULL DEFAULT '[]',
//	    login_streak           INT NOT NULL DEFAULT 0,
//	    last_login_at          TIMESTAMPTZ,
//	    last_reward_claimed_at TIMESTAMPTZ,
//	    version                BIGINT NOT NULL DEFAULT 0,
//	    created_at             TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*model.UserLedger, error) {
	var (
		l         model.UserLedger
		cash      string
		positions []byte
	)

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, cash_balance::TEXT, positions, login_streak,
		        last_login_at, last_reward_claimed_at, version, created_at
		 FROM user_ledgers WHERE user_id = $1`, userID).
		Scan(&l.UserID, &cash, &positions, &l.LoginStreak,
			&l.LastLoginAt, &l.LastRewardClaimedAt, &l.Version, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger %s: %w", userID, err)
	}

	l.CashBalance, err = decimal.NewFromString(cash)
	if err != nil {
		return nil, fmt.Errorf("get ledger %s: bad cash balance %q: %w", userID, cash, err)
	}
	if err := json.Unmarshal(positions, &l.Positions); err != nil {
		return nil, fmt.Errorf("get ledger %s: decode positions: %w", userID, err)
	}
	return &l, nil
}

func (s *PostgresStore) Create(ctx context.Context, l *model.UserLedger) error {
	positions, err := json.Marshal(l.Positions)
	if err != nil {
		return fmt.Errorf("create ledger %s: encode positions: %w", l.UserID, err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO user_ledgers
		   (user_id, cash_balance, positions, login_streak,
		    last_login_at, last_reward_claimed_at, version, created_at)
		 VALUES ($1, $2::NUMERIC, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id) DO NOTHING`,
		l.UserID, l.CashBalance.String(), positions, l.LoginStreak,
		l.LastLoginAt, l.LastRewardClaimedAt, l.Version, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create ledger %s: %w", l.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, userID string, version int64, f Fields) error {
	set := "version = version + 1"
	args := []any{userID, version}

	add := func(expr string, v any) {
		args = append(args, v)
		set += fmt.Sprintf(", %s = $%d", expr, len(args))
	}

	if f.CashBalance != nil {
		args = append(args, f.CashBalance.String())
		set += fmt.Sprintf(", cash_balance = $%d::NUMERIC", len(args))
	}
	if f.Positions != nil {
		positions, err := json.Marshal(*f.Positions)
		if err != nil {
			return fmt.Errorf("update ledger %s: encode positions: %w", userID, err)
		}
		add("positions", positions)
	}
	if f.LoginStreak != nil {
		add("login_streak", *f.LoginStreak)
	}
	if f.LastLoginAt != nil {
		add("last_login_at", *f.LastLoginAt)
	}
	if f.LastRewardClaimedAt != nil {
		add("last_reward_claimed_at", *f.LastRewardClaimedAt)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE user_ledgers SET `+set+` WHERE user_id = $1 AND version = $2`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update ledger %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing user from a stale version.
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM user_ledgers WHERE user_id = $1)`, userID).
			Scan(&exists); err != nil {
			return fmt.Errorf("update ledger %s: %w", userID, err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}
