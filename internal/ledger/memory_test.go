package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/ledger"
	"github.com/papertrade/engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedUser(t *testing.T, s *ledger.MemoryStore, userID string) *model.UserLedger {
	t.Helper()
	l := &model.UserLedger{
		UserID:      userID,
		CashBalance: d(10000),
		Positions:   []model.Position{},
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.Create(context.Background(), l); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return l
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	s := ledger.NewMemoryStore()

	_, err := s.Get(context.Background(), "nobody")
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_CreateDuplicate(t *testing.T) {
	s := ledger.NewMemoryStore()
	seedUser(t, s, "user1")

	err := s.Create(context.Background(), &model.UserLedger{UserID: "user1"})
	if !errors.Is(err, ledger.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMemoryStore_UpdatePartialFields(t *testing.T) {
	s := ledger.NewMemoryStore()
	seedUser(t, s, "user1")

	cash := d(9000)
	positions := []model.Position{{Symbol: "AAPL", Quantity: d(4), AveragePrice: d(250)}}
	err := s.Update(context.Background(), "user1", 0, ledger.Fields{
		CashBalance: &cash,
		Positions:   &positions,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err := s.Get(context.Background(), "user1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.CashBalance.Equal(d(9000)) {
		t.Errorf("expected cash 9000, got %s", got.CashBalance)
	}
	if len(got.Positions) != 1 || got.Positions[0].Symbol != "AAPL" {
		t.Errorf("unexpected positions: %+v", got.Positions)
	}
	// Untouched fields stay put.
	if got.LoginStreak != 0 {
		t.Errorf("login streak should be unchanged, got %d", got.LoginStreak)
	}
	if got.Version != 1 {
		t.Errorf("expected version bump to 1, got %d", got.Version)
	}
}

func TestMemoryStore_UpdateVersionConflict(t *testing.T) {
	s := ledger.NewMemoryStore()
	seedUser(t, s, "user1")

	streak := 3
	if err := s.Update(context.Background(), "user1", 0, ledger.Fields{LoginStreak: &streak}); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	// Writing with the old version must fail, not clobber.
	cash := d(1)
	err := s.Update(context.Background(), "user1", 0, ledger.Fields{CashBalance: &cash})
	if !errors.Is(err, ledger.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	got, _ := s.Get(context.Background(), "user1")
	if !got.CashBalance.Equal(d(10000)) {
		t.Errorf("conflicting write must not apply, cash = %s", got.CashBalance)
	}
}

func TestMemoryStore_UpdateUnknownUser(t *testing.T) {
	s := ledger.NewMemoryStore()

	streak := 1
	err := s.Update(context.Background(), "ghost", 0, ledger.Fields{LoginStreak: &streak})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := ledger.NewMemoryStore()
	seedUser(t, s, "user1")

	positions := []model.Position{{Symbol: "MSFT", Quantity: d(2), AveragePrice: d(380)}}
	if err := s.Update(context.Background(), "user1", 0, ledger.Fields{Positions: &positions}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	first, _ := s.Get(context.Background(), "user1")
	first.Positions[0].Quantity = d(999)
	first.CashBalance = d(0)

	second, _ := s.Get(context.Background(), "user1")
	if !second.Positions[0].Quantity.Equal(d(2)) {
		t.Errorf("store state mutated through returned copy: %s", second.Positions[0].Quantity)
	}
	if !second.CashBalance.Equal(d(10000)) {
		t.Errorf("store cash mutated through returned copy: %s", second.CashBalance)
	}
}

func TestMemoryStore_TimestampsRoundTrip(t *testing.T) {
	s := ledger.NewMemoryStore()
	seedUser(t, s, "user1")

	now := time.Date(2025, 6, 2, 15, 4, 5, 0, time.UTC)
	err := s.Update(context.Background(), "user1", 0, ledger.Fields{
		LastLoginAt:         &now,
		LastRewardClaimedAt: &now,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, _ := s.Get(context.Background(), "user1")
	if got.LastLoginAt == nil || !got.LastLoginAt.Equal(now) {
		t.Errorf("unexpected last_login_at: %v", got.LastLoginAt)
	}
	if got.LastRewardClaimedAt == nil || !got.LastRewardClaimedAt.Equal(now) {
		t.Errorf("unexpected last_reward_claimed_at: %v", got.LastRewardClaimedAt)
	}
}
