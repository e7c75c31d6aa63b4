// Package engagement handles login-streak bookkeeping and the daily cash
// reward. Reward eligibility is gated by UTC calendar date, not elapsed
// time: however many times a user logs in on one date, the reward is
// credited at most once.
package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papertrade/engine/internal/keylock"
	"github.com/papertrade/engine/internal/ledger"
	"github.com/papertrade/engine/internal/metrics"
	"github.com/papertrade/engine/internal/model"
)

// Tracker processes login events against the ledger store.
type Tracker struct {
	store  ledger.Store
	locks  *keylock.Keyed
	reward decimal.Decimal
	log    *slog.Logger

	// Now is the clock; overridable in tests.
	Now func() time.Time
}

// NewTracker creates a Tracker crediting the given daily reward.
func NewTracker(store ledger.Store, locks *keylock.Keyed, reward decimal.Decimal) *Tracker {
	return &Tracker{
		store:  store,
		locks:  locks,
		reward: reward,
		log:    slog.Default().With("component", "engagement"),
		Now:    time.Now,
	}
}

// UpdateLoginStreak transitions the streak state machine for one login
// event and credits the daily reward when eligible. It holds the user's
// lock for the whole read-modify-write.
func (t *Tracker) UpdateLoginStreak(ctx context.Context, userID string) (*model.StreakResult, error) {
	unlock := t.locks.Lock(userID)
	defer unlock()

	l, err := t.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := t.Now().UTC()

	// First ever reward claim: start the streak and credit immediately.
	if l.LastRewardClaimedAt == nil {
		if err := t.persistWithReward(ctx, l, 1, now); err != nil {
			return nil, err
		}
		return &model.StreakResult{
			Message: "First login! Streak started!",
			Streak:  1,
			Reward:  t.reward,
		}, nil
	}

	today := dateOf(now)
	lastLogin := dateOf(derefTime(l.LastLoginAt))
	lastReward := dateOf(*l.LastRewardClaimedAt)
	streak := l.LoginStreak

	if today.After(lastLogin) {
		if today.Equal(lastLogin.AddDate(0, 0, 1)) {
			streak++
		} else {
			streak = 1
		}

		if today.After(lastReward) {
			if err := t.persistWithReward(ctx, l, streak, now); err != nil {
				return nil, err
			}
			return &model.StreakResult{
				Message: fmt.Sprintf("Daily login streak: %d days! Reward claimed: $%s", streak, t.reward),
				Streak:  streak,
				Reward:  t.reward,
			}, nil
		}
		// Reward already claimed today through another path: the streak
		// still moves, the cash does not.
	}

	if err := t.store.Update(ctx, userID, l.Version, ledger.Fields{
		LastLoginAt: &now,
		LoginStreak: &streak,
	}); err != nil {
		return nil, err
	}
	return &model.StreakResult{
		Message: fmt.Sprintf("Welcome back! Current streak: %d days", streak),
		Streak:  streak,
		Reward:  decimal.Zero,
	}, nil
}

func (t *Tracker) persistWithReward(ctx context.Context, l *model.UserLedger, streak int, now time.Time) error {
	cash := l.CashBalance.Add(t.reward)
	if err := t.store.Update(ctx, l.UserID, l.Version, ledger.Fields{
		LastLoginAt:         &now,
		LastRewardClaimedAt: &now,
		LoginStreak:         &streak,
		CashBalance:         &cash,
	}); err != nil {
		return err
	}

	metrics.RewardsGranted.Inc()
	t.log.Info("login reward granted",
		"user", l.UserID,
		"streak", streak,
		"reward", t.reward.String(),
	)
	return nil
}

// dateOf truncates a timestamp to its UTC calendar date.
func dateOf(ts time.Time) time.Time {
	y, m, d := ts.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func derefTime(ts *time.Time) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return *ts
}
