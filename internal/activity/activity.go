// Package activity answers "has this account done X before?" questions
// over the transaction log, used to trigger first-action referral rewards.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dinary/feecore/internal/domain"
)

// TransactionCounter is the slice of the repository the service needs.
type TransactionCounter interface {
	CountTransactionsByType(ctx context.Context, accountID, txType string) (int64, error)
}

// memoTTL bounds the not-first memo. An account that has performed an
// action never becomes "first" again, so a long TTL is safe; the bound
// just keeps cold accounts from pinning cache entries forever.
const memoTTL = 24 * time.Hour

// Service detects first occurrences of reward-triggering actions.
type Service struct {
	counter TransactionCounter
	cache   domain.Cache
}

// NewService creates an activity service. cache may be nil; it only
// short-circuits repeat lookups for accounts already known to be past
// their first action.
func NewService(counter TransactionCounter, cache domain.Cache) *Service {
	return &Service{counter: counter, cache: cache}
}

// IsFirstOccurrence reports whether the given action just happened for
// the first time for this account. Callers invoke it after the
// triggering transaction is recorded, so a count of one means first.
func (s *Service) IsFirstOccurrence(ctx context.Context, accountID string, action domain.RequiredAction) (bool, error) {
	if accountID == "" {
		return false, fmt.Errorf("%w: accountID is required", domain.ErrInvalidInput)
	}
	if !domain.ValidRequiredAction(action) {
		return false, fmt.Errorf("%w: unknown required action %q", domain.ErrInvalidInput, action)
	}

	// Account creation has no transaction precondition; duplicate-award
	// protection lives in the award log.
	if action == domain.ActionAccountCreated {
		return true, nil
	}

	memoKey := "activity:done:" + accountID + ":" + string(action)
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, memoKey); err == nil && hit != nil {
			return false, nil
		}
	}

	count, err := s.counter.CountTransactionsByType(ctx, accountID, txTypeFor(action))
	if err != nil {
		return false, fmt.Errorf("counting transactions: %w", err)
	}

	if count > 1 && s.cache != nil {
		if err := s.cache.Set(ctx, memoKey, []byte("1"), memoTTL); err != nil {
			slog.Warn("failed to memoize activity check", "account", accountID, "error", err)
		}
	}

	return count <= 1, nil
}

// txTypeFor maps a reward trigger to the transaction type it counts.
// Empty string counts all types.
func txTypeFor(action domain.RequiredAction) string {
	switch action {
	case domain.ActionFirstRecharge:
		return domain.TxTypeRecharge
	case domain.ActionFirstSale:
		return domain.TxTypePayment
	default:
		return ""
	}
}
