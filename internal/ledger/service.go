package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/dinary/feecore/internal/domain"
)

// Service composes the transaction log fetch with the builder.
type Service struct {
	log domain.TransactionLog
}

// NewService creates a ledger service over a transaction log.
func NewService(log domain.TransactionLog) *Service {
	return &Service{log: log}
}

// BuildLedger reconstructs the ledger for an account over an optional
// [from, to] window. With a lower bound set, the opening balance is the
// signed sum of everything before it; otherwise the account is rebuilt
// from genesis with an opening balance of 0.
func (s *Service) BuildLedger(ctx context.Context, accountID string, from, to *time.Time) (*domain.Ledger, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: accountID is required", domain.ErrInvalidInput)
	}

	var opening int64
	if from != nil {
		credits, debits, err := s.log.TransactionTotals(ctx, accountID, *from)
		if err != nil {
			return nil, fmt.Errorf("failed to compute opening balance: %w", err)
		}
		opening = credits - debits
	}

	txs, err := s.log.ListTransactions(ctx, accountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return Build(accountID, opening, txs), nil
}
