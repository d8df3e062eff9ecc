// Package ledger reconstructs display-ready account ledgers with running
// balances from raw transaction logs.
package ledger

import (
	"log/slog"

	"github.com/dinary/feecore/internal/domain"
)

// Build turns an ordered-by-date transaction log into ledger lines with a
// running balance. Pure function: no locking, no I/O, no stored state; the
// ledger is recomputed on every read so it always reflects the latest log.
//
// Records are processed in input (chronological ascending) order and never
// reordered; callers wanting newest-first sort afterwards. A record whose
// direction cannot be derived is emitted with zero balance effect and
// flagged, never dropped: the ledger is an audit artifact, so partial
// results beat total failure.
func Build(accountID string, openingBalance int64, txs []*domain.Transaction) *domain.Ledger {
	ledger := &domain.Ledger{
		AccountID:      accountID,
		OpeningBalance: openingBalance,
		ClosingBalance: openingBalance,
		Lines:          make([]domain.LedgerLine, 0, len(txs)),
	}

	balance := openingBalance
	for _, tx := range txs {
		line := domain.LedgerLine{
			ID:          tx.ID,
			Date:        tx.CreatedAt,
			Description: tx.Description,
			Type:        tx.Type,
			Amount:      tx.Amount,
			Counterpart: counterpart(accountID, tx),
		}

		direction, ok := classify(accountID, tx)
		if !ok {
			line.Unclassified = true
			ledger.Unclassified++
			slog.Warn("unclassified ledger entry",
				"account_id", accountID,
				"tx_id", tx.ID,
				"tx_type", tx.Type,
			)
		} else {
			line.Direction = direction
			switch direction {
			case domain.DirectionCredit:
				balance += tx.Amount
			case domain.DirectionDebit:
				balance -= tx.Amount
			}
		}

		line.RunningBalance = balance
		ledger.Lines = append(ledger.Lines, line)
	}

	ledger.ClosingBalance = balance
	return ledger
}

// classify derives the line direction relative to the account owner.
// An explicit direction on the record wins; RECHARGE and WITHDRAWAL are
// single-sided; two-sided types follow which side of the transfer the
// account sits on.
func classify(accountID string, tx *domain.Transaction) (domain.Direction, bool) {
	if tx.Direction == domain.DirectionDebit || tx.Direction == domain.DirectionCredit {
		return tx.Direction, true
	}

	switch tx.Type {
	case domain.TxTypeRecharge:
		return domain.DirectionCredit, true
	case domain.TxTypeWithdrawal:
		return domain.DirectionDebit, true
	}

	if tx.SenderID == accountID && tx.ReceiverID != accountID {
		return domain.DirectionDebit, true
	}
	if tx.ReceiverID == accountID && tx.SenderID != accountID {
		return domain.DirectionCredit, true
	}

	return "", false
}

func counterpart(accountID string, tx *domain.Transaction) string {
	if tx.SenderID == accountID {
		if tx.ReceiverName != "" {
			return tx.ReceiverName
		}
		return tx.ReceiverID
	}
	if tx.SenderName != "" {
		return tx.SenderName
	}
	return tx.SenderID
}
