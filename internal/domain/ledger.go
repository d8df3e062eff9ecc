package domain

import "time"

// Direction says whether a ledger line increases or decreases the
// account balance.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// Well-known transaction types. RECHARGE always credits the account,
// WITHDRAWAL always debits it; the two-party types derive their direction
// from which side of the transfer the account sits on.
const (
	TxTypePayment    = "PAYMENT"
	TxTypeTransfer   = "TRANSFER"
	TxTypeRecharge   = "RECHARGE"
	TxTypeWithdrawal = "WITHDRAWAL"
)

// Transaction is a raw monetary record as stored in the transaction log.
// Amount and Commission are minor units; Amount is always a non-negative
// magnitude, the sign semantics come from the parties and type.
type Transaction struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Amount     int64  `json:"amount"`
	Commission int64  `json:"commission"`

	SenderID     string `json:"senderId,omitempty"`
	ReceiverID   string `json:"receiverId,omitempty"`
	SenderName   string `json:"senderName,omitempty"`
	ReceiverName string `json:"receiverName,omitempty"`

	// Direction, when set, overrides derivation for the owning account.
	// Used by records whose type the builder cannot classify.
	Direction Direction `json:"direction,omitempty"`

	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// LedgerLine is one display-ready row of an account ledger. Derived, never
// persisted; recomputed from the transaction log on every read.
type LedgerLine struct {
	ID          string    `json:"id"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	Type        string    `json:"type"`

	// Amount is the non-negative magnitude of the movement.
	Amount    int64     `json:"amount"`
	Direction Direction `json:"direction"`

	// Counterpart is the other party of the movement, if any.
	Counterpart string `json:"counterpart"`

	// RunningBalance is the account balance immediately after this line.
	RunningBalance int64 `json:"runningBalance"`

	// Unclassified flags a record whose direction could not be derived.
	// The line carries no balance effect but is surfaced, not dropped.
	Unclassified bool `json:"unclassified,omitempty"`
}

// Ledger is the reconstructed view for one account over a window.
type Ledger struct {
	AccountID      string       `json:"accountId"`
	OpeningBalance int64        `json:"openingBalance"`
	ClosingBalance int64        `json:"closingBalance"`
	Lines          []LedgerLine `json:"lines"`

	// Unclassified counts lines flagged as unclassifiable.
	Unclassified int `json:"unclassified,omitempty"`
}
