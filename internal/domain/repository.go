// Package domain defines the core types and interfaces for feecore.
package domain

import (
	"context"
	"time"
)

// RuleSource is the read surface the rule cache refreshes from.
// Listing is server-side filtered to active rules.
type RuleSource interface {
	ListCommissionRules(ctx context.Context, audience Audience) ([]*CommissionRule, error)
	ListReferralRules(ctx context.Context, referrer, referee Audience) ([]*ReferralRule, error)
}

// TransactionLog is the read surface the ledger builds from. Records come
// back sorted ascending by date.
type TransactionLog interface {
	ListTransactions(ctx context.Context, accountID string, from, to *time.Time) ([]*Transaction, error)

	// TransactionTotals returns the summed credit and debit magnitudes for
	// an account strictly before the given instant. Used to reconstruct an
	// opening balance for windowed ledgers.
	TransactionTotals(ctx context.Context, accountID string, before time.Time) (credits, debits int64, err error)
}

// Repository is the full persistence surface.
type Repository interface {
	RuleSource
	TransactionLog

	// Commission rule administration.
	SaveCommissionRule(ctx context.Context, rule *CommissionRule) error
	GetCommissionRule(ctx context.Context, id string) (*CommissionRule, error)
	ListAllCommissionRules(ctx context.Context) ([]*CommissionRule, error)
	DeactivateCommissionRule(ctx context.Context, id string) error

	// Referral rule administration.
	SaveReferralRule(ctx context.Context, rule *ReferralRule) error
	GetReferralRule(ctx context.Context, id string) (*ReferralRule, error)
	ListAllReferralRules(ctx context.Context) ([]*ReferralRule, error)
	DeactivateReferralRule(ctx context.Context, id string) error

	// Transaction log writes.
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	CountTransactionsByType(ctx context.Context, accountID, txType string) (int64, error)

	// Commission revenue aggregation over recorded transactions.
	RevenueReport(ctx context.Context, from, to *time.Time) (*Revenue, error)

	// Referral links and awards.
	SaveReferral(ctx context.Context, ref *Referral) error
	GetReferralByReferee(ctx context.Context, refereeID string) (*Referral, error)
	SaveReferralAward(ctx context.Context, award *ReferralAward) error
	HasReferralAward(ctx context.Context, refereeID string, action RequiredAction) (bool, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Revenue summarizes platform commission income over a window.
type Revenue struct {
	TotalRevenue     int64                    `json:"totalRevenue"`
	TransactionCount int64                    `json:"transactionCount"`
	ByType           map[string]RevenueByType `json:"byType"`
}

// RevenueByType is the per-transaction-type slice of a revenue report.
type RevenueByType struct {
	Count int64 `json:"count"`
	Total int64 `json:"total"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
