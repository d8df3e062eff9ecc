package repository

// Schema definitions for the feecore database.
// Compatible with both SQLite and PostgreSQL. All monetary columns are
// integer minor units; structure variants are stored as JSON documents.

const schemaCommissionRules = `
CREATE TABLE IF NOT EXISTS commission_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    action TEXT NOT NULL,
    audience TEXT NOT NULL,
    structure TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    priority INTEGER NOT NULL DEFAULT 0,
    min_amount BIGINT,
    max_amount BIGINT,
    condition TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_commission_rules_audience ON commission_rules(audience, is_active);
CREATE INDEX IF NOT EXISTS idx_commission_rules_action ON commission_rules(action);
`

const schemaReferralRules = `
CREATE TABLE IF NOT EXISTS referral_rules (
    id TEXT PRIMARY KEY,
    referrer_type TEXT NOT NULL,
    referee_type TEXT NOT NULL,
    required_action TEXT NOT NULL,
    referrer_reward BIGINT NOT NULL DEFAULT 0,
    referee_reward BIGINT NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    priority INTEGER NOT NULL DEFAULT 0,
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_referral_rules_pair ON referral_rules(referrer_type, referee_type, is_active);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    amount BIGINT NOT NULL,
    commission BIGINT NOT NULL DEFAULT 0,
    sender_id TEXT NOT NULL DEFAULT '',
    receiver_id TEXT NOT NULL DEFAULT '',
    sender_name TEXT NOT NULL DEFAULT '',
    receiver_name TEXT NOT NULL DEFAULT '',
    direction TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_sender ON transactions(sender_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_receiver ON transactions(receiver_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_created ON transactions(created_at);
`

const schemaReferrals = `
CREATE TABLE IF NOT EXISTS referrals (
    id TEXT PRIMARY KEY,
    referrer_id TEXT NOT NULL,
    referee_id TEXT NOT NULL UNIQUE,
    referrer_audience TEXT NOT NULL,
    referee_audience TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_referrals_referrer ON referrals(referrer_id);
`

const schemaReferralAwards = `
CREATE TABLE IF NOT EXISTS referral_awards (
    id TEXT PRIMARY KEY,
    rule_id TEXT NOT NULL,
    referrer_id TEXT NOT NULL,
    referee_id TEXT NOT NULL,
    required_action TEXT NOT NULL,
    referrer_reward BIGINT NOT NULL DEFAULT 0,
    referee_reward BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (referee_id, required_action)
);

CREATE INDEX IF NOT EXISTS idx_referral_awards_referrer ON referral_awards(referrer_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCommissionRules,
		schemaReferralRules,
		schemaTransactions,
		schemaReferrals,
		schemaReferralAwards,
	}
}
