// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dinary/feecore/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveCommissionRule inserts or updates a commission rule.
func (r *SQLRepository) SaveCommissionRule(ctx context.Context, rule *domain.CommissionRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", domain.ErrInvalidInput)
	}
	if !domain.ValidAudience(rule.Audience) {
		return fmt.Errorf("%w: unknown audience %q", domain.ErrInvalidInput, rule.Audience)
	}
	if err := rule.Structure.Validate(); err != nil {
		return err
	}

	structure, err := json.Marshal(rule.Structure)
	if err != nil {
		return fmt.Errorf("failed to marshal structure: %w", err)
	}

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO commission_rules (
			id, name, action, audience, structure, is_active, priority,
			min_amount, max_amount, condition, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			action = excluded.action,
			audience = excluded.audience,
			structure = excluded.structure,
			is_active = excluded.is_active,
			priority = excluded.priority,
			min_amount = excluded.min_amount,
			max_amount = excluded.max_amount,
			condition = excluded.condition,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Action, string(rule.Audience),
		string(structure), boolToInt(rule.IsActive), rule.Priority,
		nullableInt64(rule.MinAmount), nullableInt64(rule.MaxAmount),
		rule.Condition, createdAt, now,
	)
	return err
}

// GetCommissionRule retrieves a commission rule by ID, active or not.
func (r *SQLRepository) GetCommissionRule(ctx context.Context, id string) (*domain.CommissionRule, error) {
	query := `
		SELECT id, name, action, audience, structure, is_active, priority,
			   min_amount, max_amount, condition, created_at, updated_at
		FROM commission_rules
		WHERE id = ?
	`

	rule, err := scanCommissionRule(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rule, err
}

// ListCommissionRules retrieves the active rules for an audience, in
// match order: priority ascending, most recent first within a priority.
func (r *SQLRepository) ListCommissionRules(ctx context.Context, audience domain.Audience) ([]*domain.CommissionRule, error) {
	query := `
		SELECT id, name, action, audience, structure, is_active, priority,
			   min_amount, max_amount, condition, created_at, updated_at
		FROM commission_rules
		WHERE audience = ? AND is_active = 1
		ORDER BY priority, created_at DESC, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(audience))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.CommissionRule
	for rows.Next() {
		rule, err := scanCommissionRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// ListAllCommissionRules retrieves every rule, including inactive ones.
func (r *SQLRepository) ListAllCommissionRules(ctx context.Context) ([]*domain.CommissionRule, error) {
	query := `
		SELECT id, name, action, audience, structure, is_active, priority,
			   min_amount, max_amount, condition, created_at, updated_at
		FROM commission_rules
		ORDER BY audience, priority, created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.CommissionRule
	for rows.Next() {
		rule, err := scanCommissionRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DeactivateCommissionRule soft-deletes a rule by setting is_active = 0.
func (r *SQLRepository) DeactivateCommissionRule(ctx context.Context, id string) error {
	query := `
		UPDATE commission_rules
		SET is_active = 0, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// SaveReferralRule inserts or updates a referral rule.
func (r *SQLRepository) SaveReferralRule(ctx context.Context, rule *domain.ReferralRule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", domain.ErrInvalidInput)
	}
	if !domain.ValidAudience(rule.ReferrerType) || !domain.ValidAudience(rule.RefereeType) {
		return fmt.Errorf("%w: unknown audience pair %q/%q", domain.ErrInvalidInput, rule.ReferrerType, rule.RefereeType)
	}
	if !domain.ValidRequiredAction(rule.RequiredAction) {
		return fmt.Errorf("%w: unknown required action %q", domain.ErrInvalidInput, rule.RequiredAction)
	}
	if rule.ReferrerReward < 0 || rule.RefereeReward < 0 {
		return fmt.Errorf("%w: rewards must be non-negative", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO referral_rules (
			id, referrer_type, referee_type, required_action,
			referrer_reward, referee_reward, is_active, priority,
			description, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			referrer_type = excluded.referrer_type,
			referee_type = excluded.referee_type,
			required_action = excluded.required_action,
			referrer_reward = excluded.referrer_reward,
			referee_reward = excluded.referee_reward,
			is_active = excluded.is_active,
			priority = excluded.priority,
			description = excluded.description,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, string(rule.ReferrerType), string(rule.RefereeType),
		string(rule.RequiredAction), rule.ReferrerReward, rule.RefereeReward,
		boolToInt(rule.IsActive), rule.Priority, rule.Description,
		createdAt, now,
	)
	return err
}

// GetReferralRule retrieves a referral rule by ID, active or not.
func (r *SQLRepository) GetReferralRule(ctx context.Context, id string) (*domain.ReferralRule, error) {
	query := `
		SELECT id, referrer_type, referee_type, required_action,
			   referrer_reward, referee_reward, is_active, priority,
			   description, created_at, updated_at
		FROM referral_rules
		WHERE id = ?
	`

	rule, err := scanReferralRule(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rule, err
}

// ListReferralRules retrieves the active rules for an audience pair.
func (r *SQLRepository) ListReferralRules(ctx context.Context, referrer, referee domain.Audience) ([]*domain.ReferralRule, error) {
	query := `
		SELECT id, referrer_type, referee_type, required_action,
			   referrer_reward, referee_reward, is_active, priority,
			   description, created_at, updated_at
		FROM referral_rules
		WHERE referrer_type = ? AND referee_type = ? AND is_active = 1
		ORDER BY priority, created_at DESC, id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(referrer), string(referee))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.ReferralRule
	for rows.Next() {
		rule, err := scanReferralRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// ListAllReferralRules retrieves every referral rule, including inactive.
func (r *SQLRepository) ListAllReferralRules(ctx context.Context) ([]*domain.ReferralRule, error) {
	query := `
		SELECT id, referrer_type, referee_type, required_action,
			   referrer_reward, referee_reward, is_active, priority,
			   description, created_at, updated_at
		FROM referral_rules
		ORDER BY referrer_type, referee_type, priority
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.ReferralRule
	for rows.Next() {
		rule, err := scanReferralRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DeactivateReferralRule soft-deletes a referral rule.
func (r *SQLRepository) DeactivateReferralRule(ctx context.Context, id string) error {
	query := `
		UPDATE referral_rules
		SET is_active = 0, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// SaveTransaction appends a transaction to the log.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", domain.ErrInvalidInput)
	}
	if tx.Amount < 0 {
		return fmt.Errorf("%w: amount must be a non-negative magnitude", domain.ErrInvalidAmount)
	}

	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO transactions (
			id, type, amount, commission, sender_id, receiver_id,
			sender_name, receiver_name, direction, description, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.Type, tx.Amount, tx.Commission,
		tx.SenderID, tx.ReceiverID, tx.SenderName, tx.ReceiverName,
		string(tx.Direction), tx.Description, createdAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `
		SELECT id, type, amount, commission, sender_id, receiver_id,
			   sender_name, receiver_name, direction, description, created_at
		FROM transactions
		WHERE id = ?
	`

	var tx domain.Transaction
	var direction string

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&tx.ID, &tx.Type, &tx.Amount, &tx.Commission,
		&tx.SenderID, &tx.ReceiverID, &tx.SenderName, &tx.ReceiverName,
		&direction, &tx.Description, &tx.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.Direction = domain.Direction(direction)
	return &tx, nil
}

// ListTransactions retrieves an account's transactions in the optional
// [from, to] window, ascending by date.
func (r *SQLRepository) ListTransactions(ctx context.Context, accountID string, from, to *time.Time) ([]*domain.Transaction, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: accountID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, type, amount, commission, sender_id, receiver_id,
			   sender_name, receiver_name, direction, description, created_at
		FROM transactions
		WHERE (sender_id = ? OR receiver_id = ?)
	`
	args := []any{accountID, accountID}

	if from != nil {
		query += " AND created_at >= ?"
		args = append(args, *from)
	}
	if to != nil {
		query += " AND created_at <= ?"
		args = append(args, *to)
	}
	query += " ORDER BY created_at, id"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var direction string

		if err := rows.Scan(
			&tx.ID, &tx.Type, &tx.Amount, &tx.Commission,
			&tx.SenderID, &tx.ReceiverID, &tx.SenderName, &tx.ReceiverName,
			&direction, &tx.Description, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}

		tx.Direction = domain.Direction(direction)
		txs = append(txs, &tx)
	}

	return txs, rows.Err()
}

// TransactionTotals sums credit and debit magnitudes for an account
// strictly before the given instant. Classification mirrors the ledger
// builder: explicit direction, then single-sided types, then which side
// of the transfer the account sits on. Unclassifiable records count on
// neither side.
func (r *SQLRepository) TransactionTotals(ctx context.Context, accountID string, before time.Time) (credits, debits int64, err error) {
	if accountID == "" {
		return 0, 0, fmt.Errorf("%w: accountID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT
			COALESCE(SUM(CASE
				WHEN direction = 'credit' THEN amount
				WHEN direction = 'debit' THEN 0
				WHEN type = 'RECHARGE' THEN amount
				WHEN type = 'WITHDRAWAL' THEN 0
				WHEN receiver_id = ? AND sender_id <> ? THEN amount
				ELSE 0
			END), 0),
			COALESCE(SUM(CASE
				WHEN direction = 'debit' THEN amount
				WHEN direction = 'credit' THEN 0
				WHEN type = 'WITHDRAWAL' THEN amount
				WHEN type = 'RECHARGE' THEN 0
				WHEN sender_id = ? AND receiver_id <> ? THEN amount
				ELSE 0
			END), 0)
		FROM transactions
		WHERE (sender_id = ? OR receiver_id = ?) AND created_at < ?
	`

	err = r.db.QueryRowContext(ctx, r.rebind(query),
		accountID, accountID, accountID, accountID,
		accountID, accountID, before,
	).Scan(&credits, &debits)
	return credits, debits, err
}

// CountTransactionsByType counts an account's transactions of the given
// type. Empty txType counts all types.
func (r *SQLRepository) CountTransactionsByType(ctx context.Context, accountID, txType string) (int64, error) {
	if accountID == "" {
		return 0, fmt.Errorf("%w: accountID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM transactions
		WHERE (sender_id = ? OR receiver_id = ?)
	`
	args := []any{accountID, accountID}

	if txType != "" {
		query += " AND type = ?"
		args = append(args, txType)
	}

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	return count, nil
}

// RevenueReport aggregates commission income over an optional window.
func (r *SQLRepository) RevenueReport(ctx context.Context, from, to *time.Time) (*domain.Revenue, error) {
	query := `
		SELECT type, COUNT(*), COALESCE(SUM(commission), 0)
		FROM transactions
		WHERE commission > 0
	`
	var args []any

	if from != nil {
		query += " AND created_at >= ?"
		args = append(args, *from)
	}
	if to != nil {
		query += " AND created_at <= ?"
		args = append(args, *to)
	}
	query += " GROUP BY type ORDER BY type"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	revenue := &domain.Revenue{
		ByType: make(map[string]domain.RevenueByType),
	}

	for rows.Next() {
		var txType string
		var slice domain.RevenueByType

		if err := rows.Scan(&txType, &slice.Count, &slice.Total); err != nil {
			return nil, err
		}

		revenue.ByType[txType] = slice
		revenue.TransactionCount += slice.Count
		revenue.TotalRevenue += slice.Total
	}

	return revenue, rows.Err()
}

// SaveReferral stores a referral link. A referee can only be referred once.
func (r *SQLRepository) SaveReferral(ctx context.Context, ref *domain.Referral) error {
	if ref.ID == "" || ref.ReferrerID == "" || ref.RefereeID == "" {
		return fmt.Errorf("%w: referral id, referrer and referee are required", domain.ErrInvalidInput)
	}

	createdAt := ref.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO referrals (
			id, referrer_id, referee_id, referrer_audience, referee_audience, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		ref.ID, ref.ReferrerID, ref.RefereeID,
		string(ref.ReferrerAudience), string(ref.RefereeAudience), createdAt,
	)
	return err
}

// GetReferralByReferee looks up who referred an account.
func (r *SQLRepository) GetReferralByReferee(ctx context.Context, refereeID string) (*domain.Referral, error) {
	query := `
		SELECT id, referrer_id, referee_id, referrer_audience, referee_audience, created_at
		FROM referrals
		WHERE referee_id = ?
	`

	var ref domain.Referral
	var referrerAud, refereeAud string

	err := r.db.QueryRowContext(ctx, r.rebind(query), refereeID).Scan(
		&ref.ID, &ref.ReferrerID, &ref.RefereeID,
		&referrerAud, &refereeAud, &ref.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ref.ReferrerAudience = domain.Audience(referrerAud)
	ref.RefereeAudience = domain.Audience(refereeAud)
	return &ref, nil
}

// SaveReferralAward records a granted reward. The unique constraint on
// (referee, required action) makes duplicate grants fail loudly.
func (r *SQLRepository) SaveReferralAward(ctx context.Context, award *domain.ReferralAward) error {
	if award.ID == "" {
		return fmt.Errorf("%w: award id is required", domain.ErrInvalidInput)
	}

	createdAt := award.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO referral_awards (
			id, rule_id, referrer_id, referee_id, required_action,
			referrer_reward, referee_reward, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		award.ID, award.RuleID, award.ReferrerID, award.RefereeID,
		string(award.RequiredAction), award.ReferrerReward, award.RefereeReward,
		createdAt,
	)
	return err
}

// HasReferralAward reports whether a reward was already granted for this
// referee and trigger action.
func (r *SQLRepository) HasReferralAward(ctx context.Context, refereeID string, action domain.RequiredAction) (bool, error) {
	query := `
		SELECT COUNT(*) FROM referral_awards
		WHERE referee_id = ? AND required_action = ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), refereeID, string(action)).Scan(&count)
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCommissionRule(row scanner) (*domain.CommissionRule, error) {
	var rule domain.CommissionRule
	var audience, structure string
	var isActive int
	var minAmount, maxAmount sql.NullInt64

	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Action, &audience, &structure,
		&isActive, &rule.Priority, &minAmount, &maxAmount,
		&rule.Condition, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Audience = domain.Audience(audience)
	rule.IsActive = isActive == 1
	if minAmount.Valid {
		rule.MinAmount = &minAmount.Int64
	}
	if maxAmount.Valid {
		rule.MaxAmount = &maxAmount.Int64
	}
	if err := json.Unmarshal([]byte(structure), &rule.Structure); err != nil {
		return nil, fmt.Errorf("failed to parse structure for rule %s: %w", rule.ID, err)
	}

	return &rule, nil
}

func scanReferralRule(row scanner) (*domain.ReferralRule, error) {
	var rule domain.ReferralRule
	var referrer, referee, action string
	var isActive int

	err := row.Scan(
		&rule.ID, &referrer, &referee, &action,
		&rule.ReferrerReward, &rule.RefereeReward,
		&isActive, &rule.Priority, &rule.Description,
		&rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.ReferrerType = domain.Audience(referrer)
	rule.RefereeType = domain.Audience(referee)
	rule.RequiredAction = domain.RequiredAction(action)
	rule.IsActive = isActive == 1

	return &rule, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
