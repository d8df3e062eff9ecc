// Package quote composes rule retrieval, matching, and fee calculation
// into a single pricing operation.
package quote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dinary/feecore/internal/domain"
	"github.com/dinary/feecore/internal/rules"
)

// RuleProvider supplies the candidate rule set for an audience. In
// production this is the rule cache; tests inject a static provider.
type RuleProvider interface {
	Get(ctx context.Context, audience domain.Audience) ([]*domain.CommissionRule, error)
}

// Service prices a single action: fetch candidates, pick the winning
// rule, compute the fee. No match is a valid outcome, priced at zero.
type Service struct {
	provider RuleProvider
	matcher  *rules.Matcher
}

// NewService creates a quote service.
func NewService(provider RuleProvider, matcher *rules.Matcher) *Service {
	return &Service{provider: provider, matcher: matcher}
}

// Quote prices amount (minor units) for the given action and audience.
func (s *Service) Quote(ctx context.Context, action string, audience domain.Audience, amount int64) (*domain.Quote, error) {
	if action == "" {
		return nil, fmt.Errorf("%w: action is required", domain.ErrInvalidInput)
	}
	if audience != domain.AudienceUser && audience != domain.AudienceMerchant {
		return nil, fmt.Errorf("%w: unknown audience %q", domain.ErrInvalidInput, audience)
	}
	if amount < 0 {
		return nil, fmt.Errorf("%w: amount must be non-negative, got %d", domain.ErrInvalidAmount, amount)
	}

	candidates, err := s.provider.Get(ctx, audience)
	if err != nil {
		return nil, fmt.Errorf("fetching rules: %w", err)
	}

	rule, err := s.matcher.Match(action, amount, audience, candidates)
	if err != nil {
		return nil, err
	}

	q := &domain.Quote{
		Action:   action,
		Audience: audience,
		Amount:   amount,
		Total:    amount,
	}

	if rule == nil {
		q.NoMatch = true
		return q, nil
	}

	q.RuleID = rule.ID
	q.RuleName = rule.Name

	commission, err := rules.Calculate(rule.Structure, amount)
	if err != nil {
		if !errors.Is(err, domain.ErrUnknownStructure) {
			return nil, err
		}
		// Recoverable: the rule is misconfigured, not the request.
		// Price at zero and surface the anomaly.
		slog.Warn("commission rule has unrecognized structure kind",
			"ruleId", rule.ID,
			"kind", rule.Structure.Kind,
			"action", action,
		)
		q.Warning = fmt.Sprintf("rule %s has unrecognized structure kind %q, commission defaulted to 0", rule.ID, rule.Structure.Kind)
	}

	q.Commission = commission
	q.Total = amount + commission
	return q, nil
}
