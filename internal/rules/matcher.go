// Package rules selects the applicable commission or referral rule for an
// action and computes the resulting fee.
package rules

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/dinary/feecore/internal/domain"
)

// Matcher picks the single applicable rule from a candidate set.
// It is safe for concurrent use; compiled condition programs are cached.
type Matcher struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program
}

// NewMatcher creates a matcher with a CEL environment exposing the quote
// context to optional rule conditions.
func NewMatcher() (*Matcher, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.IntType),
		cel.Variable("action", cel.StringType),
		cel.Variable("audience", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Matcher{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// ValidateCondition compiles a condition expression without caching it.
// Used at the rule administration boundary.
func (m *Matcher) ValidateCondition(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := m.compile(expr)
	return err
}

// Match filters candidates to active rules whose action matches exactly and
// whose amount bounds include amount, then returns the rule with the lowest
// priority, ties broken by most recent creation. Returns nil, nil when no
// rule applies; callers treat that as zero commission, not a failure.
func (m *Matcher) Match(action string, amount int64, audience domain.Audience, candidates []*domain.CommissionRule) (*domain.CommissionRule, error) {
	if action == "" {
		return nil, fmt.Errorf("%w: action is required", domain.ErrInvalidInput)
	}
	if amount < 0 {
		return nil, fmt.Errorf("%w: amount must be non-negative, got %d", domain.ErrInvalidAmount, amount)
	}

	var matched []*domain.CommissionRule
	for _, rule := range candidates {
		if !rule.IsActive || rule.Action != action || rule.Audience != audience {
			continue
		}
		if !rule.Eligible(amount) {
			continue
		}
		if rule.Condition != "" {
			ok, err := m.evalCondition(rule, action, amount, audience)
			if err != nil {
				// A broken condition must not block a live transaction;
				// the rule is skipped and the anomaly surfaced in logs.
				slog.Warn("skipping rule with failing condition",
					"rule_id", rule.ID,
					"error", err,
				)
				continue
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, rule)
	}

	if len(matched) == 0 {
		return nil, nil
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	return matched[0], nil
}

// MatchReferral applies the same pick-one pattern to referral rules, keyed
// by the referrer/referee audience pair and the triggering action.
func (m *Matcher) MatchReferral(referrer, referee domain.Audience, action domain.RequiredAction, candidates []*domain.ReferralRule) *domain.ReferralRule {
	var matched []*domain.ReferralRule
	for _, rule := range candidates {
		if !rule.IsActive {
			continue
		}
		if rule.ReferrerType != referrer || rule.RefereeType != referee {
			continue
		}
		if rule.RequiredAction != action {
			continue
		}
		matched = append(matched, rule)
	}

	if len(matched) == 0 {
		return nil
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority < matched[j].Priority
		}
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	return matched[0]
}

func (m *Matcher) evalCondition(rule *domain.CommissionRule, action string, amount int64, audience domain.Audience) (bool, error) {
	program, err := m.program(rule)
	if err != nil {
		return false, err
	}

	out, _, err := program.Eval(map[string]any{
		"amount":   amount,
		"action":   action,
		"audience": string(audience),
	})
	if err != nil {
		return false, fmt.Errorf("condition evaluation failed: %w", err)
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("condition returned non-bool value")
	}
	return bool(b), nil
}

// program returns the compiled condition for a rule, compiling and caching
// on first use. The cache key includes the expression text so an updated
// rule recompiles.
func (m *Matcher) program(rule *domain.CommissionRule) (cel.Program, error) {
	key := rule.ID + "\x00" + rule.Condition

	m.mu.RLock()
	program, ok := m.programs[key]
	m.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := m.compile(rule.Condition)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.programs[key] = program
	m.mu.Unlock()

	return program, nil
}

func (m *Matcher) compile(expr string) (cel.Program, error) {
	ast, issues := m.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile condition: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition must return bool, got %s", ast.OutputType())
	}

	program, err := m.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create condition program: %w", err)
	}
	return program, nil
}
