// Package referral grants referral rewards asynchronously off the event
// bus: when a referred account performs its qualifying action for the
// first time, the matching reward rule fires exactly once.
package referral

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dinary/feecore/internal/activity"
	"github.com/dinary/feecore/internal/domain"
	"github.com/dinary/feecore/internal/rules"
)

// RuleProvider supplies referral rule candidates for an audience pair.
type RuleProvider interface {
	GetReferral(ctx context.Context, referrer, referee domain.Audience) ([]*domain.ReferralRule, error)
}

// Processor consumes recorded-transaction and account-referred events and
// turns first occurrences into referral awards.
type Processor struct {
	bus      domain.EventBus
	repo     domain.Repository
	provider RuleProvider
	matcher  *rules.Matcher
	activity *activity.Service

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewProcessor creates a referral processor.
func NewProcessor(bus domain.EventBus, repo domain.Repository, provider RuleProvider, matcher *rules.Matcher, activitySvc *activity.Service) *Processor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		bus:      bus,
		repo:     repo,
		provider: provider,
		matcher:  matcher,
		activity: activitySvc,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the triggering topics.
func (p *Processor) Start() error {
	sub, err := p.bus.Subscribe(p.ctx, domain.TopicTransactionRecorded, p.handleTransaction)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicTransactionRecorded, err)
	}
	p.subscriptions = append(p.subscriptions, sub)

	sub, err = p.bus.Subscribe(p.ctx, domain.TopicAccountReferred, p.handleReferred)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicAccountReferred, err)
	}
	p.subscriptions = append(p.subscriptions, sub)

	slog.Info("referral processor started",
		"topics", []string{domain.TopicTransactionRecorded, domain.TopicAccountReferred},
	)
	return nil
}

// Stop unsubscribes and halts processing.
func (p *Processor) Stop() {
	for _, sub := range p.subscriptions {
		_ = sub.Unsubscribe()
	}
	p.subscriptions = nil
	p.cancel()
	slog.Info("referral processor stopped")
}

// handleTransaction maps a recorded transaction to the reward-trigger
// actions it may represent and evaluates each.
func (p *Processor) handleTransaction(ctx context.Context, msg *domain.Message) error {
	var ev domain.TransactionEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		slog.Error("failed to unmarshal transaction event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	for _, trigger := range triggersFor(ev) {
		if err := p.evaluate(ctx, trigger.accountID, trigger.action); err != nil {
			slog.Error("referral evaluation failed",
				"account_id", trigger.accountID,
				"action", trigger.action,
				"tx_id", ev.TxID,
				"error", err,
			)
		}
	}
	return nil
}

// handleReferred evaluates the account-created trigger for a fresh link.
func (p *Processor) handleReferred(ctx context.Context, msg *domain.Message) error {
	var ev domain.ReferralEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		slog.Error("failed to unmarshal referral event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	return p.evaluate(ctx, ev.RefereeID, domain.ActionAccountCreated)
}

type trigger struct {
	accountID string
	action    domain.RequiredAction
}

// triggersFor derives the (account, action) pairs a transaction can
// trigger. The actor of a recharge is the credited account; for the
// other types it is the sender. A payment additionally counts as a sale
// for the receiving merchant.
func triggersFor(ev domain.TransactionEvent) []trigger {
	actor := ev.SenderID
	if ev.Type == domain.TxTypeRecharge {
		actor = ev.ReceiverID
	}

	var triggers []trigger
	if actor != "" {
		triggers = append(triggers, trigger{actor, domain.ActionFirstTransaction})
	}
	if ev.Type == domain.TxTypeRecharge && ev.ReceiverID != "" {
		triggers = append(triggers, trigger{ev.ReceiverID, domain.ActionFirstRecharge})
	}
	if ev.Type == domain.TxTypePayment && ev.ReceiverID != "" {
		triggers = append(triggers, trigger{ev.ReceiverID, domain.ActionFirstSale})
	}
	return triggers
}

// evaluate grants the reward for one (account, action) pair if all gates
// pass: the account was referred, no award exists yet, this is the first
// occurrence, and an active rule matches the audience pair.
func (p *Processor) evaluate(ctx context.Context, accountID string, action domain.RequiredAction) error {
	link, err := p.repo.GetReferralByReferee(ctx, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("looking up referral link: %w", err)
	}

	granted, err := p.repo.HasReferralAward(ctx, accountID, action)
	if err != nil {
		return fmt.Errorf("checking prior award: %w", err)
	}
	if granted {
		return nil
	}

	first, err := p.activity.IsFirstOccurrence(ctx, accountID, action)
	if err != nil {
		return fmt.Errorf("checking first occurrence: %w", err)
	}
	if !first {
		return nil
	}

	candidates, err := p.provider.GetReferral(ctx, link.ReferrerAudience, link.RefereeAudience)
	if err != nil {
		return fmt.Errorf("fetching referral rules: %w", err)
	}

	rule := p.matcher.MatchReferral(link.ReferrerAudience, link.RefereeAudience, action, candidates)
	if rule == nil {
		return nil
	}

	award := &domain.ReferralAward{
		ID:             uuid.New().String(),
		RuleID:         rule.ID,
		ReferrerID:     link.ReferrerID,
		RefereeID:      link.RefereeID,
		RequiredAction: action,
		ReferrerReward: rule.ReferrerReward,
		RefereeReward:  rule.RefereeReward,
		CreatedAt:      time.Now().UTC(),
	}

	if err := p.repo.SaveReferralAward(ctx, award); err != nil {
		// A concurrent evaluation may have won the unique constraint race;
		// re-check before treating this as a failure.
		if granted, checkErr := p.repo.HasReferralAward(ctx, accountID, action); checkErr == nil && granted {
			return nil
		}
		return fmt.Errorf("saving award: %w", err)
	}

	slog.Info("referral reward granted",
		"award_id", award.ID,
		"rule_id", rule.ID,
		"referrer_id", award.ReferrerID,
		"referee_id", award.RefereeID,
		"action", action,
		"referrer_reward", award.ReferrerReward,
		"referee_reward", award.RefereeReward,
	)

	payload, err := json.Marshal(award)
	if err != nil {
		return fmt.Errorf("failed to marshal award: %w", err)
	}
	if err := p.bus.Publish(ctx, domain.TopicReferralAwarded, payload); err != nil {
		slog.Warn("failed to publish award event",
			"award_id", award.ID,
			"error", err,
		)
	}
	return nil
}
