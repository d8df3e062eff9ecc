package referral

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dinary/feecore/internal/activity"
	"github.com/dinary/feecore/internal/bus"
	"github.com/dinary/feecore/internal/domain"
	"github.com/dinary/feecore/internal/repository"
	"github.com/dinary/feecore/internal/rulecache"
	"github.com/dinary/feecore/internal/rules"
)

type fixture struct {
	repo      domain.Repository
	bus       *bus.ChannelBus
	processor *Processor
	awarded   *atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "referral-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	matcher, err := rules.NewMatcher()
	if err != nil {
		t.Fatalf("NewMatcher failed: %v", err)
	}

	cache := rulecache.New(repo, domain.RuleCacheConfig{TTL: time.Second})
	activitySvc := activity.NewService(repo, nil)

	processor := NewProcessor(eventBus, repo, cache, matcher, activitySvc)
	if err := processor.Start(); err != nil {
		t.Fatalf("failed to start processor: %v", err)
	}
	t.Cleanup(processor.Stop)

	var awarded atomic.Int32
	_, err = eventBus.Subscribe(context.Background(), domain.TopicReferralAwarded, func(ctx context.Context, msg *domain.Message) error {
		awarded.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to subscribe to awarded topic: %v", err)
	}

	return &fixture{repo: repo, bus: eventBus, processor: processor, awarded: &awarded}
}

func (f *fixture) seedRule(t *testing.T, action domain.RequiredAction) {
	t.Helper()
	rule := &domain.ReferralRule{
		ID:             "ref-rule-" + string(action),
		ReferrerType:   domain.AudienceUser,
		RefereeType:    domain.AudienceUser,
		RequiredAction: action,
		ReferrerReward: 500,
		RefereeReward:  250,
		IsActive:       true,
	}
	if err := f.repo.SaveReferralRule(context.Background(), rule); err != nil {
		t.Fatalf("failed to seed referral rule: %v", err)
	}
}

func (f *fixture) seedLink(t *testing.T, referrerID, refereeID string) {
	t.Helper()
	link := &domain.Referral{
		ID:               "link-" + refereeID,
		ReferrerID:       referrerID,
		RefereeID:        refereeID,
		ReferrerAudience: domain.AudienceUser,
		RefereeAudience:  domain.AudienceUser,
	}
	if err := f.repo.SaveReferral(context.Background(), link); err != nil {
		t.Fatalf("failed to seed referral link: %v", err)
	}
}

func (f *fixture) recordAndPublish(t *testing.T, tx *domain.Transaction) {
	t.Helper()
	ctx := context.Background()
	if err := f.repo.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("failed to save transaction: %v", err)
	}
	payload, _ := json.Marshal(domain.TransactionEvent{
		TxID:       tx.ID,
		Type:       tx.Type,
		Amount:     tx.Amount,
		Commission: tx.Commission,
		SenderID:   tx.SenderID,
		ReceiverID: tx.ReceiverID,
	})
	if err := f.bus.Publish(ctx, domain.TopicTransactionRecorded, payload); err != nil {
		t.Fatalf("failed to publish transaction event: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestFirstTransactionGrantsAward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedRule(t, domain.ActionFirstTransaction)
	f.seedLink(t, "acc-referrer", "acc-referee")

	f.recordAndPublish(t, &domain.Transaction{
		ID:         "tx-1",
		Type:       domain.TxTypePayment,
		Amount:     10000,
		SenderID:   "acc-referee",
		ReceiverID: "m-1",
	})

	waitFor(t, "award", func() bool {
		has, _ := f.repo.HasReferralAward(ctx, "acc-referee", domain.ActionFirstTransaction)
		return has
	})

	waitFor(t, "award event", func() bool { return f.awarded.Load() == 1 })
}

func TestRepeatTransactionDoesNotDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedRule(t, domain.ActionFirstTransaction)
	f.seedLink(t, "acc-referrer", "acc-referee")

	f.recordAndPublish(t, &domain.Transaction{
		ID:       "tx-1",
		Type:     domain.TxTypeTransfer,
		Amount:   1000,
		SenderID: "acc-referee",
	})

	waitFor(t, "first award", func() bool {
		has, _ := f.repo.HasReferralAward(ctx, "acc-referee", domain.ActionFirstTransaction)
		return has
	})

	f.recordAndPublish(t, &domain.Transaction{
		ID:       "tx-2",
		Type:     domain.TxTypeTransfer,
		Amount:   2000,
		SenderID: "acc-referee",
	})

	// Give the processor time to (wrongly) grant a second award.
	time.Sleep(200 * time.Millisecond)

	if got := f.awarded.Load(); got != 1 {
		t.Errorf("expected exactly 1 award event, got %d", got)
	}
}

func TestUnreferredAccountGetsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedRule(t, domain.ActionFirstTransaction)

	f.recordAndPublish(t, &domain.Transaction{
		ID:       "tx-1",
		Type:     domain.TxTypePayment,
		Amount:   5000,
		SenderID: "acc-stranger",
	})

	time.Sleep(200 * time.Millisecond)

	has, err := f.repo.HasReferralAward(ctx, "acc-stranger", domain.ActionFirstTransaction)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if has {
		t.Error("expected no award for unreferred account")
	}
}

func TestNotFirstOccurrenceGetsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedRule(t, domain.ActionFirstRecharge)
	f.seedLink(t, "acc-referrer", "acc-referee")

	// Two prior recharges already in the log; only then does the
	// processor hear about one of them.
	for _, id := range []string{"tx-1", "tx-2"} {
		if err := f.repo.SaveTransaction(ctx, &domain.Transaction{
			ID:         id,
			Type:       domain.TxTypeRecharge,
			Amount:     1000,
			ReceiverID: "acc-referee",
		}); err != nil {
			t.Fatalf("failed to save transaction: %v", err)
		}
	}

	payload, _ := json.Marshal(domain.TransactionEvent{
		TxID:       "tx-2",
		Type:       domain.TxTypeRecharge,
		Amount:     1000,
		ReceiverID: "acc-referee",
	})
	if err := f.bus.Publish(ctx, domain.TopicTransactionRecorded, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	has, err := f.repo.HasReferralAward(ctx, "acc-referee", domain.ActionFirstRecharge)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if has {
		t.Error("expected no award for a repeat recharge")
	}
}

func TestAccountCreatedTrigger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedRule(t, domain.ActionAccountCreated)
	f.seedLink(t, "acc-referrer", "acc-new")

	payload, _ := json.Marshal(domain.ReferralEvent{
		ReferralID: "link-acc-new",
		RefereeID:  "acc-new",
	})
	if err := f.bus.Publish(ctx, domain.TopicAccountReferred, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	waitFor(t, "account-created award", func() bool {
		has, _ := f.repo.HasReferralAward(ctx, "acc-new", domain.ActionAccountCreated)
		return has
	})
}

func TestFirstSaleTriggerForMerchant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Merchant referred by a user; reward fires on the merchant's first
	// received payment.
	rule := &domain.ReferralRule{
		ID:             "ref-rule-sale",
		ReferrerType:   domain.AudienceUser,
		RefereeType:    domain.AudienceMerchant,
		RequiredAction: domain.ActionFirstSale,
		ReferrerReward: 1000,
		IsActive:       true,
	}
	if err := f.repo.SaveReferralRule(ctx, rule); err != nil {
		t.Fatalf("failed to seed rule: %v", err)
	}
	link := &domain.Referral{
		ID:               "link-m-1",
		ReferrerID:       "acc-referrer",
		RefereeID:        "m-1",
		ReferrerAudience: domain.AudienceUser,
		RefereeAudience:  domain.AudienceMerchant,
	}
	if err := f.repo.SaveReferral(ctx, link); err != nil {
		t.Fatalf("failed to seed link: %v", err)
	}

	f.recordAndPublish(t, &domain.Transaction{
		ID:         "tx-1",
		Type:       domain.TxTypePayment,
		Amount:     7500,
		SenderID:   "acc-buyer",
		ReceiverID: "m-1",
	})

	waitFor(t, "first-sale award", func() bool {
		has, _ := f.repo.HasReferralAward(ctx, "m-1", domain.ActionFirstSale)
		return has
	})
}
