// Package rulecache keeps a time-bounded copy of the rule set in front of
// the rule store so quote paths do not refetch on every calculation.
//
// Each cached family moves through three states: EMPTY before the first
// successful fetch, FRESH within the staleness window, STALE after it. A
// stale entry is refreshed synchronously on access; if the refresh fails
// and a prior copy exists, the old copy is served instead of failing the
// request (stale-while-error). The cache is never a second source of
// truth: Invalidate forces the next access back to the store.
package rulecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dinary/feecore/internal/domain"
)

// State is the lifecycle state of one cached rule family.
type State string

const (
	StateEmpty State = "EMPTY"
	StateFresh State = "FRESH"
	StateStale State = "STALE"
)

// Cache is a TTL-bounded, invalidatable copy of commission and referral
// rules. Safe for concurrent use: readers see either the old or the new
// complete copy, never a partial one, and concurrent refreshes converge
// on the same fresh data.
type Cache struct {
	store domain.RuleSource

	// shared is an optional cross-instance layer (Redis-backed in
	// multi-node deployments). Serves as a second fallback when the
	// store is unreachable and no local copy exists yet.
	shared domain.Cache

	ttl          time.Duration
	fetchTimeout time.Duration

	mu         sync.RWMutex
	commission map[domain.Audience]*commissionSnapshot
	referral   map[string]*referralSnapshot
}

type commissionSnapshot struct {
	rules     []*domain.CommissionRule
	fetchedAt time.Time
}

type referralSnapshot struct {
	rules     []*domain.ReferralRule
	fetchedAt time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithShared attaches a cross-instance snapshot layer.
func WithShared(shared domain.Cache) Option {
	return func(c *Cache) { c.shared = shared }
}

// New creates a rule cache over the given store. Lifetime is explicit:
// construct one per process (or per test), never implicitly shared.
func New(store domain.RuleSource, cfg domain.RuleCacheConfig, opts ...Option) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 3 * time.Second
	}

	c := &Cache{
		store:        store,
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		commission:   make(map[domain.Audience]*commissionSnapshot),
		referral:     make(map[string]*referralSnapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the commission rules for an audience, refreshing from the
// store when the cached copy is older than the staleness window.
func (c *Cache) Get(ctx context.Context, audience domain.Audience) ([]*domain.CommissionRule, error) {
	c.mu.RLock()
	snap := c.commission[audience]
	c.mu.RUnlock()

	if snap != nil && time.Since(snap.fetchedAt) < c.ttl {
		return copyCommission(snap.rules), nil
	}

	rules, err := c.refreshCommission(ctx, audience)
	if err == nil {
		return copyCommission(rules), nil
	}

	// Stale-while-error: a bounded-staleness copy beats failing the quote.
	if snap != nil {
		slog.Warn("serving stale commission rules after refresh failure",
			"audience", audience,
			"age", time.Since(snap.fetchedAt).String(),
			"error", err,
		)
		return copyCommission(snap.rules), nil
	}

	if shared := c.sharedCommission(ctx, audience); shared != nil {
		slog.Warn("serving shared commission snapshot after refresh failure",
			"audience", audience,
			"error", err,
		)
		return copyCommission(shared), nil
	}

	return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

// GetReferral returns the referral rules for an audience pair under the
// same staleness contract as Get.
func (c *Cache) GetReferral(ctx context.Context, referrer, referee domain.Audience) ([]*domain.ReferralRule, error) {
	key := referralKey(referrer, referee)

	c.mu.RLock()
	snap := c.referral[key]
	c.mu.RUnlock()

	if snap != nil && time.Since(snap.fetchedAt) < c.ttl {
		return copyReferral(snap.rules), nil
	}

	rules, err := c.refreshReferral(ctx, referrer, referee)
	if err == nil {
		return copyReferral(rules), nil
	}

	if snap != nil {
		slog.Warn("serving stale referral rules after refresh failure",
			"referrer", referrer,
			"referee", referee,
			"error", err,
		)
		return copyReferral(snap.rules), nil
	}

	return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

// Invalidate drops all cached copies so the next access refetches
// regardless of age. Shared snapshots are cleared best-effort.
func (c *Cache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	commissionKeys := make([]domain.Audience, 0, len(c.commission))
	for audience := range c.commission {
		commissionKeys = append(commissionKeys, audience)
	}
	referralKeys := make([]string, 0, len(c.referral))
	for key := range c.referral {
		referralKeys = append(referralKeys, key)
	}
	c.commission = make(map[domain.Audience]*commissionSnapshot)
	c.referral = make(map[string]*referralSnapshot)
	c.mu.Unlock()

	if c.shared == nil {
		return
	}
	for _, audience := range commissionKeys {
		if err := c.shared.Delete(ctx, sharedCommissionKey(audience)); err != nil {
			slog.Warn("failed to clear shared commission snapshot", "audience", audience, "error", err)
		}
	}
	for _, key := range referralKeys {
		if err := c.shared.Delete(ctx, "rules:"+key); err != nil {
			slog.Warn("failed to clear shared referral snapshot", "key", key, "error", err)
		}
	}
}

// State reports the lifecycle state of one audience's commission entry.
func (c *Cache) State(audience domain.Audience) State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := c.commission[audience]
	if snap == nil {
		return StateEmpty
	}
	if time.Since(snap.fetchedAt) < c.ttl {
		return StateFresh
	}
	return StateStale
}

// refreshCommission fetches fresh rules within the fetch timeout and swaps
// the snapshot in one step. Racing refreshes are harmless: whichever lands
// last wins and both carry complete copies.
func (c *Cache) refreshCommission(ctx context.Context, audience domain.Audience) ([]*domain.CommissionRule, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	rules, err := c.store.ListCommissionRules(fetchCtx, audience)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.commission[audience] = &commissionSnapshot{rules: rules, fetchedAt: time.Now()}
	c.mu.Unlock()

	c.publishShared(ctx, sharedCommissionKey(audience), rules)
	return rules, nil
}

func (c *Cache) refreshReferral(ctx context.Context, referrer, referee domain.Audience) ([]*domain.ReferralRule, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	rules, err := c.store.ListReferralRules(fetchCtx, referrer, referee)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.referral[referralKey(referrer, referee)] = &referralSnapshot{rules: rules, fetchedAt: time.Now()}
	c.mu.Unlock()

	c.publishShared(ctx, "rules:"+referralKey(referrer, referee), rules)
	return rules, nil
}

// publishShared writes a snapshot for other instances, best-effort.
func (c *Cache) publishShared(ctx context.Context, key string, rules any) {
	if c.shared == nil {
		return
	}
	payload, err := json.Marshal(rules)
	if err != nil {
		return
	}
	if err := c.shared.Set(ctx, key, payload, c.ttl); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("failed to publish shared rule snapshot", "key", key, "error", err)
	}
}

// sharedCommission tries the cross-instance layer. Miss or decode failure
// returns nil; this is only a fallback path.
func (c *Cache) sharedCommission(ctx context.Context, audience domain.Audience) []*domain.CommissionRule {
	if c.shared == nil {
		return nil
	}
	payload, err := c.shared.Get(ctx, sharedCommissionKey(audience))
	if err != nil || payload == nil {
		return nil
	}
	var rules []*domain.CommissionRule
	if err := json.Unmarshal(payload, &rules); err != nil {
		return nil
	}
	return rules
}

func sharedCommissionKey(audience domain.Audience) string {
	return "rules:commission:" + string(audience)
}

func referralKey(referrer, referee domain.Audience) string {
	return "referral:" + string(referrer) + ":" + string(referee)
}

func copyCommission(rules []*domain.CommissionRule) []*domain.CommissionRule {
	out := make([]*domain.CommissionRule, len(rules))
	copy(out, rules)
	return out
}

func copyReferral(rules []*domain.ReferralRule) []*domain.ReferralRule {
	out := make([]*domain.ReferralRule, len(rules))
	copy(out, rules)
	return out
}
