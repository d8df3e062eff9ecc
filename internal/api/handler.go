package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dinary/feecore/internal/domain"
	"github.com/dinary/feecore/internal/ledger"
	"github.com/dinary/feecore/internal/quote"
	"github.com/dinary/feecore/internal/rulecache"
	"github.com/dinary/feecore/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	quotes    *quote.Service
	ledgers   *ledger.Service
	ruleCache *rulecache.Cache
	matcher   *rules.Matcher
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, quotes *quote.Service, ledgers *ledger.Service, ruleCache *rulecache.Cache, matcher *rules.Matcher, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		quotes:    quotes,
		ledgers:   ledgers,
		ruleCache: ruleCache,
		matcher:   matcher,
		version:   version,
	}
}

// QuoteRequest is the request body for POST /quotes.
type QuoteRequest struct {
	Action   string          `json:"action"`
	Audience domain.Audience `json:"audience"`
	Amount   int64           `json:"amount"`
}

// CreateQuote handles POST /quotes: price an action without recording it.
func (h *Handler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Audience == "" {
		req.Audience = domain.AudienceUser
	}

	q, err := h.quotes.Quote(r.Context(), req.Action, req.Audience, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, q)
}

// TransactionRequest is the request body for POST /transactions.
type TransactionRequest struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount"`

	// Action defaults to the lowercased type; set it when the priced
	// action differs from the record type (e.g. "merchant_withdrawal").
	Action   string          `json:"action,omitempty"`
	Audience domain.Audience `json:"audience,omitempty"`

	SenderID     string `json:"senderId,omitempty"`
	ReceiverID   string `json:"receiverId,omitempty"`
	SenderName   string `json:"senderName,omitempty"`
	ReceiverName string `json:"receiverName,omitempty"`

	Direction   domain.Direction `json:"direction,omitempty"`
	Description string           `json:"description,omitempty"`
}

// TransactionResponse is the response for POST /transactions.
type TransactionResponse struct {
	Transaction *domain.Transaction `json:"transaction"`
	Quote       *domain.Quote       `json:"quote"`
}

// RecordTransaction handles POST /transactions: price the action, append
// the record with its captured commission, and announce it on the bus.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Type == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "type is required",
		})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}
	if req.SenderID == "" && req.ReceiverID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one of senderId and receiverId is required",
		})
		return
	}

	action := req.Action
	if action == "" {
		action = strings.ToLower(req.Type)
	}
	audience := req.Audience
	if audience == "" {
		audience = domain.AudienceUser
	}

	q, err := h.quotes.Quote(ctx, action, audience, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	tx := &domain.Transaction{
		ID:           uuid.New().String(),
		Type:         req.Type,
		Amount:       req.Amount,
		Commission:   q.Commission,
		SenderID:     req.SenderID,
		ReceiverID:   req.ReceiverID,
		SenderName:   req.SenderName,
		ReceiverName: req.ReceiverName,
		Direction:    req.Direction,
		Description:  req.Description,
		CreatedAt:    time.Now().UTC(),
	}

	if err := h.repo.SaveTransaction(ctx, tx); err != nil {
		slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save transaction",
		})
		return
	}

	// Best-effort: a lost event delays referral processing, it does not
	// invalidate the recorded transaction.
	payload, _ := json.Marshal(domain.TransactionEvent{
		TxID:       tx.ID,
		Type:       tx.Type,
		Amount:     tx.Amount,
		Commission: tx.Commission,
		SenderID:   tx.SenderID,
		ReceiverID: tx.ReceiverID,
		Audience:   audience,
	})
	if err := h.bus.Publish(ctx, domain.TopicTransactionRecorded, payload); err != nil {
		slog.Warn("failed to publish transaction event", "tx_id", tx.ID, "error", err)
	}

	writeJSON(w, http.StatusCreated, TransactionResponse{
		Transaction: tx,
		Quote:       q,
	})
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	tx, err := h.repo.GetTransaction(r.Context(), txID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// GetLedger handles GET /accounts/{id}/ledger with optional RFC 3339
// from/to query parameters.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")

	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid 'from' parameter, expected RFC 3339 timestamp",
		})
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid 'to' parameter, expected RFC 3339 timestamp",
		})
		return
	}

	l, err := h.ledgers.BuildLedger(r.Context(), accountID, from, to)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, l)
}

// GetRevenue handles GET /revenue with optional from/to window.
func (h *Handler) GetRevenue(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid 'from' parameter, expected RFC 3339 timestamp",
		})
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid 'to' parameter, expected RFC 3339 timestamp",
		})
		return
	}

	rev, err := h.repo.RevenueReport(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rev)
}

// ListCommissionRules returns every commission rule, active or not.
func (h *Handler) ListCommissionRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListAllCommissionRules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// GetCommissionRule retrieves a commission rule by ID.
func (h *Handler) GetCommissionRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.repo.GetCommissionRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateCommissionRule creates or updates a commission rule and
// invalidates the rule cache everywhere.
func (h *Handler) CreateCommissionRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.CommissionRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.Name == "" || rule.Action == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and action are required",
		})
		return
	}

	if rule.Condition != "" {
		if err := h.matcher.ValidateCondition(rule.Condition); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid condition expression: " + err.Error(),
			})
			return
		}
	}

	if err := h.repo.SaveCommissionRule(ctx, &rule); err != nil {
		writeError(w, err)
		return
	}

	h.rulesChanged(ctx, "commission", rule.ID)

	slog.Info("commission rule saved", "id", rule.ID, "name", rule.Name, "action", rule.Action)
	writeJSON(w, http.StatusCreated, rule)
}

// DeactivateCommissionRule soft-deletes a commission rule.
func (h *Handler) DeactivateCommissionRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.repo.DeactivateCommissionRule(ctx, id); err != nil {
		writeError(w, err)
		return
	}

	h.rulesChanged(ctx, "commission", id)

	slog.Info("commission rule deactivated", "id", id)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule deactivated",
	})
}

// ListReferralRules returns every referral rule, active or not.
func (h *Handler) ListReferralRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.repo.ListAllReferralRules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// GetReferralRule retrieves a referral rule by ID.
func (h *Handler) GetReferralRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.repo.GetReferralRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateReferralRule creates or updates a referral rule.
func (h *Handler) CreateReferralRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.ReferralRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}

	if err := h.repo.SaveReferralRule(ctx, &rule); err != nil {
		writeError(w, err)
		return
	}

	h.rulesChanged(ctx, "referral", rule.ID)

	slog.Info("referral rule saved", "id", rule.ID, "action", rule.RequiredAction)
	writeJSON(w, http.StatusCreated, rule)
}

// DeactivateReferralRule soft-deletes a referral rule.
func (h *Handler) DeactivateReferralRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.repo.DeactivateReferralRule(ctx, id); err != nil {
		writeError(w, err)
		return
	}

	h.rulesChanged(ctx, "referral", id)

	slog.Info("referral rule deactivated", "id", id)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule deactivated",
	})
}

// ReloadRules drops all cached rules so the next quote refetches.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	h.ruleCache.Invalidate(r.Context())

	slog.Info("rule cache invalidated")
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "rule cache invalidated",
	})
}

// ReferralRequest is the request body for POST /referrals.
type ReferralRequest struct {
	ReferrerID       string          `json:"referrerId"`
	RefereeID        string          `json:"refereeId"`
	ReferrerAudience domain.Audience `json:"referrerAudience,omitempty"`
	RefereeAudience  domain.Audience `json:"refereeAudience,omitempty"`
}

// CreateReferral handles POST /referrals: link a referee to a referrer
// and announce the link so account-created rewards can fire.
func (h *Handler) CreateReferral(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ReferrerID == "" || req.RefereeID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "referrerId and refereeId are required",
		})
		return
	}
	if req.ReferrerID == req.RefereeID {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "an account cannot refer itself",
		})
		return
	}
	if req.ReferrerAudience == "" {
		req.ReferrerAudience = domain.AudienceUser
	}
	if req.RefereeAudience == "" {
		req.RefereeAudience = domain.AudienceUser
	}

	ref := &domain.Referral{
		ID:               uuid.New().String(),
		ReferrerID:       req.ReferrerID,
		RefereeID:        req.RefereeID,
		ReferrerAudience: req.ReferrerAudience,
		RefereeAudience:  req.RefereeAudience,
		CreatedAt:        time.Now().UTC(),
	}

	if err := h.repo.SaveReferral(ctx, ref); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, err)
			return
		}
		// Unique constraint: the referee is already linked.
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "referee is already referred",
		})
		return
	}

	payload, _ := json.Marshal(domain.ReferralEvent{
		ReferralID: ref.ID,
		RefereeID:  ref.RefereeID,
	})
	if err := h.bus.Publish(ctx, domain.TopicAccountReferred, payload); err != nil {
		slog.Warn("failed to publish referral event", "referral_id", ref.ID, "error", err)
	}

	slog.Info("referral link created", "referral_id", ref.ID, "referrer_id", ref.ReferrerID, "referee_id", ref.RefereeID)
	writeJSON(w, http.StatusCreated, ref)
}

// GetReferral looks up the referral link for a referee.
func (h *Handler) GetReferral(w http.ResponseWriter, r *http.Request) {
	ref, err := h.repo.GetReferralByReferee(r.Context(), chi.URLParam(r, "refereeId"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ref)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if err := h.repo.Ping(r.Context()); err != nil {
		status = "degraded"
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// rulesChanged invalidates the local rule cache and announces the change
// so other instances invalidate theirs.
func (h *Handler) rulesChanged(ctx context.Context, family, ruleID string) {
	h.ruleCache.Invalidate(ctx)

	payload, _ := json.Marshal(domain.RulesChangedEvent{
		Family: family,
		RuleID: ruleID,
	})
	if err := h.bus.Publish(ctx, domain.TopicRulesChanged, payload); err != nil {
		slog.Warn("failed to publish rules changed event", "family", family, "rule_id", ruleID, "error", err)
	}
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// writeError maps domain sentinel errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
