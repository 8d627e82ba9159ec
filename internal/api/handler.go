package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/assurtech-ci/tarif/internal/domain"
	"github.com/assurtech-ci/tarif/internal/dsl"
	"github.com/assurtech-ci/tarif/internal/quote"
	"github.com/assurtech-ci/tarif/internal/repository"
	"github.com/assurtech-ci/tarif/internal/usage"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	quotes  *quote.Service
	usage   *usage.Service
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, quotes *quote.Service, usageSvc *usage.Service, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		quotes:  quotes,
		usage:   usageSvc,
		version: version,
	}
}

// Evaluate handles POST /evaluate requests. The body is a QuoteRequest;
// the response is the full premium breakdown.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req domain.QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.CalcRuleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "calcRuleId is required",
		})
		return
	}

	quotation, err := h.quotes.Quote(ctx, tenantID, traceID, &req)
	if err != nil {
		status := evaluationStatus(err)
		if status == http.StatusInternalServerError {
			slog.Error("evaluation failed",
				"rule_id", req.CalcRuleID,
				"tenant_id", tenantID,
				"error", err,
			)
		}
		writeJSON(w, status, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, quotation)
}

// evaluationStatus maps an evaluation error to an HTTP status code.
// Bad input is 400, an expression that cannot be parsed or computed is
// 422, and configuration conflicts (inactive rule, unknown formula) are
// 409 because a different rule version may resolve them.
func evaluationStatus(err error) int {
	var verr *domain.ValidationError
	var perr *dsl.ParseError
	var eerr *dsl.EvalError

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &perr), errors.As(err, &eerr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRuleInactive), errors.Is(err, domain.ErrUnknownFormula):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
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

// GetQuotation retrieves a persisted quotation by ID.
func (h *Handler) GetQuotation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	quotationID := chi.URLParam(r, "id")

	if quotationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "quotation id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	quotation, err := h.repo.GetQuotation(ctx, tenantID, quotationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "quotation not found",
			})
			return
		}
		slog.Error("failed to get quotation", "id", quotationID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get quotation",
		})
		return
	}

	writeJSON(w, http.StatusOK, quotation)
}

// ListRules returns the latest version of every rule for the tenant.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rules, err := h.repo.ListRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list rules", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule retrieves the latest version of a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	rule, err := h.repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		if errors.Is(err, domain.ErrRuleNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to get rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get rule",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// SaveRule creates or updates a rule. The rule is validated (including a
// parse of every expression it carries) before it is persisted; the
// engine and cache are invalidated so the next evaluation sees the new
// version.
func (h *Handler) SaveRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var rule domain.CalcRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if pathID := chi.URLParam(r, "id"); pathID != "" {
		if rule.ID == "" {
			rule.ID = pathID
		} else if rule.ID != pathID {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "rule id in body does not match URL",
			})
			return
		}
	}

	if err := h.quotes.SaveRule(ctx, tenantID, &rule); err != nil {
		var perr *dsl.ParseError
		if errors.Is(err, domain.ErrInvalidRule) || errors.As(err, &perr) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("failed to save rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":      rule.ID,
		"version": rule.Version,
		"status":  "saved",
	})
}

// DeleteRule deactivates a rule. Past quotations computed against it are
// kept.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if err := h.quotes.DeleteRule(ctx, tenantID, ruleID); err != nil {
		if errors.Is(err, domain.ErrRuleNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to delete rule", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete rule",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     ruleID,
		"status": "deactivated",
	})
}

// ReloadRules drops every cached rule snapshot and AST for the tenant so
// the next evaluation re-reads the database. Useful after out-of-band
// database edits.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	rules, err := h.repo.ListRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list rules for reload", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules",
		})
		return
	}

	for _, rule := range rules {
		h.quotes.HandleRuleUpdated(ctx, tenantID, rule.ID)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded": len(rules),
	})
}

// RuleUsage returns quotation counts for a rule over the last hour, day
// and month.
func (h *Handler) RuleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.usage == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "usage tracking not available",
		})
		return
	}

	stats, err := h.usage.Stats(ctx, tenantID, ruleID)
	if err != nil {
		slog.Error("failed to get rule usage", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get rule usage",
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
