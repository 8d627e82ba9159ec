// Package quote coordinates one quotation end to end: rule resolution
// through the cache, engine evaluation, persistence, usage recording,
// and event publication.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/assurtech-ci/tarif/internal/domain"
	"github.com/assurtech-ci/tarif/internal/engine"
	"github.com/assurtech-ci/tarif/internal/usage"
)

// Service runs the quotation pipeline over the configured backends.
// Repository, cache, bus, and usage may each be nil; the service degrades
// to pure evaluation so the engine stays testable without infrastructure.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	bus    domain.EventBus
	engine *engine.Engine
	usage  *usage.Service

	// RuleTTL bounds how long a rule snapshot stays cached.
	RuleTTL time.Duration

	// UsageWindow is the rolling window for the live quote counter.
	UsageWindow time.Duration
}

// NewService creates a quotation service.
func NewService(repo domain.Repository, cache domain.Cache, bus domain.EventBus, eng *engine.Engine, usageSvc *usage.Service) *Service {
	return &Service{
		repo:        repo,
		cache:       cache,
		bus:         bus,
		engine:      eng,
		usage:       usageSvc,
		RuleTTL:     5 * time.Minute,
		UsageWindow: time.Hour,
	}
}

// ResolveRule loads a rule, serving hot rules from the cache and falling
// back to the repository. Cache errors are logged, never fatal.
func (s *Service) ResolveRule(ctx context.Context, tenantID, ruleID string) (*domain.CalcRule, error) {
	if s.cache != nil {
		rule, err := s.cache.GetRule(ctx, tenantID, ruleID)
		if err != nil {
			slog.Warn("rule cache read failed",
				"rule_id", ruleID,
				"error", err,
			)
		} else if rule != nil {
			return rule, nil
		}
	}

	rule, err := s.repo.GetRule(ctx, tenantID, ruleID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetRule(ctx, tenantID, rule, s.RuleTTL); err != nil {
			slog.Warn("rule cache write failed",
				"rule_id", ruleID,
				"error", err,
			)
		}
	}

	return rule, nil
}

// Quote resolves the rule and evaluates one quotation. The quotation is
// persisted and announced on the bus; both are best-effort so a storage
// hiccup never loses a computed price.
func (s *Service) Quote(ctx context.Context, tenantID, traceID string, req *domain.QuoteRequest) (*domain.Quotation, error) {
	rule, err := s.ResolveRule(ctx, tenantID, req.CalcRuleID)
	if err != nil {
		return nil, err
	}

	q, err := s.engine.Quote(ctx, rule, req)
	if err != nil {
		return nil, err
	}
	q.TenantID = tenantID
	q.Metadata.TraceID = traceID

	if s.repo != nil {
		if err := s.repo.SaveQuotation(ctx, tenantID, q); err != nil {
			slog.Error("failed to save quotation",
				"quotation_id", q.ID,
				"rule_id", q.RuleID,
				"error", err,
			)
		}
	}

	if s.usage != nil {
		if _, err := s.usage.Record(ctx, tenantID, q.RuleID, s.UsageWindow); err != nil {
			slog.Warn("failed to record quote usage",
				"rule_id", q.RuleID,
				"error", err,
			)
		}
	}

	if s.bus != nil {
		payload, _ := json.Marshal(q)
		if err := s.bus.Publish(ctx, tenantID, domain.TopicQuoteComputed, payload); err != nil {
			slog.Error("failed to publish quotation",
				"quotation_id", q.ID,
				"error", err,
			)
		}
	}

	return q, nil
}

// SaveRule validates and persists a rule as a new version, bumps the
// caches, and announces the change so other nodes drop their snapshots.
// Versions are assigned server-side: an update never overwrites a stored
// version in place, so quotations computed against old versions keep
// referring to the content they were priced with.
func (s *Service) SaveRule(ctx context.Context, tenantID string, rule *domain.CalcRule) error {
	if err := s.engine.ValidateRule(rule); err != nil {
		return err
	}

	current, err := s.repo.GetRule(ctx, tenantID, rule.ID)
	switch {
	case errors.Is(err, domain.ErrRuleNotFound):
		if rule.Version < 1 {
			rule.Version = 1
		}
	case err != nil:
		return err
	default:
		if rule.Version <= current.Version {
			rule.Version = current.Version + 1
		}
	}

	if err := s.repo.SaveRule(ctx, tenantID, rule); err != nil {
		return err
	}

	s.invalidate(ctx, tenantID, rule.ID)
	s.announceRuleUpdate(ctx, tenantID, rule.ID)
	return nil
}

// DeleteRule deactivates a rule and invalidates its cached state.
func (s *Service) DeleteRule(ctx context.Context, tenantID, ruleID string) error {
	if err := s.repo.DeleteRule(ctx, tenantID, ruleID); err != nil {
		return err
	}

	s.invalidate(ctx, tenantID, ruleID)
	s.announceRuleUpdate(ctx, tenantID, ruleID)
	return nil
}

// HandleRuleUpdated drops local cached state for a rule that another node
// edited. Wired to the rule-updated topic by the worker.
func (s *Service) HandleRuleUpdated(ctx context.Context, tenantID, ruleID string) {
	s.invalidate(ctx, tenantID, ruleID)
}

func (s *Service) invalidate(ctx context.Context, tenantID, ruleID string) {
	s.engine.InvalidateRule(ruleID)
	if s.cache != nil {
		if err := s.cache.InvalidateRule(ctx, tenantID, ruleID); err != nil {
			slog.Warn("failed to invalidate cached rule",
				"rule_id", ruleID,
				"error", err,
			)
		}
	}
}

// RuleUpdateMessage is the payload carried on the rule-updated topic.
type RuleUpdateMessage struct {
	RuleID string `json:"ruleId"`
}

func (s *Service) announceRuleUpdate(ctx context.Context, tenantID, ruleID string) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(RuleUpdateMessage{RuleID: ruleID})
	if err := s.bus.Publish(ctx, tenantID, domain.TopicRuleUpdated, payload); err != nil {
		slog.Error("failed to announce rule update",
			"rule_id", ruleID,
			"error", err,
		)
	}
}
