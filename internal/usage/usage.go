// Package usage provides per-rule quotation volume statistics.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/assurtech-ci/tarif/internal/domain"
)

// RuleUsage summarizes how often a rule has been quoted.
type RuleUsage struct {
	RuleID    string `json:"ruleId"`
	LastHour  int64  `json:"lastHour"`
	LastDay   int64  `json:"lastDay"`
	LastMonth int64  `json:"lastMonth"`
}

// Service computes quotation volume per rule. Persisted quotations are the
// source of truth; the cache carries a rolling counter for cheap rate
// checks that must not hit the database on every quote.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new usage service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// Record notes one quotation for a rule in the rolling window counter.
func (s *Service) Record(ctx context.Context, tenantID, ruleID string, window time.Duration) (int64, error) {
	if tenantID == "" || ruleID == "" {
		return 0, fmt.Errorf("tenantID and ruleID are required")
	}
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.IncrementCounter(ctx, tenantID, "quotes:"+ruleID, window)
}

// Stats returns quotation counts over the standard reporting windows.
func (s *Service) Stats(ctx context.Context, tenantID, ruleID string) (*RuleUsage, error) {
	if tenantID == "" || ruleID == "" {
		return nil, fmt.Errorf("tenantID and ruleID are required")
	}
	if s.repo == nil {
		return nil, fmt.Errorf("no data source available")
	}

	now := time.Now().UTC()
	u := &RuleUsage{RuleID: ruleID}

	windows := []struct {
		d    time.Duration
		dest *int64
	}{
		{time.Hour, &u.LastHour},
		{24 * time.Hour, &u.LastDay},
		{30 * 24 * time.Hour, &u.LastMonth},
	}
	for _, w := range windows {
		count, err := s.repo.CountQuotations(ctx, tenantID, ruleID, now.Add(-w.d))
		if err != nil {
			return nil, fmt.Errorf("failed to count quotations: %w", err)
		}
		*w.dest = count
	}

	return u, nil
}
