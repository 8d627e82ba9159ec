package worker

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/assurtech-ci/tarif/internal/bus"
	"github.com/assurtech-ci/tarif/internal/cache"
	"github.com/assurtech-ci/tarif/internal/domain"
	"github.com/assurtech-ci/tarif/internal/engine"
	"github.com/assurtech-ci/tarif/internal/pricing"
	"github.com/assurtech-ci/tarif/internal/quote"
	"github.com/assurtech-ci/tarif/internal/repository"
	"github.com/assurtech-ci/tarif/internal/usage"
)

func newTestService(t *testing.T, eventBus domain.EventBus) *quote.Service {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "worker-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	lruCache := cache.NewLRUCache(100)
	t.Cleanup(func() { lruCache.Close() })

	eng := engine.NewEngine(pricing.Policy{RoundUnit: 1}, "test")
	return quote.NewService(repo, lruCache, eventBus, eng, usage.NewService(repo, lruCache))
}

func seedRule(t *testing.T, svc *quote.Service, tenantID string) {
	t.Helper()

	rule := &domain.CalcRule{
		ID:          "rule-auto",
		Type:        domain.RuleTypeNonVie,
		Name:        "Auto particulier",
		Version:     1,
		IsActive:    true,
		BaseFormula: "capital * taux / 100",
		Parameters: []domain.Parameter{
			{Code: "capital", Label: "Capital", Type: domain.ParamNumber, Required: true},
			{Code: "taux", Label: "Taux", Type: domain.ParamNumber, Value: "5"},
		},
	}
	if err := svc.SaveRule(context.Background(), tenantID, rule); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	service := newTestService(t, eventBus)

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, service)

		cfg := Config{
			TenantIDs: []string{"tenant-001"},
		}

		if err := w.Start(cfg); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessQuoteRequest", func(t *testing.T) {
		tenantID := "tenant-test"
		seedRule(t, service, tenantID)

		w := NewWorker(eventBus, service)
		w.Start(Config{TenantIDs: []string{tenantID}})
		defer w.Stop()

		var computedReceived atomic.Bool
		var computedPayload []byte

		eventBus.Subscribe(context.Background(), tenantID, domain.TopicQuoteComputed, func(ctx context.Context, msg *domain.Message) error {
			computedPayload = msg.Payload
			computedReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		job := QuoteJobMessage{
			TenantID: tenantID,
			TraceID:  "trace-001",
			Request: domain.QuoteRequest{
				CalcRuleID: "rule-auto",
				Parameters: map[string]string{"capital": "100000"},
			},
		}

		payload, _ := json.Marshal(job)
		if err := eventBus.Publish(context.Background(), tenantID, domain.TopicQuoteRequested, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(200 * time.Millisecond)

		if !computedReceived.Load() {
			t.Fatal("expected quotation to be published")
		}

		var q domain.Quotation
		if err := json.Unmarshal(computedPayload, &q); err != nil {
			t.Fatalf("failed to parse quotation: %v", err)
		}
		if q.RuleID != "rule-auto" {
			t.Errorf("expected ruleId 'rule-auto', got '%s'", q.RuleID)
		}
		if q.PrimeNette != 5000 {
			t.Errorf("expected primeNette 5000, got %g", q.PrimeNette)
		}
		if q.Metadata.TraceID != "trace-001" {
			t.Errorf("expected traceId 'trace-001', got '%s'", q.Metadata.TraceID)
		}
	})

	t.Run("FailurePublished", func(t *testing.T) {
		tenantID := "tenant-fail"

		w := NewWorker(eventBus, service)
		w.Start(Config{TenantIDs: []string{tenantID}})
		defer w.Stop()

		var failureReceived atomic.Bool
		var failurePayload []byte

		eventBus.Subscribe(context.Background(), tenantID, domain.TopicQuoteFailed, func(ctx context.Context, msg *domain.Message) error {
			failurePayload = msg.Payload
			failureReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		job := QuoteJobMessage{
			Request: domain.QuoteRequest{
				CalcRuleID: "nonexistent",
				Parameters: map[string]string{"capital": "100000"},
			},
		}

		payload, _ := json.Marshal(job)
		eventBus.Publish(context.Background(), tenantID, domain.TopicQuoteRequested, payload)

		time.Sleep(200 * time.Millisecond)

		if !failureReceived.Load() {
			t.Fatal("expected failure to be published for unknown rule")
		}

		var failure QuoteFailedMessage
		if err := json.Unmarshal(failurePayload, &failure); err != nil {
			t.Fatalf("failed to parse failure message: %v", err)
		}
		if failure.CalcRuleID != "nonexistent" {
			t.Errorf("expected calcRuleId 'nonexistent', got '%s'", failure.CalcRuleID)
		}
		if failure.Error == "" {
			t.Error("expected failure error message")
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, service)

		cfg := Config{
			TenantIDs: []string{"tenant-a", "tenant-b"},
		}
		w.Start(cfg)
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 4 {
			t.Errorf("expected 4 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}

func TestQuoteJobMessageParsing(t *testing.T) {
	msg := QuoteJobMessage{
		TenantID: "tenant-001",
		TraceID:  "trace-456",
		Request: domain.QuoteRequest{
			CalcRuleID:          "rule-auto",
			Parameters:          map[string]string{"capital": "100000"},
			SelectedFormulaCode: "TOUS_RISQUES",
			PackageCode:         "ESSENTIEL",
			OptionCodes:         []string{"JEUNE"},
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed QuoteJobMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.Request.CalcRuleID != msg.Request.CalcRuleID {
		t.Errorf("expected CalcRuleID '%s', got '%s'", msg.Request.CalcRuleID, parsed.Request.CalcRuleID)
	}
	if parsed.Request.Parameters["capital"] != "100000" {
		t.Errorf("parameters not round-tripped: %+v", parsed.Request.Parameters)
	}
	if len(parsed.Request.OptionCodes) != 1 || parsed.Request.OptionCodes[0] != "JEUNE" {
		t.Errorf("option codes not round-tripped: %+v", parsed.Request.OptionCodes)
	}
}
