// Package worker provides async quote processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/assurtech-ci/tarif/internal/domain"
	"github.com/assurtech-ci/tarif/internal/quote"
)

// Worker consumes quote requests from the EventBus and keeps local rule
// caches coherent with edits made on other nodes.
type Worker struct {
	bus     domain.EventBus
	service *quote.Service

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global worker)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, service *quote.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		service: service,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{"_global"}
	}

	for _, tenantID := range tenants {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(tenants),
	)

	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	quoteSub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicQuoteRequested, w.handleQuoteRequest)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, quoteSub)

	ruleSub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicRuleUpdated, w.handleRuleUpdated)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, ruleSub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topics", []string{domain.TopicQuoteRequested, domain.TopicRuleUpdated},
	)

	return nil
}

// QuoteJobMessage is the payload carried on the quote-requested topic.
type QuoteJobMessage struct {
	TenantID string              `json:"tenantId,omitempty"`
	TraceID  string              `json:"traceId,omitempty"`
	Request  domain.QuoteRequest `json:"request"`
}

// QuoteFailedMessage is published when an async quote request errors.
type QuoteFailedMessage struct {
	TraceID    string              `json:"traceId,omitempty"`
	CalcRuleID string              `json:"calcRuleId"`
	Error      string              `json:"error"`
	Request    domain.QuoteRequest `json:"request"`
}

// handleQuoteRequest evaluates one queued quote request.
func (w *Worker) handleQuoteRequest(ctx context.Context, msg *domain.Message) error {
	var job QuoteJobMessage
	if err := json.Unmarshal(msg.Payload, &job); err != nil {
		slog.Error("failed to parse quote request message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	tenantID := msg.TenantID
	if job.TenantID != "" {
		tenantID = job.TenantID
	}
	traceID := job.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing quote request",
		"rule_id", job.Request.CalcRuleID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	q, err := w.service.Quote(ctx, tenantID, traceID, &job.Request)
	if err != nil {
		slog.Error("async quote failed",
			"rule_id", job.Request.CalcRuleID,
			"trace_id", traceID,
			"error", err,
		)
		w.publishFailure(ctx, tenantID, traceID, &job.Request, err)
		return err
	}

	slog.Info("quote processed",
		"quotation_id", q.ID,
		"rule_id", q.RuleID,
		"tenant_id", tenantID,
		"total_due", q.TotalDue,
		"duration_ms", q.Metadata.TotalMs,
	)

	return nil
}

func (w *Worker) publishFailure(ctx context.Context, tenantID, traceID string, req *domain.QuoteRequest, cause error) {
	payload, _ := json.Marshal(QuoteFailedMessage{
		TraceID:    traceID,
		CalcRuleID: req.CalcRuleID,
		Error:      cause.Error(),
		Request:    *req,
	})
	if err := w.bus.Publish(ctx, tenantID, domain.TopicQuoteFailed, payload); err != nil {
		slog.Error("failed to publish quote failure",
			"rule_id", req.CalcRuleID,
			"error", err,
		)
	}
}

// handleRuleUpdated drops cached state for a rule edited elsewhere.
func (w *Worker) handleRuleUpdated(ctx context.Context, msg *domain.Message) error {
	var update quote.RuleUpdateMessage
	if err := json.Unmarshal(msg.Payload, &update); err != nil {
		slog.Error("failed to parse rule update message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	w.service.HandleRuleUpdated(ctx, msg.TenantID, update.RuleID)

	slog.Debug("rule caches invalidated",
		"rule_id", update.RuleID,
		"tenant_id", msg.TenantID,
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
