package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/replydesk/aigateway/internal/budget"
	"github.com/replydesk/aigateway/internal/domain"
	"github.com/replydesk/aigateway/internal/metrics"
)

// Recorder appends usage records and feeds the budget ledger off the request
// path. Recording is fire-and-forget: the caller's response never waits on
// the usage store, and a persist failure is logged and alerted but not
// surfaced, since silent undercounting is the failure mode to guard against.
type Recorder struct {
	store   Store
	ledger  *budget.Ledger
	sink    EventSink
	onError func(ctx context.Context, record domain.UsageRecord, err error)
	timeout time.Duration

	records chan domain.UsageRecord
	wg      sync.WaitGroup
	once    sync.Once
}

type RecorderOption func(*Recorder)

// WithSink forwards every record to an external event sink (e.g. SQS).
func WithSink(sink EventSink) RecorderOption {
	return func(r *Recorder) { r.sink = sink }
}

// WithErrorHandler is called when a record cannot be persisted, in addition
// to logging. Wire it to the alert notifier.
func WithErrorHandler(fn func(ctx context.Context, record domain.UsageRecord, err error)) RecorderOption {
	return func(r *Recorder) { r.onError = fn }
}

func NewRecorder(store Store, ledger *budget.Ledger, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:   store,
		ledger:  ledger,
		timeout: 10 * time.Second,
		records: make(chan domain.UsageRecord, 1024),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// Record enqueues without blocking. A full queue drops the record rather than
// stalling the caller; the drop is logged and counted.
func (r *Recorder) Record(record domain.UsageRecord) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	select {
	case r.records <- record:
	default:
		metrics.RecordUsageDropped()
		slog.Error("usage queue full, dropping record",
			"tenant_id", record.TenantID,
			"request_id", record.RequestID,
		)
	}
}

// Close drains the queue and stops the worker.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.records)
	})
	r.wg.Wait()
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	for record := range r.records {
		r.persist(record)
	}
}

func (r *Recorder) persist(record domain.UsageRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.Append(ctx, record); err != nil {
		metrics.RecordUsagePersistFailure()
		slog.Error("failed to persist usage record",
			"error", err,
			"tenant_id", record.TenantID,
			"request_id", record.RequestID,
		)
		if r.onError != nil {
			r.onError(ctx, record, err)
		}
	}

	// only real provider spend feeds the ledger: cache hits and failed
	// attempts cost nothing
	if record.Success && !record.Cached {
		usage := domain.TokenUsage{InputTokens: record.InputTokens, OutputTokens: record.OutputTokens}
		if err := r.ledger.RecordSpend(ctx, record.TenantID, usage, record.CostUSD); err != nil {
			metrics.RecordUsagePersistFailure()
			slog.Error("failed to record budget spend",
				"error", err,
				"tenant_id", record.TenantID,
				"request_id", record.RequestID,
			)
			if r.onError != nil {
				r.onError(ctx, record, err)
			}
		}
	}

	if r.sink != nil {
		if err := r.sink.Publish(ctx, record); err != nil {
			slog.Warn("failed to publish usage event",
				"error", err,
				"tenant_id", record.TenantID,
				"request_id", record.RequestID,
			)
		}
	}
}
