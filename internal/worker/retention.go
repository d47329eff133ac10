package worker

import (
	"context"
	"time"

	"github.com/ignite/phishsim/internal/pkg/logger"
	"github.com/ignite/phishsim/internal/pkg/telemetry"
)

// =============================================================================
// RETENTION WORKER
// =============================================================================
// Removes engagement events past the retention window. Deletes run in bounded batches so no single statement holds locks on
// email_events for long.

const (
	DefaultRetentionInterval = 1 * time.Hour
	retentionBatchSize       = 10000
)

// EventPurger deletes at most limit events older than cutoff and returns how
// many went.
type EventPurger interface {
	PurgeEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// RetentionWorker periodically purges old events.
type RetentionWorker struct {
	store     EventPurger
	retention time.Duration
	interval  time.Duration
	batchSize int
	pause     time.Duration
	now       func() time.Time
	log       *logger.Logger
}

// NewRetentionWorker keeps events for days days. days <= 0 disables purging.
func NewRetentionWorker(store EventPurger, days int, interval time.Duration) *RetentionWorker {
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}
	return &RetentionWorker{
		store:     store,
		retention: time.Duration(days) * 24 * time.Hour,
		interval:  interval,
		batchSize: retentionBatchSize,
		pause:     100 * time.Millisecond,
		now:       func() time.Time { return time.Now().UTC() },
		log:       logger.With("component", "retention"),
	}
}

// Start runs one purge immediately, then every interval, until ctx is done.
func (w *RetentionWorker) Start(ctx context.Context) error {
	if w.retention <= 0 {
		w.log.Info("retention disabled")
		<-ctx.Done()
		return nil
	}
	w.log.Info("starting", "interval", w.interval.String(), "retention_days", int(w.retention.Hours()/24))

	w.PurgeOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("stopping")
			return nil
		case <-ticker.C:
			w.PurgeOnce(ctx)
		}
	}
}

// PurgeOnce deletes batches until one comes back short. Errors are logged;
// the next tick retries.
func (w *RetentionWorker) PurgeOnce(ctx context.Context) int64 {
	start := time.Now()
	cutoff := w.now().Add(-w.retention)
	var total int64
	for ctx.Err() == nil {
		qctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		n, err := w.store.PurgeEventsBefore(qctx, cutoff, w.batchSize)
		cancel()
		if err != nil {
			w.log.Error("purge batch failed", "error", err, "deleted_so_far", total)
			break
		}
		total += n
		telemetry.EventsPurged.Add(float64(n))
		if n < int64(w.batchSize) {
			break
		}
		if w.pause > 0 {
			time.Sleep(w.pause)
		}
	}
	if total > 0 {
		w.log.Info("purged events", "deleted", total, "cutoff", cutoff.Format(time.RFC3339),
			"took", time.Since(start).Round(time.Millisecond).String())
	}
	return total
}
