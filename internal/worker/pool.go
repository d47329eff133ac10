package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/pkg/logger"
)

const (
	defaultRetryDelay  = 5 * time.Second
	defaultMaxAttempts = 10
	dequeueBackoff     = time.Second
)

// Runner performs one dispatch run. *Dispatcher satisfies it.
type Runner interface {
	Run(ctx context.Context, campaignID string) (*domain.DispatchResult, error)
}

// Pool consumes dispatch jobs with a fixed number of workers. Per-campaign
// exclusion is the runner's lock; a job that finds its campaign locked is
// put back after a delay so a resume racing a finishing run is not lost.
type Pool struct {
	queue       Queue
	runner      Runner
	workers     int
	retryDelay  time.Duration
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
	log         *logger.Logger

	runs   int64
	failed int64
}

// NewPool creates a pool of n workers.
func NewPool(queue Queue, runner Runner, n int) *Pool {
	if n <= 0 {
		n = 1
	}
	return &Pool{
		queue:       queue,
		runner:      runner,
		workers:     n,
		retryDelay:  defaultRetryDelay,
		maxAttempts: defaultMaxAttempts,
		sleep:       sleepContext,
		log:         logger.With("component", "dispatch_pool"),
	}
}

// WithRetryDelay sets how long a locked-out job waits before re-enqueue.
func (p *Pool) WithRetryDelay(d time.Duration) *Pool {
	p.retryDelay = d
	return p
}

// Run blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("starting dispatch workers", "workers", p.workers)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		id := i
		g.Go(func() error {
			p.work(ctx, id)
			return nil
		})
	}
	err := g.Wait()
	p.log.Info("dispatch workers stopped", "runs", atomic.LoadInt64(&p.runs), "failed", atomic.LoadInt64(&p.failed))
	return err
}

// Stats returns counters since start.
func (p *Pool) Stats() map[string]int64 {
	return map[string]int64{
		"runs":   atomic.LoadInt64(&p.runs),
		"failed": atomic.LoadInt64(&p.failed),
	}
}

func (p *Pool) work(ctx context.Context, id int) {
	for {
		d, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("dequeue failed", "worker", id, "error", err)
			if p.sleep(ctx, dequeueBackoff) != nil {
				return
			}
			continue
		}
		p.handle(ctx, id, d)
	}
}

func (p *Pool) handle(ctx context.Context, id int, d *Delivery) {
	job := d.Job
	_, err := p.runner.Run(ctx, job.CampaignID)
	atomic.AddInt64(&p.runs, 1)

	switch {
	case err == nil:
	case ctx.Err() != nil:
		// shutting down: leave the job unacked for redelivery
		return
	case errors.Is(err, ErrRunInProgress):
		if !p.requeue(ctx, id, job) && ctx.Err() != nil {
			return
		}
	default:
		atomic.AddInt64(&p.failed, 1)
		p.log.Error("dispatch run failed", "worker", id, "campaign_id", job.CampaignID,
			"reason", job.Reason, "error", err)
	}
	if err := d.Ack(ctx); err != nil {
		p.log.Warn("ack dispatch job", "campaign_id", job.CampaignID, "error", err)
	}
}

// requeue reports whether the job was put back.
func (p *Pool) requeue(ctx context.Context, id int, job domain.DispatchJob) bool {
	if job.Attempt+1 >= p.maxAttempts {
		p.log.Warn("dropping dispatch job, campaign stayed locked", "worker", id,
			"campaign_id", job.CampaignID, "attempts", job.Attempt+1)
		return false
	}
	if p.sleep(ctx, p.retryDelay) != nil {
		return false
	}
	job.Attempt++
	job.Reason = "retry"
	job.EnqueuedAt = time.Now().UTC()
	if err := p.queue.Enqueue(ctx, job); err != nil {
		p.log.Error("requeue dispatch job", "campaign_id", job.CampaignID, "error", err)
		return false
	}
	return true
}
