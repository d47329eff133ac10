package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/mail"
	"github.com/ignite/phishsim/internal/pkg/distlock"
	"github.com/ignite/phishsim/internal/pkg/logger"
	"github.com/ignite/phishsim/internal/pkg/telemetry"
	"github.com/ignite/phishsim/internal/ratelimit"
	"github.com/ignite/phishsim/internal/template"
)

// =============================================================================
// BULK DISPATCHER
// =============================================================================
// One run walks a campaign's pending enrollments in id order and, per item:
//   - re-reads the campaign and stops once it is no longer active
//   - takes one unit of the shared hourly budget, sleeping until the window
//     resets when it is spent
//   - confirms it still owns the campaign lock, renders and sends, then
//     records sent or bounced under the row lock
// The budget wait is sliced well below the lock TTL and the lease is
// extended after every slice, so a long wait never lets a second run in.
// Every item commits on its own, so an interrupted run leaves a consistent
// set of pending targets and a re-run only touches those.

// ErrRunInProgress is returned when another run holds the campaign lock.
var ErrRunInProgress = errors.New("dispatch already running for campaign")

const (
	hourlyBudgetKey = "dispatch:hourly"
	defaultPageSize = 100
)

// Store is the storage contract of the dispatcher.
type Store interface {
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
	// PendingRecipients returns up to limit pending enrollments with id
	// greater than afterID, ordered by id.
	PendingRecipients(ctx context.Context, campaignID, afterID string, limit int) ([]domain.Recipient, error)
	CountTargets(ctx context.Context, campaignID string, status domain.TargetStatus) (int, error)
	TransitionCampaign(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, at time.Time) error
}

// SendRecorder writes the outcome of one send. *tracking.Service satisfies it.
type SendRecorder interface {
	RecordSend(ctx context.Context, campaignTargetID string, meta map[string]any) (bool, error)
	RecordBounce(ctx context.Context, campaignTargetID, reason string) error
}

// DispatcherConfig holds run-wide settings.
type DispatcherConfig struct {
	BaseURL      string
	Sender       template.Sender
	HourlyBudget int // sends per clock hour across every run; <=0 disables
	PageSize     int
	LockTTL      time.Duration
}

// Dispatcher sends a campaign to its pending targets.
type Dispatcher struct {
	store    Store
	recorder SendRecorder
	mailer   mail.Mailer
	budget   ratelimit.Counter
	locks    distlock.Factory
	cfg      DispatcherConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	log   *logger.Logger
}

// NewDispatcher wires a dispatcher. budget is the shared counter store for
// the hourly limit.
func NewDispatcher(store Store, recorder SendRecorder, mailer mail.Mailer, budget ratelimit.Counter, locks distlock.Factory, cfg DispatcherConfig) *Dispatcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Dispatcher{
		store:    store,
		recorder: recorder,
		mailer:   mailer,
		budget:   budget,
		locks:    locks,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepContext,
		log:      logger.With("component", "dispatcher"),
	}
}

// WithSleep replaces the budget wait (tests advance a fake clock instead).
func (d *Dispatcher) WithSleep(fn func(ctx context.Context, dur time.Duration) error) *Dispatcher {
	d.sleep = fn
	return d
}

// WithClock overrides the timestamp source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

func sleepContext(ctx context.Context, dur time.Duration) error {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run performs one dispatch run. It returns ErrRunInProgress without
// sending when another run holds the campaign.
func (d *Dispatcher) Run(ctx context.Context, campaignID string) (*domain.DispatchResult, error) {
	start := time.Now()
	res := &domain.DispatchResult{CampaignID: campaignID}

	lock := d.locks(distlock.CampaignKey(campaignID))
	ok, err := lock.Acquire(ctx)
	if err != nil {
		telemetry.DispatchRuns.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("acquire campaign lock: %w", err)
	}
	if !ok {
		telemetry.DispatchRuns.WithLabelValues("locked").Inc()
		return nil, ErrRunInProgress
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			d.log.Warn("release campaign lock", "campaign_id", campaignID, "error", err)
		}
	}()

	err = d.run(ctx, lock, res)
	res.Duration = time.Since(start)
	telemetry.DispatchRunDuration.Observe(res.Duration.Seconds())
	telemetry.DispatchRuns.WithLabelValues(runOutcome(res, err)).Inc()

	d.log.Info("dispatch run finished", "campaign_id", campaignID,
		"sent", res.Sent, "failed", res.Failed, "skipped", res.Skipped, "waits", res.Waits,
		"paused", res.Paused, "completed", res.Completed, "duration", res.Duration.Round(time.Millisecond).String())
	return res, err
}

func runOutcome(res *domain.DispatchResult, err error) string {
	switch {
	case err != nil:
		return "failed"
	case res.Paused:
		return "paused"
	case res.Completed:
		return "completed"
	}
	return "partial"
}

func (d *Dispatcher) run(ctx context.Context, lock distlock.DistLock, res *domain.DispatchResult) error {
	c, err := d.store.GetCampaign(ctx, res.CampaignID)
	if err != nil {
		return fmt.Errorf("load campaign: %w", err)
	}
	if c.Status != domain.CampaignActive {
		res.Paused = c.Status == domain.CampaignPaused
		d.log.Info("campaign not active, nothing to send", "campaign_id", c.ID, "status", string(c.Status))
		return nil
	}
	tpl, err := d.store.GetTemplate(ctx, c.TemplateID)
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}

	after := ""
	for {
		page, err := d.store.PendingRecipients(ctx, c.ID, after, d.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("load pending recipients: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, r := range page {
			after = r.ID
			active, err := d.waitTurn(ctx, lock, c.ID, res)
			if err != nil {
				return err
			}
			if !active {
				res.Paused = true
				d.log.Info("campaign paused mid-run", "campaign_id", c.ID, "sent", res.Sent)
				return nil
			}
			if err := d.extend(ctx, lock); err != nil {
				return err
			}
			if err := d.sendOne(ctx, tpl, c, r, res); err != nil {
				return err
			}
		}
	}

	pending, err := d.store.CountTargets(ctx, c.ID, domain.TargetPending)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}
	if pending > 0 {
		// bounced targets stay pending for the next run
		return nil
	}
	err = d.store.TransitionCampaign(ctx, c.ID, []domain.CampaignStatus{domain.CampaignActive}, domain.CampaignCompleted, d.now())
	switch {
	case err == nil:
		res.Completed = true
	case errors.Is(err, domain.ErrInvalidTransition):
		// paused or completed by an operator after the last send
	default:
		return fmt.Errorf("complete campaign: %w", err)
	}
	return nil
}

func (d *Dispatcher) extend(ctx context.Context, lock distlock.DistLock) error {
	if err := lock.Extend(ctx, d.cfg.LockTTL); err != nil {
		return fmt.Errorf("extend campaign lock: %w", err)
	}
	return nil
}

// holdWhileSleeping sleeps for dur in slices of at most a third of the lock
// TTL, renewing the lease after each one.
func (d *Dispatcher) holdWhileSleeping(ctx context.Context, lock distlock.DistLock, dur time.Duration) error {
	slice := d.cfg.LockTTL / 3
	if slice <= 0 {
		slice = dur
	}
	for dur > 0 {
		step := min(dur, slice)
		if err := d.sleep(ctx, step); err != nil {
			return err
		}
		dur -= step
		if err := d.extend(ctx, lock); err != nil {
			return err
		}
	}
	return nil
}

// waitTurn blocks until the campaign may send one more message. It reports
// false when the campaign stopped being active.
func (d *Dispatcher) waitTurn(ctx context.Context, lock distlock.DistLock, campaignID string, res *domain.DispatchResult) (bool, error) {
	for {
		c, err := d.store.GetCampaign(ctx, campaignID)
		if err != nil {
			return false, fmt.Errorf("reload campaign: %w", err)
		}
		if c.Status != domain.CampaignActive {
			return false, nil
		}
		if d.budget == nil || d.cfg.HourlyBudget <= 0 {
			return true, nil
		}
		dec, err := d.budget.Allow(ctx, hourlyBudgetKey, d.cfg.HourlyBudget, time.Hour)
		if err != nil {
			return false, fmt.Errorf("hourly budget: %w", err)
		}
		if dec.Allowed {
			return true, nil
		}

		wait := dec.RetryAfter
		if wait <= 0 {
			wait = time.Second
		}
		res.Waits++
		telemetry.RateLimitWaits.Inc()
		d.log.Info("hourly budget spent, waiting", "campaign_id", campaignID,
			"limit", dec.Limit, "retry_after", wait.String())
		if err := d.holdWhileSleeping(ctx, lock, wait); err != nil {
			return false, err
		}
	}
}

func (d *Dispatcher) sendOne(ctx context.Context, tpl *domain.Template, c *domain.Campaign, r domain.Recipient, res *domain.DispatchResult) error {
	msg := template.Compose(tpl, r, c, d.cfg.Sender, d.cfg.BaseURL)
	sendErr := d.mailer.Send(ctx, msg.To, msg.Subject, msg.HTML)
	if sendErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res.Failed++
		telemetry.DispatchSends.WithLabelValues("bounced").Inc()
		d.log.Warn("send failed", "campaign_id", c.ID, "to", msg.To, "error", sendErr)
		if err := d.recorder.RecordBounce(ctx, r.ID, sendErr.Error()); err != nil {
			return err
		}
		return nil
	}

	recorded, err := d.recorder.RecordSend(ctx, r.ID, map[string]any{"subject": msg.Subject})
	if err != nil {
		// the message left; the row stays pending and may be sent again
		d.log.Error("sent but not recorded", "campaign_id", c.ID, "campaign_target_id", r.ID, "error", err)
		return err
	}
	if !recorded {
		res.Skipped++
		telemetry.DispatchSends.WithLabelValues("skipped").Inc()
		return nil
	}
	res.Sent++
	telemetry.DispatchSends.WithLabelValues("sent").Inc()
	return nil
}
