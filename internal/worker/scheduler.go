package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/pkg/distlock"
	"github.com/ignite/phishsim/internal/pkg/logger"
	"github.com/ignite/phishsim/internal/service/campaign"
)

// DefaultSchedulerPollInterval is how often draft campaigns are checked for
// an arrived scheduled_at.
const DefaultSchedulerPollInterval = 30 * time.Second

const schedulerLockKey = "scheduler:launch"

// Launcher is the slice of the campaign service the scheduler drives.
type Launcher interface {
	List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error)
	Launch(ctx context.Context, id string) (*domain.Campaign, error)
}

// CampaignScheduler launches draft campaigns once their scheduled_at has
// passed. Only one instance polls at a time across processes.
type CampaignScheduler struct {
	launcher Launcher
	locks    distlock.Factory
	interval time.Duration
	now      func() time.Time
	log      *logger.Logger

	mu      sync.Mutex
	blocked map[string]string // campaign id -> last precondition reported
}

// NewCampaignScheduler creates a scheduler.
func NewCampaignScheduler(launcher Launcher, locks distlock.Factory, interval time.Duration) *CampaignScheduler {
	if interval <= 0 {
		interval = DefaultSchedulerPollInterval
	}
	return &CampaignScheduler{
		launcher: launcher,
		locks:    locks,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.With("worker", "campaign_scheduler"),
		blocked:  make(map[string]string),
	}
}

// WithClock overrides the time source (tests).
func (s *CampaignScheduler) WithClock(now func() time.Time) *CampaignScheduler {
	s.now = now
	return s
}

// Start polls until ctx is cancelled.
func (s *CampaignScheduler) Start(ctx context.Context) error {
	s.log.Info("starting", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick launches every due campaign and returns how many were launched.
func (s *CampaignScheduler) Tick(ctx context.Context) int {
	lock := s.locks(schedulerLockKey)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		s.log.Warn("acquire scheduler lock", "error", err)
		return 0
	}
	if !ok {
		return 0
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			s.log.Warn("release scheduler lock", "error", err)
		}
	}()

	due, err := s.due(ctx)
	if err != nil {
		s.log.Error("list scheduled campaigns", "error", err)
		return 0
	}
	launched := 0
	for _, c := range due {
		if s.launch(ctx, c) {
			launched++
		}
	}
	return launched
}

func (s *CampaignScheduler) due(ctx context.Context) ([]domain.Campaign, error) {
	const page = 200
	now := s.now()
	var out []domain.Campaign
	for offset := 0; ; offset += page {
		list, total, err := s.launcher.List(ctx, campaign.ListFilter{Status: string(domain.CampaignDraft), Limit: page, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, c := range list {
			if c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
				out = append(out, c)
			}
		}
		if len(list) < page || offset+page >= total {
			return out, nil
		}
	}
}

// launch reports a failed precondition once per distinct reason so an
// unlaunchable campaign does not flood the log every poll.
func (s *CampaignScheduler) launch(ctx context.Context, c domain.Campaign) bool {
	_, err := s.launcher.Launch(ctx, c.ID)
	if err == nil {
		s.mu.Lock()
		delete(s.blocked, c.ID)
		s.mu.Unlock()
		s.log.Info("scheduled campaign launched", "campaign_id", c.ID, "scheduled_at", c.ScheduledAt.Format(time.RFC3339))
		return true
	}

	reason := err.Error()
	if pe, ok := domain.IsPrecondition(err); ok {
		reason = pe.Condition
	}
	s.mu.Lock()
	repeated := s.blocked[c.ID] == reason
	s.blocked[c.ID] = reason
	s.mu.Unlock()
	if repeated {
		return false
	}
	if _, ok := domain.IsPrecondition(err); ok || errors.Is(err, domain.ErrNotFound) {
		s.log.Warn("scheduled campaign not launchable", "campaign_id", c.ID, "reason", reason)
	} else {
		s.log.Error("scheduled launch failed", "campaign_id", c.ID, "error", err)
	}
	return false
}
