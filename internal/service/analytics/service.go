package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/phishsim/internal/domain"
)

// Service answers metric queries.
type Service struct {
	repo          Repository
	now           func() time.Time
	retentionDays int
}

// NewService creates an analytics service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithRetention sets the event retention the compliance summary checks
// against. Zero leaves the summary out of the overview.
func (s *Service) WithRetention(days int) *Service {
	s.retentionDays = days
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CampaignMetrics is the funnel of one campaign.
type CampaignMetrics struct {
	Campaign *domain.Campaign `json:"campaign"`
	Metrics
}

// Campaign computes the funnel for a campaign.
func (s *Service) Campaign(ctx context.Context, id string) (*CampaignMetrics, error) {
	c, err := s.repo.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.FunnelCounts(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("funnel counts: %w", err)
	}
	return &CampaignMetrics{Campaign: c, Metrics: Funnel(counts)}, nil
}

func (s *Service) snapshot(ctx context.Context, id string) (*Snapshot, error) {
	if _, err := s.repo.GetCampaign(ctx, id); err != nil {
		return nil, err
	}
	snap, err := s.repo.Snapshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

// Departments returns the per-department breakdown of a campaign.
func (s *Service) Departments(ctx context.Context, id string) ([]DepartmentStats, error) {
	snap, err := s.snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	return Departments(snap), nil
}

// Timeline returns hourly buckets for a campaign. A zero from means the
// start of the current UTC day; hours defaults to 24.
func (s *Service) Timeline(ctx context.Context, id string, from time.Time, hours int) ([]TimelineBucket, error) {
	snap, err := s.snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	if from.IsZero() {
		from = s.now().UTC().Truncate(24 * time.Hour)
	}
	if hours <= 0 {
		hours = 24
	}
	if hours > 24*31 {
		hours = 24 * 31
	}
	return Timeline(snap, from, hours), nil
}

// Engagement returns send-to-open and send-to-click timings.
func (s *Service) Engagement(ctx context.Context, id string) (EngagementTiming, error) {
	snap, err := s.snapshot(ctx, id)
	if err != nil {
		return EngagementTiming{}, err
	}
	return TimeToEngagement(snap), nil
}

// Recipients returns the per-target report rows.
func (s *Service) Recipients(ctx context.Context, id string) ([]RecipientRow, error) {
	snap, err := s.snapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	return Rows(snap), nil
}

// Overview is the platform-wide summary.
type Overview struct {
	TotalCampaigns    int                           `json:"total_campaigns"`
	CampaignsByStatus map[domain.CampaignStatus]int `json:"campaigns_by_status"`
	DailyEvents       []DayCount                    `json:"daily_events"`
	Compliance        *Compliance                   `json:"compliance,omitempty"`
}

// Compliance reports consent verification of recent campaigns and events
// the retention purge has not removed yet.
type Compliance struct {
	ConsentVerified     int `json:"consent_verified"`
	ConsentUnverified   int `json:"consent_unverified"`
	RetentionDays       int `json:"retention_days"`
	EventsPastRetention int `json:"events_past_retention"`
}

// Overview summarises campaigns by status and daily event volume over the
// last 30 days, plus the compliance summary when a retention is set.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	byStatus, err := s.repo.CampaignStatusCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("campaign counts: %w", err)
	}
	since := s.now().UTC().AddDate(0, 0, -30)
	daily, err := s.repo.DailyEventCounts(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("daily events: %w", err)
	}
	o := &Overview{CampaignsByStatus: byStatus, DailyEvents: daily}
	for _, n := range byStatus {
		o.TotalCampaigns += n
	}
	if s.retentionDays > 0 {
		if o.Compliance, err = s.compliance(ctx, since); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (s *Service) compliance(ctx context.Context, since time.Time) (*Compliance, error) {
	verified, unverified, err := s.repo.ConsentCounts(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("consent counts: %w", err)
	}
	old, err := s.repo.CountEventsBefore(ctx, s.now().UTC().AddDate(0, 0, -s.retentionDays))
	if err != nil {
		return nil, fmt.Errorf("events past retention: %w", err)
	}
	return &Compliance{
		ConsentVerified:     verified,
		ConsentUnverified:   unverified,
		RetentionDays:       s.retentionDays,
		EventsPastRetention: old,
	}, nil
}
