package analytics

import (
	"context"
	"time"

	"github.com/ignite/phishsim/internal/domain"
)

// Repository is the read-only storage contract for metrics.
type Repository interface {
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)

	// FunnelCounts aggregates a campaign's enrollments and events.
	FunnelCounts(ctx context.Context, campaignID string) (Counts, error)

	// Snapshot loads every enrollment (with target) and event of a campaign.
	Snapshot(ctx context.Context, campaignID string) (*Snapshot, error)

	CampaignStatusCounts(ctx context.Context) (map[domain.CampaignStatus]int, error)

	// DailyEventCounts groups events since the given time by UTC day and type.
	DailyEventCounts(ctx context.Context, since time.Time) ([]DayCount, error)

	// ConsentCounts splits campaigns created since the given time by
	// consent_verified.
	ConsentCounts(ctx context.Context, since time.Time) (verified, unverified int, err error)

	// CountEventsBefore counts events older than cutoff.
	CountEventsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Snapshot is the raw material for the group-by reductions.
type Snapshot struct {
	Recipients []domain.Recipient
	Events     []domain.EmailEvent // ordered by timestamp ascending
}

// DayCount is one (day, event type) aggregate.
type DayCount struct {
	Day       string           `json:"day"` // YYYY-MM-DD
	EventType domain.EventType `json:"event_type"`
	Count     int              `json:"count"`
}
