package tracking

import (
	"context"
	"time"

	"github.com/ignite/phishsim/internal/domain"
)

// Repository is the storage contract for the state machine.
// Implementations must be safe for concurrent use.
type Repository interface {
	// ResolveToken returns the CampaignTarget holding token, or
	// domain.ErrNotFound.
	ResolveToken(ctx context.Context, token string) (*domain.CampaignTarget, error)

	// WithTargetLock runs fn with exclusive access to one CampaignTarget.
	// Everything fn writes through tx commits together, or not at all when
	// fn returns an error. Concurrent callers for the same id are
	// serialized.
	WithTargetLock(ctx context.Context, campaignTargetID string, fn func(tx TargetTx) error) error

	// LoadEnrollment returns the campaign, template and target behind a
	// CampaignTarget, for the landing page.
	LoadEnrollment(ctx context.Context, ct *domain.CampaignTarget) (*Enrollment, error)

	// EventsFor returns every event of a CampaignTarget, oldest first.
	EventsFor(ctx context.Context, campaignTargetID string) ([]domain.EmailEvent, error)
}

// TargetTx is the unit of work handed to WithTargetLock callbacks.
type TargetTx interface {
	// Target returns the locked row as read at lock time.
	Target() domain.CampaignTarget
	HasEvent(ctx context.Context, t domain.EventType) (bool, error)
	EventTypes(ctx context.Context) (domain.EventSet, error)
	Append(ctx context.Context, ev *domain.EmailEvent) error
	SetStatus(ctx context.Context, s domain.TargetStatus) error
	// SetSentAt stamps sent_at unless it is already set.
	SetSentAt(ctx context.Context, at time.Time) error
}

// Enrollment bundles what the click landing page renders.
type Enrollment struct {
	Campaign *domain.Campaign
	Template *domain.Template
	Target   *domain.Target
}
