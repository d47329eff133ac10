package campaign

import (
	"context"
	"time"

	"github.com/ignite/phishsim/internal/domain"
)

// Repository defines the data access contract for campaigns, targets and
// templates. Implementations must be safe for concurrent use and return
// domain.ErrNotFound for unknown ids.
type Repository interface {
	CreateTemplate(ctx context.Context, t *domain.Template) error
	UpdateTemplate(ctx context.Context, t *domain.Template) error
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
	ListTemplates(ctx context.Context, activeOnly bool) ([]domain.Template, error)

	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error)
	SetConsent(ctx context.Context, id string, verified bool) error

	// TransitionCampaign moves a campaign to status `to` only if its current
	// status is one of from; otherwise it returns domain.ErrInvalidTransition.
	// Moving to active stamps started_at (first time only); moving to
	// completed stamps completed_at.
	TransitionCampaign(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, at time.Time) error

	// DeleteCampaign removes a campaign and cascades to its enrollments and
	// events. Active campaigns are refused with domain.ErrInvalidTransition.
	DeleteCampaign(ctx context.Context, id string) error

	// UpsertTargets inserts targets whose email is unknown and returns every
	// target (existing ones unchanged) in input order.
	UpsertTargets(ctx context.Context, targets []domain.Target) ([]domain.Target, error)

	// AttachTargets inserts enrollments, skipping (campaign, target) pairs
	// that already exist. Returns how many were created.
	AttachTargets(ctx context.Context, cts []domain.CampaignTarget) (int, error)

	ListRecipients(ctx context.Context, campaignID string) ([]domain.Recipient, error)

	// CountTargets counts enrollments of a campaign; an empty status counts all.
	CountTargets(ctx context.Context, campaignID string, status domain.TargetStatus) (int, error)
}

// Enqueuer hands dispatch jobs to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, job domain.DispatchJob) error
}

// ListFilter controls pagination and filtering for campaign lists.
type ListFilter struct {
	Status string
	Limit  int
	Offset int
}
