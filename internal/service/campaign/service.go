package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/pkg/logger"
	"github.com/ignite/phishsim/internal/pkg/token"
	"github.com/ignite/phishsim/internal/template"
)

// Options holds campaign policy.
type Options struct {
	ConsentRequired bool
}

// Service implements campaign business logic. All public methods are safe
// for concurrent use if the underlying repository and queue are.
type Service struct {
	repo  Repository
	queue Enqueuer
	opts  Options
	now   func() time.Time
	log   *logger.Logger
}

// NewService creates a campaign service.
func NewService(repo Repository, queue Enqueuer, opts Options) *Service {
	return &Service{
		repo:  repo,
		queue: queue,
		opts:  opts,
		now:   func() time.Time { return time.Now().UTC() },
		log:   logger.With("component", "campaign"),
	}
}

// ---- templates ----

// TemplateInput holds the editable template fields.
type TemplateInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Subject     string `json:"subject"`
	HTMLContent string `json:"html_content"`
	IsActive    *bool  `json:"is_active"`
}

// CreateTemplate validates the placeholder vocabulary before saving.
func (s *Service) CreateTemplate(ctx context.Context, in TemplateInput) (*domain.Template, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, ErrNameRequired
	}
	if err := template.Validate(in.Subject, in.HTMLContent); err != nil {
		return nil, err
	}
	now := s.now()
	t := &domain.Template{
		ID:          uuid.New().String(),
		Name:        in.Name,
		Description: in.Description,
		Subject:     in.Subject,
		HTMLContent: in.HTMLContent,
		IsActive:    in.IsActive == nil || *in.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	return t, nil
}

// UpdateTemplate revalidates and saves an edited template.
func (s *Service) UpdateTemplate(ctx context.Context, id string, in TemplateInput) (*domain.Template, error) {
	t, err := s.repo.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.Name != "" {
		t.Name = in.Name
	}
	if in.Description != "" {
		t.Description = in.Description
	}
	if in.Subject != "" {
		t.Subject = in.Subject
	}
	if in.HTMLContent != "" {
		t.HTMLContent = in.HTMLContent
	}
	if in.IsActive != nil {
		t.IsActive = *in.IsActive
	}
	if err := template.Validate(t.Subject, t.HTMLContent); err != nil {
		return nil, err
	}
	t.UpdatedAt = s.now()
	if err := s.repo.UpdateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	return t, nil
}

// GetTemplate returns a single template.
func (s *Service) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	return s.repo.GetTemplate(ctx, id)
}

// ListTemplates returns templates, optionally only active ones.
func (s *Service) ListTemplates(ctx context.Context, activeOnly bool) ([]domain.Template, error) {
	return s.repo.ListTemplates(ctx, activeOnly)
}

// ---- campaigns ----

// CreateInput holds the fields for creating a new campaign.
type CreateInput struct {
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	TemplateID      string     `json:"template_id"`
	ConsentVerified bool       `json:"consent_verified"`
	ScheduledAt     *time.Time `json:"scheduled_at"`
}

// Create persists a new campaign in draft status.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Campaign, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, ErrNameRequired
	}
	if in.TemplateID == "" {
		return nil, ErrTemplateRequired
	}
	if _, err := s.repo.GetTemplate(ctx, in.TemplateID); err != nil {
		return nil, fmt.Errorf("template %s: %w", in.TemplateID, err)
	}

	c := &domain.Campaign{
		ID:              uuid.New().String(),
		Name:            in.Name,
		Description:     in.Description,
		TemplateID:      in.TemplateID,
		Status:          domain.CampaignDraft,
		ConsentVerified: in.ConsentVerified,
		CreatedAt:       s.now(),
		ScheduledAt:     in.ScheduledAt,
	}
	if err := s.repo.CreateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	s.log.Info("campaign created", "campaign_id", c.ID, "template_id", c.TemplateID)
	return c, nil
}

// Get returns a single campaign.
func (s *Service) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	return s.repo.GetCampaign(ctx, id)
}

// List returns campaigns matching the filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Campaign, int, error) {
	return s.repo.ListCampaigns(ctx, f)
}

// Recipients returns every enrollment of a campaign with its target.
func (s *Service) Recipients(ctx context.Context, id string) ([]domain.Recipient, error) {
	if _, err := s.repo.GetCampaign(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListRecipients(ctx, id)
}

// VerifyConsent records that consent was obtained for a draft campaign.
func (s *Service) VerifyConsent(ctx context.Context, id string, verified bool) error {
	c, err := s.repo.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignDraft {
		return fmt.Errorf("consent can only change on a draft campaign: %w", domain.ErrInvalidTransition)
	}
	return s.repo.SetConsent(ctx, id, verified)
}

// AttachTargets enrolls targets in a campaign. Targets are matched by email
// (existing identities are reused unchanged) and every new pair gets a
// fresh token. Re-attaching an enrolled target is a no-op. Returns the
// number of new enrollments.
func (s *Service) AttachTargets(ctx context.Context, campaignID string, targets []domain.Target) (int, error) {
	if len(targets) == 0 {
		return 0, ErrNoTargets
	}
	c, err := s.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	switch c.Status {
	case domain.CampaignActive:
		return 0, ErrCampaignActive
	case domain.CampaignCompleted:
		return 0, ErrCampaignClosed
	}

	now := s.now()
	clean := make([]domain.Target, 0, len(targets))
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		t.Email = normalizeEmail(t.Email)
		if !validEmail(t.Email) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidEmail, t.Email)
		}
		if seen[t.Email] {
			continue
		}
		seen[t.Email] = true
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		t.CreatedAt = now
		clean = append(clean, t)
	}

	stored, err := s.repo.UpsertTargets(ctx, clean)
	if err != nil {
		return 0, fmt.Errorf("upsert targets: %w", err)
	}

	cts := make([]domain.CampaignTarget, 0, len(stored))
	for _, t := range stored {
		tok, err := token.Generate()
		if err != nil {
			return 0, err
		}
		cts = append(cts, domain.CampaignTarget{
			ID:         uuid.New().String(),
			CampaignID: campaignID,
			TargetID:   t.ID,
			Token:      tok,
			Status:     domain.TargetPending,
			CreatedAt:  now,
		})
	}
	n, err := s.repo.AttachTargets(ctx, cts)
	if err != nil {
		return 0, fmt.Errorf("attach targets: %w", err)
	}
	s.log.Info("targets attached", "campaign_id", campaignID, "requested", len(targets), "created", n)
	return n, nil
}

// Launch checks the dispatch preconditions, activates the campaign and
// enqueues its dispatch job. It returns as soon as the job is queued. A
// failed precondition is reported as *domain.PreconditionError with no
// side effects.
func (s *Service) Launch(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := s.repo.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignDraft {
		return nil, &domain.PreconditionError{Condition: domain.ConditionNotDraft, Detail: string(c.Status)}
	}
	pending, err := s.repo.CountTargets(ctx, id, domain.TargetPending)
	if err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}
	if pending == 0 {
		return nil, &domain.PreconditionError{Condition: domain.ConditionNoPendingTargets}
	}
	if s.opts.ConsentRequired && !c.ConsentVerified {
		return nil, &domain.PreconditionError{Condition: domain.ConditionConsentNotVerified}
	}

	now := s.now()
	err = s.repo.TransitionCampaign(ctx, id, []domain.CampaignStatus{domain.CampaignDraft}, domain.CampaignActive, now)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// lost a race with a concurrent launch
		return nil, &domain.PreconditionError{Condition: domain.ConditionNotDraft}
	}
	if err != nil {
		return nil, fmt.Errorf("activate campaign: %w", err)
	}

	if err := s.queue.Enqueue(ctx, domain.DispatchJob{CampaignID: id, EnqueuedAt: now, Reason: "launch"}); err != nil {
		if rbErr := s.repo.TransitionCampaign(ctx, id, []domain.CampaignStatus{domain.CampaignActive}, domain.CampaignDraft, now); rbErr != nil {
			s.log.Error("launch rollback failed", "campaign_id", id, "error", rbErr)
		}
		return nil, fmt.Errorf("enqueue dispatch: %w", err)
	}

	s.log.Info("campaign launched", "campaign_id", id, "pending", pending)
	return s.repo.GetCampaign(ctx, id)
}

// Pause stops an active campaign. A running dispatcher notices before its
// next send and leaves the remaining targets pending.
func (s *Service) Pause(ctx context.Context, id string) error {
	return s.transition(ctx, id, domain.CampaignPaused, domain.CampaignActive)
}

// Resume reactivates a paused campaign and enqueues a dispatch run for the
// targets still pending. If the job cannot be queued the campaign goes back
// to paused.
func (s *Service) Resume(ctx context.Context, id string) error {
	if err := s.transition(ctx, id, domain.CampaignActive, domain.CampaignPaused); err != nil {
		return err
	}
	now := s.now()
	if err := s.queue.Enqueue(ctx, domain.DispatchJob{CampaignID: id, EnqueuedAt: now, Reason: "resume"}); err != nil {
		if rbErr := s.repo.TransitionCampaign(ctx, id, []domain.CampaignStatus{domain.CampaignActive}, domain.CampaignPaused, now); rbErr != nil {
			s.log.Error("resume rollback failed", "campaign_id", id, "error", rbErr)
		}
		return fmt.Errorf("enqueue dispatch: %w", err)
	}
	return nil
}

// Complete closes a campaign by hand.
func (s *Service) Complete(ctx context.Context, id string) error {
	return s.transition(ctx, id, domain.CampaignCompleted, domain.CampaignActive, domain.CampaignPaused)
}

// Delete removes a non-active campaign together with its enrollments and
// events.
func (s *Service) Delete(ctx context.Context, id string) error {
	c, err := s.repo.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == domain.CampaignActive {
		return ErrCampaignActive
	}
	if err := s.repo.DeleteCampaign(ctx, id); err != nil {
		return err
	}
	s.log.Info("campaign deleted", "campaign_id", id)
	return nil
}

func (s *Service) transition(ctx context.Context, id string, to domain.CampaignStatus, from ...domain.CampaignStatus) error {
	if _, err := s.repo.GetCampaign(ctx, id); err != nil {
		return err
	}
	if err := s.repo.TransitionCampaign(ctx, id, from, to, s.now()); err != nil {
		return err
	}
	s.log.Info("campaign status changed", "campaign_id", id, "status", string(to))
	return nil
}
