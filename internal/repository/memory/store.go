// Package memory is an in-process implementation of every storage contract.
// It backs single-instance deployments without Postgres and the service
// tests. All methods are safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/service/analytics"
	"github.com/ignite/phishsim/internal/service/campaign"
	"github.com/ignite/phishsim/internal/service/tracking"
)

// Store holds all entities behind one mutex.
type Store struct {
	mu sync.Mutex

	templates map[string]*domain.Template
	campaigns map[string]*domain.Campaign
	targets   map[string]*domain.Target
	byEmail   map[string]string // email -> target id

	cts     map[string]*domain.CampaignTarget
	byToken map[string]string // token -> campaign target id
	byPair  map[string]string // campaign id + "/" + target id -> campaign target id

	events   []domain.EmailEvent // append order
	rowLocks map[string]*sync.Mutex
}

// New creates an empty store.
func New() *Store {
	return &Store{
		templates: make(map[string]*domain.Template),
		campaigns: make(map[string]*domain.Campaign),
		targets:   make(map[string]*domain.Target),
		byEmail:   make(map[string]string),
		cts:       make(map[string]*domain.CampaignTarget),
		byToken:   make(map[string]string),
		byPair:    make(map[string]string),
	}
}

var (
	_ tracking.Repository  = (*Store)(nil)
	_ campaign.Repository  = (*Store)(nil)
	_ analytics.Repository = (*Store)(nil)
)

// ---- templates ----

func (s *Store) CreateTemplate(_ context.Context, t *domain.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.templates[t.ID] = &cp
	return nil
}

func (s *Store) UpdateTemplate(_ context.Context, t *domain.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[t.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *t
	s.templates[t.ID] = &cp
	return nil
}

func (s *Store) GetTemplate(_ context.Context, id string) (*domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) ListTemplates(_ context.Context, activeOnly bool) ([]domain.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Template, 0, len(s.templates))
	for _, t := range s.templates {
		if activeOnly && !t.IsActive {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ---- campaigns ----

func (s *Store) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.campaigns[c.ID] = &cp
	return nil
}

func (s *Store) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) ListCampaigns(_ context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Campaign
	for _, c := range s.campaigns {
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if end > len(out) || f.Limit <= 0 {
		end = len(out)
	}
	return out[f.Offset:end], total, nil
}

func (s *Store) SetConsent(_ context.Context, id string, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	c.ConsentVerified = verified
	return nil
}

func (s *Store) TransitionCampaign(_ context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	allowed := false
	for _, f := range from {
		if c.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.ErrInvalidTransition
	}
	c.Status = to
	switch to {
	case domain.CampaignActive:
		if c.StartedAt == nil {
			t := at
			c.StartedAt = &t
		}
	case domain.CampaignCompleted:
		t := at
		c.CompletedAt = &t
	}
	return nil
}

func (s *Store) DeleteCampaign(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return domain.ErrNotFound
	}
	if c.Status == domain.CampaignActive {
		return domain.ErrInvalidTransition
	}
	removed := make(map[string]bool)
	for ctID, ct := range s.cts {
		if ct.CampaignID != id {
			continue
		}
		removed[ctID] = true
		delete(s.byToken, ct.Token)
		delete(s.byPair, ct.CampaignID+"/"+ct.TargetID)
		delete(s.cts, ctID)
	}
	kept := s.events[:0]
	for _, ev := range s.events {
		if !removed[ev.CampaignTargetID] {
			kept = append(kept, ev)
		}
	}
	s.events = kept
	delete(s.campaigns, id)
	return nil
}

// ---- targets ----

func (s *Store) UpsertTargets(_ context.Context, targets []domain.Target) ([]domain.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Target, 0, len(targets))
	for _, t := range targets {
		email := strings.ToLower(t.Email)
		if id, ok := s.byEmail[email]; ok {
			out = append(out, *s.targets[id])
			continue
		}
		cp := t
		cp.Email = email
		s.targets[cp.ID] = &cp
		s.byEmail[email] = cp.ID
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) AttachTargets(_ context.Context, cts []domain.CampaignTarget) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ct := range cts {
		if _, ok := s.campaigns[ct.CampaignID]; !ok {
			return n, domain.ErrNotFound
		}
		pair := ct.CampaignID + "/" + ct.TargetID
		if _, ok := s.byPair[pair]; ok {
			continue
		}
		cp := ct
		s.cts[cp.ID] = &cp
		s.byToken[cp.Token] = cp.ID
		s.byPair[pair] = cp.ID
		n++
	}
	return n, nil
}

// recipients returns a campaign's enrollments ordered by id. Called with mu held.
func (s *Store) recipients(campaignID string) []domain.Recipient {
	var out []domain.Recipient
	for _, ct := range s.cts {
		if ct.CampaignID != campaignID {
			continue
		}
		r := domain.Recipient{CampaignTarget: *ct}
		if t, ok := s.targets[ct.TargetID]; ok {
			r.Target = *t
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) ListRecipients(_ context.Context, campaignID string) ([]domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recipients(campaignID), nil
}

func (s *Store) CountTargets(_ context.Context, campaignID string, status domain.TargetStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ct := range s.cts {
		if ct.CampaignID == campaignID && (status == "" || ct.Status == status) {
			n++
		}
	}
	return n, nil
}

// PendingRecipients pages through pending enrollments ordered by id,
// starting after afterID.
func (s *Store) PendingRecipients(_ context.Context, campaignID, afterID string, limit int) ([]domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Recipient
	for _, r := range s.recipients(campaignID) {
		if r.Status != domain.TargetPending || r.ID <= afterID {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
