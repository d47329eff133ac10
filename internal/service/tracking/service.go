package tracking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/pkg/logger"
	"github.com/ignite/phishsim/internal/pkg/telemetry"
	"github.com/ignite/phishsim/internal/pkg/token"
	"github.com/ignite/phishsim/internal/ratelimit"
	"github.com/ignite/phishsim/internal/template"
)

// Trigger is one of the public tracking entry points.
type Trigger string

const (
	TriggerOpen   Trigger = "open"
	TriggerClick  Trigger = "click"
	TriggerSubmit Trigger = "submit"
)

// EventType maps a trigger to the event it records.
func (t Trigger) EventType() domain.EventType {
	switch t {
	case TriggerOpen:
		return domain.EventOpened
	case TriggerClick:
		return domain.EventClicked
	case TriggerSubmit:
		return domain.EventSubmitted
	}
	return ""
}

// Request carries the client attributes of one trigger.
type Request struct {
	Token     string
	IP        string
	UserAgent string
	Referer   string
}

// Result is the outcome of a trigger.
type Result struct {
	Target   domain.CampaignTarget
	Recorded bool // false when an event of this type already existed
}

// ClickResult adds what the landing page renders.
type ClickResult struct {
	Result
	Enrollment *Enrollment
	Indicators []template.Indicator
}

// Service implements the tracking state machine. All methods are safe for
// concurrent use.
type Service struct {
	repo    Repository
	limiter *ratelimit.Limiter
	now     func() time.Time
	log     *logger.Logger
}

// NewService creates a tracking service. limiter may be nil to disable
// per-client budgets.
func NewService(repo Repository, limiter *ratelimit.Limiter) *Service {
	return &Service{
		repo:    repo,
		limiter: limiter,
		now:     func() time.Time { return time.Now().UTC() },
		log:     logger.With("component", "tracking"),
	}
}

// WithClock overrides the event timestamp source (tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Open records a pixel load.
func (s *Service) Open(ctx context.Context, req Request) (*Result, error) {
	return s.trigger(ctx, TriggerOpen, req, map[string]any{"referer": req.Referer})
}

// Click records a link click and returns the landing page content. The
// indicators are derived from the campaign template and have no effect on
// state.
func (s *Service) Click(ctx context.Context, req Request) (*ClickResult, error) {
	res, err := s.trigger(ctx, TriggerClick, req, map[string]any{"referer": req.Referer})
	if err != nil {
		return nil, err
	}

	out := &ClickResult{Result: *res}
	enr, err := s.repo.LoadEnrollment(ctx, &res.Target)
	if err != nil {
		// the click is already committed; the page falls back to generic content
		s.log.Warn("load enrollment failed", "campaign_target_id", res.Target.ID, "error", err)
		out.Indicators = template.Indicators("", "")
		return out, nil
	}
	out.Enrollment = enr
	if enr.Template != nil {
		out.Indicators = template.Indicators(enr.Template.Subject, enr.Template.HTMLContent)
	} else {
		out.Indicators = template.Indicators("", "")
	}
	return out, nil
}

// Submit records a credential-form submission. The submitted values are
// never passed in: only the fact that data arrived and a non-reversible
// user agent hash are stored.
func (s *Service) Submit(ctx context.Context, req Request) (*Result, error) {
	return s.trigger(ctx, TriggerSubmit, req, map[string]any{
		"form_data_received": true,
		"user_agent_hash":    HashUserAgent(req.UserAgent),
	})
}

// History returns the event log of one CampaignTarget.
func (s *Service) History(ctx context.Context, campaignTargetID string) ([]domain.EmailEvent, error) {
	return s.repo.EventsFor(ctx, campaignTargetID)
}

func (s *Service) trigger(ctx context.Context, trig Trigger, req Request, meta map[string]any) (*Result, error) {
	// malformed tokens are indistinguishable from unknown ones
	if !token.WellFormed(req.Token) {
		telemetry.TrackingTriggers.WithLabelValues(string(trig), "not_found").Inc()
		return nil, domain.ErrNotFound
	}
	ct, err := s.repo.ResolveToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			telemetry.TrackingTriggers.WithLabelValues(string(trig), "not_found").Inc()
			return nil, domain.ErrNotFound
		}
		telemetry.TrackingTriggers.WithLabelValues(string(trig), "error").Inc()
		return nil, fmt.Errorf("resolve token: %w", err)
	}

	if err := s.checkBudget(ctx, trig, req.IP); err != nil {
		telemetry.TrackingTriggers.WithLabelValues(string(trig), "rate_limited").Inc()
		return nil, err
	}

	meta["timestamp"] = s.now().Format(time.RFC3339)
	ev := &domain.EmailEvent{
		CampaignTargetID: ct.ID,
		EventType:        trig.EventType(),
		IPAddress:        req.IP,
		UserAgent:        req.UserAgent,
		Metadata:         meta,
	}
	res, err := s.record(ctx, ct.ID, ev)
	if err != nil {
		telemetry.TrackingTriggers.WithLabelValues(string(trig), "error").Inc()
		s.log.Error("record engagement failed", "trigger", string(trig), "campaign_target_id", ct.ID, "error", err)
		return nil, err
	}

	outcome := "recorded"
	if !res.Recorded {
		outcome = "duplicate"
	}
	telemetry.TrackingTriggers.WithLabelValues(string(trig), outcome).Inc()
	s.log.Debug("tracking trigger", "trigger", string(trig), "campaign_target_id", ct.ID,
		"outcome", outcome, "status", string(res.Target.Status))
	return res, nil
}

// checkBudget fails open: an unavailable counter store never blocks
// engagement recording.
func (s *Service) checkBudget(ctx context.Context, trig Trigger, ip string) error {
	if s.limiter == nil {
		return nil
	}
	d, err := s.limiter.Check(ctx, string(trig), ip)
	if err != nil {
		s.log.Warn("rate limiter unavailable", "trigger", string(trig), "error", err)
		return nil
	}
	if !d.Allowed {
		return &RateLimitError{Trigger: trig, RetryAfter: d.RetryAfter}
	}
	return nil
}

// record appends ev unless an event of its type already exists, then moves
// the status forward. The check, the insert and the status write happen
// under one row lock, so concurrent duplicates collapse to a single event.
func (s *Service) record(ctx context.Context, campaignTargetID string, ev *domain.EmailEvent) (*Result, error) {
	var res Result
	err := s.repo.WithTargetLock(ctx, campaignTargetID, func(tx TargetTx) error {
		cur := tx.Target()
		res.Target = cur

		seen, err := tx.HasEvent(ctx, ev.EventType)
		if err != nil {
			return err
		}
		if seen {
			return nil
		}

		ev.ID = uuid.New().String()
		ev.Timestamp = s.now()
		if err := tx.Append(ctx, ev); err != nil {
			return err
		}
		res.Recorded = true

		set, err := tx.EventTypes(ctx)
		if err != nil {
			return err
		}
		next := domain.Advance(cur.Status, domain.DeriveStatus(set))
		if next != cur.Status {
			if err := tx.SetStatus(ctx, next); err != nil {
				return err
			}
			res.Target.Status = next
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// RecordSend appends the sent event for a pending CampaignTarget and stamps
// sent_at. It reports false, without writing, when the target is no longer
// pending (another run already sent it).
func (s *Service) RecordSend(ctx context.Context, campaignTargetID string, meta map[string]any) (bool, error) {
	var sent bool
	err := s.repo.WithTargetLock(ctx, campaignTargetID, func(tx TargetTx) error {
		cur := tx.Target()
		if cur.Status != domain.TargetPending {
			return nil
		}
		now := s.now()
		if err := tx.Append(ctx, &domain.EmailEvent{
			ID:               uuid.New().String(),
			CampaignTargetID: campaignTargetID,
			EventType:        domain.EventSent,
			Timestamp:        now,
			Metadata:         meta,
		}); err != nil {
			return err
		}
		set, err := tx.EventTypes(ctx)
		if err != nil {
			return err
		}
		if next := domain.Advance(cur.Status, domain.DeriveStatus(set)); next != cur.Status {
			if err := tx.SetStatus(ctx, next); err != nil {
				return err
			}
		}
		if cur.SentAt == nil {
			if err := tx.SetSentAt(ctx, now); err != nil {
				return err
			}
		}
		sent = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("record send: %w", err)
	}
	return sent, nil
}

// RecordBounce notes a failed send. Status is untouched so the target stays
// pending and retryable. A target keeps at most one bounced event; later
// failures are only logged.
func (s *Service) RecordBounce(ctx context.Context, campaignTargetID, reason string) error {
	_, err := s.record(ctx, campaignTargetID, &domain.EmailEvent{
		CampaignTargetID: campaignTargetID,
		EventType:        domain.EventBounced,
		Metadata:         map[string]any{"error": reason},
	})
	if err != nil {
		return fmt.Errorf("record bounce: %w", err)
	}
	return nil
}

// HashUserAgent returns a short non-reversible digest used to correlate
// submissions without keeping anything the recipient typed.
func HashUserAgent(ua string) string {
	sum := sha256.Sum256([]byte(ua))
	return hex.EncodeToString(sum[:])[:16]
}
