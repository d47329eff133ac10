package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/service/tracking"
)

func (s *Store) ResolveToken(_ context.Context, tok string) (*domain.CampaignTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byToken[tok]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s.cts[id]
	return &cp, nil
}

func (s *Store) targetLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rowLocks == nil {
		s.rowLocks = make(map[string]*sync.Mutex)
	}
	l, ok := s.rowLocks[id]
	if !ok {
		l = &sync.Mutex{}
		s.rowLocks[id] = l
	}
	return l
}

// WithTargetLock serializes callers per CampaignTarget. Writes are
// buffered in the tx and applied only when fn succeeds.
func (s *Store) WithTargetLock(ctx context.Context, id string, fn func(tx tracking.TargetTx) error) error {
	l := s.targetLock(id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	ct, ok := s.cts[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrNotFound
	}
	tx := &memTx{store: s, row: *ct, status: ct.Status}
	s.mu.Unlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.cts[id]
	if !ok {
		// campaign deleted while we held the row
		return domain.ErrNotFound
	}
	s.events = append(s.events, tx.appended...)
	cur.Status = tx.status
	if tx.sentAt != nil && cur.SentAt == nil {
		at := *tx.sentAt
		cur.SentAt = &at
	}
	return nil
}

type memTx struct {
	store    *Store
	row      domain.CampaignTarget
	appended []domain.EmailEvent
	status   domain.TargetStatus
	sentAt   *time.Time
}

func (tx *memTx) Target() domain.CampaignTarget { return tx.row }

func (tx *memTx) EventTypes(context.Context) (domain.EventSet, error) {
	set := domain.NewEventSet()
	tx.store.mu.Lock()
	for _, ev := range tx.store.events {
		if ev.CampaignTargetID == tx.row.ID {
			set[ev.EventType] = true
		}
	}
	tx.store.mu.Unlock()
	for _, ev := range tx.appended {
		set[ev.EventType] = true
	}
	return set, nil
}

func (tx *memTx) HasEvent(ctx context.Context, t domain.EventType) (bool, error) {
	set, err := tx.EventTypes(ctx)
	if err != nil {
		return false, err
	}
	return set.Has(t), nil
}

func (tx *memTx) Append(_ context.Context, ev *domain.EmailEvent) error {
	tx.appended = append(tx.appended, *ev)
	return nil
}

func (tx *memTx) SetStatus(_ context.Context, st domain.TargetStatus) error {
	tx.status = st
	return nil
}

func (tx *memTx) SetSentAt(_ context.Context, at time.Time) error {
	if tx.row.SentAt == nil && tx.sentAt == nil {
		tx.sentAt = &at
	}
	return nil
}

func (s *Store) LoadEnrollment(_ context.Context, ct *domain.CampaignTarget) (*tracking.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[ct.CampaignID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	e := &tracking.Enrollment{Campaign: copyOf(c)}
	if t, ok := s.templates[c.TemplateID]; ok {
		e.Template = copyOf(t)
	}
	if t, ok := s.targets[ct.TargetID]; ok {
		e.Target = copyOf(t)
	}
	return e, nil
}

func copyOf[T any](v *T) *T {
	cp := *v
	return &cp
}

func (s *Store) EventsFor(_ context.Context, campaignTargetID string) ([]domain.EmailEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.EmailEvent
	for _, ev := range s.events {
		if ev.CampaignTargetID == campaignTargetID {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// PurgeEventsBefore deletes up to limit events older than cutoff.
func (s *Store) PurgeEventsBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	kept := s.events[:0]
	for _, ev := range s.events {
		if ev.Timestamp.Before(cutoff) && (limit <= 0 || n < int64(limit)) {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return n, nil
}
