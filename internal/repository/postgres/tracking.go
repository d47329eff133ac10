package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/service/tracking"
)

const campaignTargetColumns = `id, campaign_id, target_id, unique_token, status, created_at, sent_at`

func scanCampaignTarget(row scanner) (*domain.CampaignTarget, error) {
	var ct domain.CampaignTarget
	var sentAt sql.NullTime
	if err := row.Scan(&ct.ID, &ct.CampaignID, &ct.TargetID, &ct.Token, &ct.Status, &ct.CreatedAt, &sentAt); err != nil {
		return nil, err
	}
	ct.SentAt = nullTime(sentAt)
	return &ct, nil
}

// ResolveToken looks a token up through its unique index.
func (s *Store) ResolveToken(ctx context.Context, tok string) (*domain.CampaignTarget, error) {
	ct, err := scanCampaignTarget(s.db.QueryRowContext(ctx,
		`SELECT `+campaignTargetColumns+` FROM campaign_targets WHERE unique_token = $1`, tok))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	return ct, nil
}

// WithTargetLock opens a transaction, locks the campaign_targets row with
// SELECT ... FOR UPDATE and hands fn a tx-scoped view. Concurrent callers
// for the same row block on the lock until the first commits, so their
// existence checks see its insert.
func (s *Store) WithTargetLock(ctx context.Context, id string, fn func(tx tracking.TargetTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	ct, err := scanCampaignTarget(tx.QueryRowContext(ctx,
		`SELECT `+campaignTargetColumns+` FROM campaign_targets WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock campaign target: %w", err)
	}

	if err := fn(&pgTargetTx{tx: tx, row: *ct}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTargetTx struct {
	tx  *sql.Tx
	row domain.CampaignTarget
}

func (t *pgTargetTx) Target() domain.CampaignTarget { return t.row }

func (t *pgTargetTx) HasEvent(ctx context.Context, typ domain.EventType) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM email_events WHERE campaign_target_id = $1 AND event_type = $2)`,
		t.row.ID, typ).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check event: %w", err)
	}
	return exists, nil
}

func (t *pgTargetTx) EventTypes(ctx context.Context) (domain.EventSet, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT DISTINCT event_type FROM email_events WHERE campaign_target_id = $1`, t.row.ID)
	if err != nil {
		return nil, fmt.Errorf("event types: %w", err)
	}
	defer rows.Close()
	set := domain.NewEventSet()
	for rows.Next() {
		var typ domain.EventType
		if err := rows.Scan(&typ); err != nil {
			return nil, err
		}
		set[typ] = true
	}
	return set, rows.Err()
}

func (t *pgTargetTx) Append(ctx context.Context, ev *domain.EmailEvent) error {
	meta, err := marshalMetadata(ev.Metadata)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO email_events
			(id, campaign_target_id, event_type, occurred_at, ip_address, user_agent, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.CampaignTargetID, ev.EventType, ev.Timestamp, ev.IPAddress, ev.UserAgent, meta)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (t *pgTargetTx) SetStatus(ctx context.Context, st domain.TargetStatus) error {
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE campaign_targets SET status = $2 WHERE id = $1`, t.row.ID, st); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

func (t *pgTargetTx) SetSentAt(ctx context.Context, at time.Time) error {
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE campaign_targets SET sent_at = $2 WHERE id = $1 AND sent_at IS NULL`, t.row.ID, at); err != nil {
		return fmt.Errorf("set sent_at: %w", err)
	}
	return nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

// LoadEnrollment joins the campaign, its template and the target.
func (s *Store) LoadEnrollment(ctx context.Context, ct *domain.CampaignTarget) (*tracking.Enrollment, error) {
	c, err := s.GetCampaign(ctx, ct.CampaignID)
	if err != nil {
		return nil, err
	}
	e := &tracking.Enrollment{Campaign: c}
	if tpl, err := s.GetTemplate(ctx, c.TemplateID); err == nil {
		e.Template = tpl
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if tgt, err := s.GetTarget(ctx, ct.TargetID); err == nil {
		e.Target = tgt
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return e, nil
}

const eventColumns = `id, campaign_target_id, event_type, occurred_at, ip_address, user_agent, metadata`

func scanEvent(row scanner) (domain.EmailEvent, error) {
	var ev domain.EmailEvent
	var meta []byte
	if err := row.Scan(&ev.ID, &ev.CampaignTargetID, &ev.EventType, &ev.Timestamp, &ev.IPAddress, &ev.UserAgent, &meta); err != nil {
		return ev, err
	}
	ev.Timestamp = ev.Timestamp.UTC()
	if len(meta) > 0 && string(meta) != "{}" {
		if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
			return ev, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return ev, nil
}

// EventsFor returns one enrollment's events, oldest first.
func (s *Store) EventsFor(ctx context.Context, campaignTargetID string) ([]domain.EmailEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM email_events WHERE campaign_target_id = $1 ORDER BY occurred_at, id`,
		campaignTargetID)
	if err != nil {
		return nil, fmt.Errorf("events for: %w", err)
	}
	defer rows.Close()
	var out []domain.EmailEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// PurgeEventsBefore deletes at most limit events older than cutoff.
func (s *Store) PurgeEventsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM email_events WHERE id IN (
			SELECT id FROM email_events WHERE occurred_at < $1 LIMIT $2
		)`, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return res.RowsAffected()
}
