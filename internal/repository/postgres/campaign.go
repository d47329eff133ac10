package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/service/campaign"
)

// ---- templates ----

const templateColumns = `id, name, description, subject, html_content, is_active, created_at, updated_at`

func scanTemplate(row scanner) (*domain.Template, error) {
	var t domain.Template
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Subject, &t.HTMLContent, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateTemplate(ctx context.Context, t *domain.Template) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (id, name, description, subject, html_content, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.Name, t.Description, t.Subject, t.HTMLContent, t.IsActive, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (s *Store) UpdateTemplate(ctx context.Context, t *domain.Template) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE templates SET name = $2, description = $3, subject = $4, html_content = $5,
		       is_active = $6, updated_at = $7
		WHERE id = $1`,
		t.ID, t.Name, t.Description, t.Subject, t.HTMLContent, t.IsActive, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	return expectOne(res)
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	t, err := scanTemplate(s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context, activeOnly bool) ([]domain.Template, error) {
	q := `SELECT ` + templateColumns + ` FROM templates`
	if activeOnly {
		q += ` WHERE is_active`
	}
	q += ` ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	var out []domain.Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// ---- campaigns ----

const campaignColumns = `id, name, description, template_id, status, consent_verified,
	created_at, scheduled_at, started_at, completed_at`

func scanCampaign(row scanner) (*domain.Campaign, error) {
	var c domain.Campaign
	var scheduled, started, completed sql.NullTime
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.TemplateID, &c.Status, &c.ConsentVerified,
		&c.CreatedAt, &scheduled, &started, &completed); err != nil {
		return nil, err
	}
	c.ScheduledAt = nullTime(scheduled)
	c.StartedAt = nullTime(started)
	c.CompletedAt = nullTime(completed)
	return &c, nil
}

func (s *Store) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, description, template_id, status, consent_verified, created_at, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Name, c.Description, c.TemplateID, c.Status, c.ConsentVerified, c.CreatedAt, c.ScheduledAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (s *Store) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (s *Store) ListCampaigns(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := ""
	args := []interface{}{}
	if f.Status != "" {
		where = " WHERE status = $1"
		args = append(args, f.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `SELECT ` + campaignColumns + ` FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (s *Store) SetConsent(ctx context.Context, id string, verified bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE campaigns SET consent_verified = $2 WHERE id = $1`, id, verified)
	if err != nil {
		return fmt.Errorf("set consent: %w", err)
	}
	return expectOne(res)
}

// TransitionCampaign is a compare-and-set on status. When no row matches it
// distinguishes a missing campaign from a disallowed move.
func (s *Store) TransitionCampaign(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, at time.Time) error {
	fromStr := make([]string, len(from))
	for i, f := range from {
		fromStr[i] = string(f)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET
			status = $2,
			started_at = CASE WHEN $2 = 'active' AND started_at IS NULL THEN $4 ELSE started_at END,
			completed_at = CASE WHEN $2 = 'completed' THEN $4 ELSE completed_at END
		WHERE id = $1 AND status = ANY($3)`,
		id, string(to), pq.Array(fromStr), at)
	if err != nil {
		return fmt.Errorf("transition campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetCampaign(ctx, id); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

// DeleteCampaign cascades to campaign_targets and email_events through the
// foreign keys.
func (s *Store) DeleteCampaign(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1 AND status <> 'active'`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetCampaign(ctx, id); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

// ---- targets ----

const targetColumns = `id, email, first_name, last_name, department, created_at`

func (s *Store) GetTarget(ctx context.Context, id string) (*domain.Target, error) {
	var t domain.Target
	err := s.db.QueryRowContext(ctx, `SELECT `+targetColumns+` FROM targets WHERE id = $1`, id).
		Scan(&t.ID, &t.Email, &t.FirstName, &t.LastName, &t.Department, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	return &t, nil
}

// UpsertTargets inserts unknown emails and reads every row back. Existing
// identities are left as they are.
func (s *Store) UpsertTargets(ctx context.Context, targets []domain.Target) ([]domain.Target, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	out := make([]domain.Target, 0, len(targets))
	for _, t := range targets {
		var got domain.Target
		err := tx.QueryRowContext(ctx, `
			WITH ins AS (
				INSERT INTO targets (id, email, first_name, last_name, department, created_at)
				VALUES ($1, LOWER($2), $3, $4, $5, $6)
				ON CONFLICT (email) DO NOTHING
				RETURNING `+targetColumns+`
			)
			SELECT `+targetColumns+` FROM ins
			UNION ALL
			SELECT `+targetColumns+` FROM targets WHERE email = LOWER($2)
			LIMIT 1`,
			t.ID, t.Email, t.FirstName, t.LastName, t.Department, t.CreatedAt,
		).Scan(&got.ID, &got.Email, &got.FirstName, &got.LastName, &got.Department, &got.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("upsert target %s: %w", t.Email, err)
		}
		out = append(out, got)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func (s *Store) AttachTargets(ctx context.Context, cts []domain.CampaignTarget) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	n := 0
	for _, ct := range cts {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO campaign_targets (id, campaign_id, target_id, unique_token, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (campaign_id, target_id) DO NOTHING`,
			ct.ID, ct.CampaignID, ct.TargetID, ct.Token, ct.Status, ct.CreatedAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23503" {
				return 0, domain.ErrNotFound
			}
			return 0, fmt.Errorf("attach target: %w", err)
		}
		if k, _ := res.RowsAffected(); k == 1 {
			n++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

const recipientSelect = `
	SELECT ct.id, ct.campaign_id, ct.target_id, ct.unique_token, ct.status, ct.created_at, ct.sent_at,
	       t.id, t.email, t.first_name, t.last_name, t.department, t.created_at
	FROM campaign_targets ct
	JOIN targets t ON t.id = ct.target_id`

func scanRecipients(rows *sql.Rows) ([]domain.Recipient, error) {
	defer rows.Close()
	var out []domain.Recipient
	for rows.Next() {
		var r domain.Recipient
		var sentAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.TargetID, &r.Token, &r.Status, &r.CreatedAt, &sentAt,
			&r.Target.ID, &r.Target.Email, &r.Target.FirstName, &r.Target.LastName, &r.Target.Department, &r.Target.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		r.SentAt = nullTime(sentAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListRecipients(ctx context.Context, campaignID string) ([]domain.Recipient, error) {
	rows, err := s.db.QueryContext(ctx, recipientSelect+` WHERE ct.campaign_id = $1 ORDER BY ct.id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return scanRecipients(rows)
}

// PendingRecipients pages through pending enrollments by id (keyset).
func (s *Store) PendingRecipients(ctx context.Context, campaignID, afterID string, limit int) ([]domain.Recipient, error) {
	q := recipientSelect + ` WHERE ct.campaign_id = $1 AND ct.status = 'pending'`
	args := []interface{}{campaignID}
	if afterID != "" {
		q += ` AND ct.id > $2`
		args = append(args, afterID)
	}
	q += fmt.Sprintf(` ORDER BY ct.id LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("pending recipients: %w", err)
	}
	return scanRecipients(rows)
}

func (s *Store) CountTargets(ctx context.Context, campaignID string, status domain.TargetStatus) (int, error) {
	q := `SELECT COUNT(*) FROM campaign_targets WHERE campaign_id = $1`
	args := []interface{}{campaignID}
	if status != "" {
		q += ` AND status = $2`
		args = append(args, string(status))
	}
	var n int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count targets: %w", err)
	}
	return n, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
