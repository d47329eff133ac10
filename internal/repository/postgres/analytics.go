package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/service/analytics"
)

// FunnelCounts aggregates in one round trip. Sent events are counted as
// rows; every engagement type is counted once per enrollment.
func (s *Store) FunnelCounts(ctx context.Context, campaignID string) (analytics.Counts, error) {
	var c analytics.Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM campaign_targets WHERE campaign_id = $1),
			COUNT(*) FILTER (WHERE e.event_type = 'sent'),
			COUNT(DISTINCT e.campaign_target_id) FILTER (WHERE e.event_type = 'opened'),
			COUNT(DISTINCT e.campaign_target_id) FILTER (WHERE e.event_type = 'clicked'),
			COUNT(DISTINCT e.campaign_target_id) FILTER (WHERE e.event_type = 'submitted'),
			COUNT(DISTINCT e.campaign_target_id) FILTER (WHERE e.event_type = 'bounced')
		FROM email_events e
		JOIN campaign_targets ct ON ct.id = e.campaign_target_id
		WHERE ct.campaign_id = $1`, campaignID,
	).Scan(&c.TotalTargets, &c.EmailsSent, &c.UniqueOpens, &c.UniqueClicks, &c.UniqueSubmits, &c.Bounced)
	if err != nil {
		return c, fmt.Errorf("funnel counts: %w", err)
	}
	return c, nil
}

func (s *Store) Snapshot(ctx context.Context, campaignID string) (*analytics.Snapshot, error) {
	recips, err := s.ListRecipients(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.campaign_target_id, e.event_type, e.occurred_at, e.ip_address, e.user_agent, e.metadata
		FROM email_events e
		JOIN campaign_targets ct ON ct.id = e.campaign_target_id
		WHERE ct.campaign_id = $1
		ORDER BY e.occurred_at, e.id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("snapshot events: %w", err)
	}
	defer rows.Close()

	snap := &analytics.Snapshot{Recipients: recips}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		snap.Events = append(snap.Events, ev)
	}
	return snap, rows.Err()
}

func (s *Store) CampaignStatusCounts(ctx context.Context) (map[domain.CampaignStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM campaigns GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("campaign status counts: %w", err)
	}
	defer rows.Close()
	out := make(map[domain.CampaignStatus]int)
	for rows.Next() {
		var st domain.CampaignStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st] = n
	}
	return out, rows.Err()
}

func (s *Store) ConsentCounts(ctx context.Context, since time.Time) (int, int, error) {
	var verified, unverified int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE consent_verified),
		       COUNT(*) FILTER (WHERE NOT consent_verified)
		FROM campaigns
		WHERE created_at >= $1`, since).Scan(&verified, &unverified)
	if err != nil {
		return 0, 0, fmt.Errorf("consent counts: %w", err)
	}
	return verified, unverified, nil
}

func (s *Store) CountEventsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM email_events WHERE occurred_at < $1`, cutoff).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events before: %w", err)
	}
	return n, nil
}

func (s *Store) DailyEventCounts(ctx context.Context, since time.Time) ([]analytics.DayCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(occurred_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, event_type, COUNT(*)
		FROM email_events
		WHERE occurred_at >= $1
		GROUP BY day, event_type
		ORDER BY day, event_type`, since)
	if err != nil {
		return nil, fmt.Errorf("daily event counts: %w", err)
	}
	defer rows.Close()
	var out []analytics.DayCount
	for rows.Next() {
		var d analytics.DayCount
		if err := rows.Scan(&d.Day, &d.EventType, &d.Count); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
