package memory

import (
	"context"
	"sort"
	"time"

	"github.com/ignite/phishsim/internal/domain"
	"github.com/ignite/phishsim/internal/service/analytics"
)

func (s *Store) Snapshot(_ context.Context, campaignID string) (*analytics.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &analytics.Snapshot{Recipients: s.recipients(campaignID)}
	ids := make(map[string]bool, len(snap.Recipients))
	for _, r := range snap.Recipients {
		ids[r.ID] = true
	}
	for _, ev := range s.events {
		if ids[ev.CampaignTargetID] {
			snap.Events = append(snap.Events, ev)
		}
	}
	sort.SliceStable(snap.Events, func(i, j int) bool { return snap.Events[i].Timestamp.Before(snap.Events[j].Timestamp) })
	return snap, nil
}

func (s *Store) FunnelCounts(ctx context.Context, campaignID string) (analytics.Counts, error) {
	snap, err := s.Snapshot(ctx, campaignID)
	if err != nil {
		return analytics.Counts{}, err
	}
	return analytics.CountsFromSnapshot(snap), nil
}

func (s *Store) CampaignStatusCounts(context.Context) (map[domain.CampaignStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.CampaignStatus]int)
	for _, c := range s.campaigns {
		out[c.Status]++
	}
	return out, nil
}

func (s *Store) ConsentCounts(_ context.Context, since time.Time) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var verified, unverified int
	for _, c := range s.campaigns {
		if c.CreatedAt.Before(since) {
			continue
		}
		if c.ConsentVerified {
			verified++
		} else {
			unverified++
		}
	}
	return verified, unverified, nil
}

func (s *Store) CountEventsBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.Timestamp.Before(cutoff) {
			n++
		}
	}
	return n, nil
}

func (s *Store) DailyEventCounts(_ context.Context, since time.Time) ([]analytics.DayCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type key struct {
		day string
		typ domain.EventType
	}
	counts := make(map[key]int)
	for _, ev := range s.events {
		if ev.Timestamp.Before(since) {
			continue
		}
		counts[key{ev.Timestamp.UTC().Format("2006-01-02"), ev.EventType}]++
	}
	out := make([]analytics.DayCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, analytics.DayCount{Day: k.day, EventType: k.typ, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].EventType < out[j].EventType
	})
	return out, nil
}
