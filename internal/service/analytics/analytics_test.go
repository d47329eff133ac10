package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/phishsim/internal/domain"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func recipient(i int, dept string) domain.Recipient {
	return domain.Recipient{
		CampaignTarget: domain.CampaignTarget{ID: fmt.Sprintf("ct-%d", i), CampaignID: "c1"},
		Target:         domain.Target{ID: fmt.Sprintf("t-%d", i), Email: fmt.Sprintf("u%d@example.com", i), Department: dept},
	}
}

func event(ct int, typ domain.EventType, at time.Time) domain.EmailEvent {
	return domain.EmailEvent{CampaignTargetID: fmt.Sprintf("ct-%d", ct), EventType: typ, Timestamp: at}
}

// funnelSnapshot: 10 targets all sent, 6 opened, 3 clicked, 1 submitted.
func funnelSnapshot() *Snapshot {
	s := &Snapshot{}
	for i := 0; i < 10; i++ {
		dept := "Finance"
		if i%2 == 1 {
			dept = "Sales"
		}
		s.Recipients = append(s.Recipients, recipient(i, dept))
		s.Events = append(s.Events, event(i, domain.EventSent, t0))
	}
	for i := 0; i < 6; i++ {
		s.Events = append(s.Events, event(i, domain.EventOpened, t0.Add(time.Duration(10*(i+1))*time.Minute)))
	}
	for i := 0; i < 3; i++ {
		s.Events = append(s.Events, event(i, domain.EventClicked, t0.Add(2*time.Hour)))
	}
	s.Events = append(s.Events, event(0, domain.EventSubmitted, t0.Add(3*time.Hour)))
	return s
}

func TestFunnelArithmetic(t *testing.T) {
	m := Funnel(CountsFromSnapshot(funnelSnapshot()))

	assert.Equal(t, 10, m.TotalTargets)
	assert.Equal(t, 10, m.EmailsSent)
	assert.Equal(t, 6, m.UniqueOpens)
	assert.Equal(t, 3, m.UniqueClicks)
	assert.Equal(t, 1, m.UniqueSubmits)

	assert.Equal(t, 100.0, m.DeliveryRate)
	assert.Equal(t, 60.0, m.OpenRate)
	assert.Equal(t, 50.0, m.ClickRate)
	assert.Equal(t, 33.33, m.SubmissionRate)
}

func TestFunnelZeroDenominators(t *testing.T) {
	m := Funnel(Counts{})
	assert.Zero(t, m.DeliveryRate)
	assert.Zero(t, m.OpenRate)
	assert.Zero(t, m.ClickRate)
	assert.Zero(t, m.SubmissionRate)

	m = Funnel(Counts{TotalTargets: 3, EmailsSent: 0, UniqueOpens: 2})
	assert.Zero(t, m.OpenRate, "opens without sends must not divide by zero")
	assert.Equal(t, 0.0, m.DeliveryRate)
}

func TestCountsDistinctPerTarget(t *testing.T) {
	s := &Snapshot{Recipients: []domain.Recipient{recipient(1, "")}}
	s.Events = []domain.EmailEvent{
		event(1, domain.EventSent, t0),
		event(1, domain.EventOpened, t0.Add(time.Minute)),
		event(1, domain.EventOpened, t0.Add(2*time.Minute)),
		event(1, domain.EventBounced, t0),
	}
	c := CountsFromSnapshot(s)
	assert.Equal(t, 1, c.UniqueOpens)
	assert.Equal(t, 1, c.Bounced)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 33.33, Rate(1, 3))
	assert.Equal(t, 66.67, Rate(2, 3))
	assert.Equal(t, 12.5, Rate(1, 8))
}

func TestDepartments(t *testing.T) {
	s := funnelSnapshot()
	s.Recipients = append(s.Recipients, recipient(10, ""))

	depts := Departments(s)
	require.Len(t, depts, 3)

	byName := map[string]DepartmentStats{}
	for _, d := range depts {
		byName[d.Department] = d
	}

	// Finance holds even indices 0,2,4,6,8: opened 0,2,4 clicked 0,2 submitted 0
	fin := byName["Finance"]
	assert.Equal(t, 5, fin.TotalTargets)
	assert.Equal(t, 3, fin.Opened)
	assert.Equal(t, 2, fin.Clicked)
	assert.Equal(t, 1, fin.Submitted)
	assert.Equal(t, 3, fin.Engaged)
	assert.Equal(t, 60.0, fin.EngagementRate)

	// Sales holds 1,3,5,7,9: opened 1,3,5 clicked 1
	sales := byName["Sales"]
	assert.Equal(t, 3, sales.Opened)
	assert.Equal(t, 1, sales.Clicked)
	assert.Equal(t, 0, sales.Submitted)

	un := byName[UnassignedDepartment]
	assert.Equal(t, 1, un.TotalTargets)
	assert.Equal(t, 0.0, un.EngagementRate)

	assert.Equal(t, "Finance", depts[0].Department)
}

func TestTimelineDistinctBuckets(t *testing.T) {
	s := funnelSnapshot()
	// a duplicate open in a later hour must not be counted again
	s.Events = append(s.Events, event(0, domain.EventOpened, t0.Add(5*time.Hour)))

	buckets := Timeline(s, t0, 6)
	require.Len(t, buckets, 6)
	assert.Equal(t, "09:00", buckets[0].Hour)
	assert.Equal(t, 10, buckets[0].Sent)
	// opens at +10..+60 min: five in the first hour, one at exactly 10:00
	assert.Equal(t, 5, buckets[0].Opened)
	assert.Equal(t, 1, buckets[1].Opened)
	assert.Equal(t, 3, buckets[2].Clicked)
	assert.Equal(t, 1, buckets[3].Submitted)
	assert.Equal(t, 0, buckets[5].Opened)

	var opens int
	for _, b := range buckets {
		opens += b.Opened
	}
	assert.Equal(t, 6, opens)
}

func TestTimelineIgnoresOutOfWindow(t *testing.T) {
	buckets := Timeline(funnelSnapshot(), t0.Add(time.Hour), 1)
	require.Len(t, buckets, 1)
	assert.Equal(t, 0, buckets[0].Sent)
	assert.Equal(t, 1, buckets[0].Opened)
}

func TestTimeToEngagement(t *testing.T) {
	timing := TimeToEngagement(funnelSnapshot())
	assert.Equal(t, 6, timing.Opens)
	assert.Equal(t, 3, timing.Clicks)
	// opens at 10,20,...,60 minutes
	assert.Equal(t, 35.0, timing.AvgTimeToOpen)
	assert.Equal(t, 35.0, timing.MedianTimeToOpen)
	assert.Equal(t, 120.0, timing.AvgTimeToClick)
}

func TestRowsFirstTimestamps(t *testing.T) {
	s := &Snapshot{Recipients: []domain.Recipient{recipient(1, "IT")}}
	s.Events = []domain.EmailEvent{
		event(1, domain.EventSent, t0),
		event(1, domain.EventClicked, t0.Add(time.Hour)),
		event(1, domain.EventOpened, t0.Add(2*time.Hour)),
	}
	rows := Rows(s)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].SentAt)
	assert.True(t, rows[0].SentAt.Equal(t0))
	assert.True(t, rows[0].ClickedAt.Equal(t0.Add(time.Hour)))
	assert.True(t, rows[0].OpenedAt.Equal(t0.Add(2*time.Hour)))
	assert.Nil(t, rows[0].SubmittedAt)
}

type overviewRepo struct {
	Repository
	consentSince time.Time
	eventsCutoff time.Time
}

func (r *overviewRepo) CampaignStatusCounts(context.Context) (map[domain.CampaignStatus]int, error) {
	return map[domain.CampaignStatus]int{domain.CampaignActive: 2, domain.CampaignDraft: 1}, nil
}

func (r *overviewRepo) DailyEventCounts(context.Context, time.Time) ([]DayCount, error) {
	return nil, nil
}

func (r *overviewRepo) ConsentCounts(_ context.Context, since time.Time) (int, int, error) {
	r.consentSince = since
	return 2, 1, nil
}

func (r *overviewRepo) CountEventsBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.eventsCutoff = cutoff
	return 17, nil
}

func TestOverviewCompliance(t *testing.T) {
	repo := &overviewRepo{}
	svc := NewService(repo).WithClock(func() time.Time { return t0 })

	o, err := svc.Overview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, o.TotalCampaigns)
	assert.Nil(t, o.Compliance)

	o, err = svc.WithRetention(90).Overview(context.Background())
	require.NoError(t, err)
	require.NotNil(t, o.Compliance)
	assert.Equal(t, Compliance{ConsentVerified: 2, ConsentUnverified: 1, RetentionDays: 90, EventsPastRetention: 17}, *o.Compliance)
	assert.Equal(t, t0.AddDate(0, 0, -30), repo.consentSince)
	assert.Equal(t, t0.AddDate(0, 0, -90), repo.eventsCutoff)
}
