package analytics

import (
	"sort"
	"time"

	"github.com/ignite/phishsim/internal/domain"
)

// UnassignedDepartment labels targets without a department.
const UnassignedDepartment = "Unassigned"

// RecipientRow is one enrollment with the first timestamp of each funnel
// event. It backs the per-target report and the CSV export.
type RecipientRow struct {
	domain.Recipient
	SentAt      *time.Time `json:"sent_time"`
	OpenedAt    *time.Time `json:"open_time"`
	ClickedAt   *time.Time `json:"click_time"`
	SubmittedAt *time.Time `json:"submit_time"`
}

// TimeToOpen returns minutes from send to open, if both happened.
func (r RecipientRow) TimeToOpen() (float64, bool) { return minutesBetween(r.SentAt, r.OpenedAt) }

// TimeToClick returns minutes from send to click, if both happened.
func (r RecipientRow) TimeToClick() (float64, bool) { return minutesBetween(r.SentAt, r.ClickedAt) }

func minutesBetween(from, to *time.Time) (float64, bool) {
	if from == nil || to == nil {
		return 0, false
	}
	return to.Sub(*from).Minutes(), true
}

// Rows joins enrollments with their first event of each funnel type, in
// enrollment order.
func Rows(s *Snapshot) []RecipientRow {
	first := make(map[string]map[domain.EventType]time.Time, len(s.Recipients))
	for _, ev := range s.Events {
		m, ok := first[ev.CampaignTargetID]
		if !ok {
			m = make(map[domain.EventType]time.Time, 4)
			first[ev.CampaignTargetID] = m
		}
		if prev, seen := m[ev.EventType]; !seen || ev.Timestamp.Before(prev) {
			m[ev.EventType] = ev.Timestamp
		}
	}

	pick := func(m map[domain.EventType]time.Time, t domain.EventType) *time.Time {
		if ts, ok := m[t]; ok {
			return &ts
		}
		return nil
	}

	rows := make([]RecipientRow, 0, len(s.Recipients))
	for _, r := range s.Recipients {
		m := first[r.ID]
		rows = append(rows, RecipientRow{
			Recipient:   r,
			SentAt:      pick(m, domain.EventSent),
			OpenedAt:    pick(m, domain.EventOpened),
			ClickedAt:   pick(m, domain.EventClicked),
			SubmittedAt: pick(m, domain.EventSubmitted),
		})
	}
	return rows
}

// DepartmentStats is the engagement of one department within a campaign.
type DepartmentStats struct {
	Department     string  `json:"department"`
	TotalTargets   int     `json:"total_targets"`
	Opened         int     `json:"opened"`
	Clicked        int     `json:"clicked"`
	Submitted      int     `json:"submitted"`
	Engaged        int     `json:"engaged_targets"`
	EngagementRate float64 `json:"engagement_rate"`
}

// Departments groups enrollments by target department. Each enrollment
// counts at most once per event type; engaged means any of opened, clicked
// or submitted. Results are sorted by department name.
func Departments(s *Snapshot) []DepartmentStats {
	types := make(map[string]domain.EventSet, len(s.Recipients))
	for _, ev := range s.Events {
		if !ev.EventType.Engagement() {
			continue
		}
		set, ok := types[ev.CampaignTargetID]
		if !ok {
			set = domain.NewEventSet()
			types[ev.CampaignTargetID] = set
		}
		set[ev.EventType] = true
	}

	byDept := make(map[string]*DepartmentStats)
	for _, r := range s.Recipients {
		name := r.Target.Department
		if name == "" {
			name = UnassignedDepartment
		}
		d, ok := byDept[name]
		if !ok {
			d = &DepartmentStats{Department: name}
			byDept[name] = d
		}
		d.TotalTargets++
		set := types[r.ID]
		if set.Has(domain.EventOpened) {
			d.Opened++
		}
		if set.Has(domain.EventClicked) {
			d.Clicked++
		}
		if set.Has(domain.EventSubmitted) {
			d.Submitted++
		}
		if len(set) > 0 {
			d.Engaged++
		}
	}

	out := make([]DepartmentStats, 0, len(byDept))
	for _, d := range byDept {
		d.EngagementRate = Rate(d.Engaged, d.TotalTargets)
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Department < out[j].Department })
	return out
}

// TimelineBucket holds distinct per-type counts for one hour.
type TimelineBucket struct {
	Start     time.Time `json:"start"`
	Hour      string    `json:"hour"` // "15:00"
	Sent      int       `json:"sent"`
	Opened    int       `json:"opened"`
	Clicked   int       `json:"clicked"`
	Submitted int       `json:"submitted"`
}

// Timeline buckets events into `hours` hourly slots starting at from
// (truncated to the hour, UTC). Each enrollment contributes at most once
// per type: its first event of that type, in the bucket it occurred.
// Events outside the window are ignored.
func Timeline(s *Snapshot, from time.Time, hours int) []TimelineBucket {
	if hours <= 0 {
		return nil
	}
	start := from.UTC().Truncate(time.Hour)
	buckets := make([]TimelineBucket, hours)
	for i := range buckets {
		b := start.Add(time.Duration(i) * time.Hour)
		buckets[i] = TimelineBucket{Start: b, Hour: b.Format("15:04")}
	}

	for _, row := range Rows(s) {
		place := func(ts *time.Time, inc func(*TimelineBucket)) {
			if ts == nil {
				return
			}
			idx := int(ts.UTC().Sub(start) / time.Hour)
			if ts.Before(start) || idx >= hours {
				return
			}
			inc(&buckets[idx])
		}
		place(row.SentAt, func(b *TimelineBucket) { b.Sent++ })
		place(row.OpenedAt, func(b *TimelineBucket) { b.Opened++ })
		place(row.ClickedAt, func(b *TimelineBucket) { b.Clicked++ })
		place(row.SubmittedAt, func(b *TimelineBucket) { b.Submitted++ })
	}
	return buckets
}

// Engagement timing in minutes from send.
type EngagementTiming struct {
	AvgTimeToOpen     float64 `json:"avg_time_to_open"`
	AvgTimeToClick    float64 `json:"avg_time_to_click"`
	MedianTimeToOpen  float64 `json:"median_time_to_open"`
	MedianTimeToClick float64 `json:"median_time_to_click"`
	Opens             int     `json:"opens_measured"`
	Clicks            int     `json:"clicks_measured"`
}

// TimeToEngagement measures send-to-open and send-to-click delays over
// enrollments that have both timestamps.
func TimeToEngagement(s *Snapshot) EngagementTiming {
	var opens, clicks []float64
	for _, r := range Rows(s) {
		if m, ok := r.TimeToOpen(); ok && m >= 0 {
			opens = append(opens, m)
		}
		if m, ok := r.TimeToClick(); ok && m >= 0 {
			clicks = append(clicks, m)
		}
	}
	return EngagementTiming{
		AvgTimeToOpen:     Round2(mean(opens)),
		AvgTimeToClick:    Round2(mean(clicks)),
		MedianTimeToOpen:  Round2(median(opens)),
		MedianTimeToClick: Round2(median(clicks)),
		Opens:             len(opens),
		Clicks:            len(clicks),
	}
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}
