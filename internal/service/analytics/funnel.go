package analytics

import (
	"math"

	"github.com/ignite/phishsim/internal/domain"
)

// Counts are the raw funnel numbers of one campaign.
type Counts struct {
	TotalTargets  int `json:"total_targets"`
	EmailsSent    int `json:"emails_sent"`
	UniqueOpens   int `json:"unique_opens"`
	UniqueClicks  int `json:"unique_clicks"`
	UniqueSubmits int `json:"unique_submits"`
	Bounced       int `json:"bounced"`
}

// Metrics are Counts plus the conversion rates. Each rate divides by the
// previous stage, not by total targets.
type Metrics struct {
	Counts
	DeliveryRate   float64 `json:"delivery_rate"`
	OpenRate       float64 `json:"open_rate"`
	ClickRate      float64 `json:"click_rate"`
	SubmissionRate float64 `json:"submission_rate"`
}

// Funnel derives the rates from counts.
func Funnel(c Counts) Metrics {
	return Metrics{
		Counts:         c,
		DeliveryRate:   Rate(c.EmailsSent, c.TotalTargets),
		OpenRate:       Rate(c.UniqueOpens, c.EmailsSent),
		ClickRate:      Rate(c.UniqueClicks, c.UniqueOpens),
		SubmissionRate: Rate(c.UniqueSubmits, c.UniqueClicks),
	}
}

// Rate returns num/den as a percentage rounded to two decimals, or 0 when
// den is 0.
func Rate(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return Round2(float64(num) / float64(den) * 100)
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CountsFromSnapshot computes Counts in memory with the same semantics as
// the SQL aggregation: sent events are counted, engagement is counted once
// per CampaignTarget.
func CountsFromSnapshot(s *Snapshot) Counts {
	c := Counts{TotalTargets: len(s.Recipients)}
	distinct := map[domain.EventType]map[string]bool{
		domain.EventOpened:    {},
		domain.EventClicked:   {},
		domain.EventSubmitted: {},
		domain.EventBounced:   {},
	}
	for _, ev := range s.Events {
		if ev.EventType == domain.EventSent {
			c.EmailsSent++
			continue
		}
		if m, ok := distinct[ev.EventType]; ok {
			m[ev.CampaignTargetID] = true
		}
	}
	c.UniqueOpens = len(distinct[domain.EventOpened])
	c.UniqueClicks = len(distinct[domain.EventClicked])
	c.UniqueSubmits = len(distinct[domain.EventSubmitted])
	c.Bounced = len(distinct[domain.EventBounced])
	return c
}
