package domain

import "time"

// DispatchJob asks a worker to send a campaign to its pending targets.
type DispatchJob struct {
	CampaignID string    `json:"campaign_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Reason     string    `json:"reason,omitempty"` // launch, resume, retry
	Attempt    int       `json:"attempt,omitempty"`
}

// DispatchResult summarises one dispatcher run.
type DispatchResult struct {
	CampaignID string        `json:"campaign_id"`
	Sent       int           `json:"sent"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Waits      int           `json:"rate_limit_waits"`
	Paused     bool          `json:"paused"`
	Completed  bool          `json:"completed"`
	Duration   time.Duration `json:"duration"`
}
