package domain

import (
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// Valid reports whether s is a known campaign status.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignActive, CampaignPaused, CampaignCompleted:
		return true
	}
	return false
}

// Campaign is one simulated-phishing sending operation bound to a template.
type Campaign struct {
	ID              string         `json:"id" db:"id"`
	Name            string         `json:"name" db:"name"`
	Description     string         `json:"description" db:"description"`
	TemplateID      string         `json:"template_id" db:"template_id"`
	Status          CampaignStatus `json:"status" db:"status"`
	ConsentVerified bool           `json:"consent_verified" db:"consent_verified"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	ScheduledAt *time.Time `json:"scheduled_at" db:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`
}

// IsTerminal returns true if the campaign can no longer send.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignCompleted
}

// Template is the email design a campaign sends. Subject and HTMLContent may
// contain {{placeholder}} tokens from the closed vocabulary in package template.
type Template struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Subject     string    `json:"subject" db:"subject"`
	HTMLContent string    `json:"html_content" db:"html_content"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
