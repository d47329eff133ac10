package domain

import (
	"strings"
	"time"
)

// Target is a recipient identity. Email is unique across the platform.
type Target struct {
	ID         string    `json:"id" db:"id"`
	Email      string    `json:"email" db:"email"`
	FirstName  string    `json:"first_name" db:"first_name"`
	LastName   string    `json:"last_name" db:"last_name"`
	Department string    `json:"department" db:"department"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// FullName returns "First Last", falling back to the email address.
func (t *Target) FullName() string {
	name := strings.TrimSpace(t.FirstName + " " + t.LastName)
	if name == "" {
		return t.Email
	}
	return name
}

// TargetStatus is the monotonic progression marker of a CampaignTarget.
type TargetStatus string

const (
	TargetPending   TargetStatus = "pending"
	TargetSent      TargetStatus = "sent"
	TargetOpened    TargetStatus = "opened"
	TargetClicked   TargetStatus = "clicked"
	TargetSubmitted TargetStatus = "submitted"
)

var statusRank = map[TargetStatus]int{
	TargetPending:   0,
	TargetSent:      1,
	TargetOpened:    2,
	TargetClicked:   3,
	TargetSubmitted: 4,
}

// Rank orders statuses along the funnel. Unknown statuses rank below pending.
func (s TargetStatus) Rank() int {
	r, ok := statusRank[s]
	if !ok {
		return -1
	}
	return r
}

// CampaignTarget is a target's enrollment in a campaign and the unit of
// tracking. Token is the only capability needed to record engagement.
type CampaignTarget struct {
	ID         string       `json:"id" db:"id"`
	CampaignID string       `json:"campaign_id" db:"campaign_id"`
	TargetID   string       `json:"target_id" db:"target_id"`
	Token      string       `json:"-" db:"unique_token"`
	Status     TargetStatus `json:"status" db:"status"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	SentAt     *time.Time   `json:"sent_at" db:"sent_at"`
}

// Recipient joins a CampaignTarget with its Target identity. It is what the
// dispatcher renders and what exports and analytics iterate over.
type Recipient struct {
	CampaignTarget
	Target Target `json:"target"`
}
