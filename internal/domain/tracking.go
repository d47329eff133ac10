package domain

import "time"

// EventType enumerates the engagement facts recorded against a CampaignTarget.
type EventType string

const (
	EventSent      EventType = "sent"
	EventOpened    EventType = "opened"
	EventClicked   EventType = "clicked"
	EventSubmitted EventType = "submitted"
	EventBounced   EventType = "bounced"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventSent, EventOpened, EventClicked, EventSubmitted, EventBounced:
		return true
	}
	return false
}

// Engagement reports whether t is one of the recipient-triggered funnel
// stages (opened, clicked, submitted).
func (t EventType) Engagement() bool {
	return t == EventOpened || t == EventClicked || t == EventSubmitted
}

// FunnelEvents lists the funnel stages in order.
var FunnelEvents = []EventType{EventSent, EventOpened, EventClicked, EventSubmitted}

// EmailEvent is an immutable, timestamped fact attached to a CampaignTarget.
// Metadata never contains submitted form values.
type EmailEvent struct {
	ID               string         `json:"id" db:"id"`
	CampaignTargetID string         `json:"campaign_target_id" db:"campaign_target_id"`
	EventType        EventType      `json:"event_type" db:"event_type"`
	Timestamp        time.Time      `json:"timestamp" db:"timestamp"`
	IPAddress        string         `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent        string         `json:"user_agent,omitempty" db:"user_agent"`
	Metadata         map[string]any `json:"metadata,omitempty" db:"metadata"`
}

// EventSet is the set of distinct event types seen for one CampaignTarget.
type EventSet map[EventType]bool

// NewEventSet builds a set from a list of event types.
func NewEventSet(types ...EventType) EventSet {
	s := make(EventSet, len(types))
	for _, t := range types {
		s[t] = true
	}
	return s
}

// Has reports whether the set contains t.
func (s EventSet) Has(t EventType) bool { return s[t] }

// DeriveStatus computes a CampaignTarget status from the set of distinct
// event types recorded for it. Arrival order is irrelevant:
//
//	submitted            -> submitted (terminal, regardless of other events)
//	sent + clicked       -> clicked
//	sent + opened        -> opened
//	sent                 -> sent
//	otherwise            -> pending
//
// Opens and clicks only advance a target that was actually sent, which
// matches the forward-only precedence table of the tracking triggers.
// The result is monotonic in set inclusion, so adding events never
// regresses status.
func DeriveStatus(s EventSet) TargetStatus {
	switch {
	case s.Has(EventSubmitted):
		return TargetSubmitted
	case s.Has(EventSent) && s.Has(EventClicked):
		return TargetClicked
	case s.Has(EventSent) && s.Has(EventOpened):
		return TargetOpened
	case s.Has(EventSent):
		return TargetSent
	}
	return TargetPending
}

// Advance returns the status after applying next, never moving backward
// from current.
func Advance(current TargetStatus, next TargetStatus) TargetStatus {
	if next.Rank() > current.Rank() {
		return next
	}
	return current
}
