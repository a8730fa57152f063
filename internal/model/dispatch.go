// internal/model/dispatch.go
package model

import "time"

// DispatchStatus is the per-record state machine. Everything except
// pending is terminal.
type DispatchStatus string

const (
	DispatchPending            DispatchStatus = "pending"
	DispatchSent               DispatchStatus = "sent"
	DispatchFailed             DispatchStatus = "failed"
	DispatchSkippedNoCredit    DispatchStatus = "skipped_no_credit"
	DispatchSkippedUnqualified DispatchStatus = "skipped_unqualified"
)

// Terminal reports whether no further transition is allowed.
func (s DispatchStatus) Terminal() bool {
	return s != DispatchPending
}

// DispatchRecord is the unit of idempotency and audit: exactly one may
// exist per (campaign, lead, occurrence). Occurrence is the funnel status
// at trigger time, or "scheduled" for snapshot campaigns, so replayed
// events collapse onto the same record.
type DispatchRecord struct {
	ID         int    `db:"id" json:"id"`
	CampaignID int    `db:"campaign_id" json:"campaign_id"`
	LeadID     int    `db:"lead_id" json:"lead_id"`
	Occurrence string `db:"occurrence" json:"occurrence"`

	DueAt  time.Time      `db:"due_at" json:"due_at"`
	Status DispatchStatus `db:"status" json:"status"`

	RenderedContent   string `db:"rendered_content" json:"rendered_content,omitempty"`
	ProviderMessageID string `db:"provider_message_id" json:"provider_message_id,omitempty"`

	// CreditReserved marks records whose credit was reserved up front as
	// part of a bulk all-or-nothing reservation.
	CreditReserved bool   `db:"credit_reserved" json:"credit_reserved"`
	AttemptCount   int    `db:"attempt_count" json:"attempt_count"`
	LastError      string `db:"last_error" json:"last_error,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// OccurrenceScheduled keys snapshot records of scheduled campaigns.
const OccurrenceScheduled = "scheduled"

// EventKind is a provider delivery callback kind.
type EventKind string

const (
	EventDelivered EventKind = "delivered"
	EventOpened    EventKind = "opened"
	EventClicked   EventKind = "clicked"
	EventReplied   EventKind = "replied"
	EventBounced   EventKind = "bounced"
)

// ValidEventKind reports whether k is one of the known callback kinds.
func ValidEventKind(k EventKind) bool {
	switch k {
	case EventDelivered, EventOpened, EventClicked, EventReplied, EventBounced:
		return true
	}
	return false
}

// SkipReason is the dashboard-facing explanation for a lead that was not
// messaged: no_credit, unqualified or paused.
func (r *DispatchRecord) SkipReason(campaignStatus string) string {
	switch r.Status {
	case DispatchSkippedNoCredit:
		return "no_credit"
	case DispatchSkippedUnqualified:
		return "unqualified"
	case DispatchPending:
		if campaignStatus == StatusPaused {
			return "paused"
		}
	}
	return ""
}
