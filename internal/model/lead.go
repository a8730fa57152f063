// internal/model/lead.go
package model

import "time"

// FunnelStatus is the lead's position in a quiz funnel. It transitions
// once to a terminal value (completed or abandoned) per quiz attempt.
type FunnelStatus string

const (
	FunnelInProgress FunnelStatus = "in_progress"
	FunnelCompleted  FunnelStatus = "completed"
	FunnelAbandoned  FunnelStatus = "abandoned"
)

// Terminal reports whether the status is final for the quiz attempt.
func (s FunnelStatus) Terminal() bool {
	return s == FunnelCompleted || s == FunnelAbandoned
}

// Lead is a person who interacted with a quiz. The quiz/funnel subsystem
// owns this record; the engine only reads the snapshot written by the
// event adapter.
type Lead struct {
	ID             int               `db:"id" json:"id"`
	QuizID         int               `db:"quiz_id" json:"quiz_id"`
	Phone          string            `db:"phone" json:"phone,omitempty"`
	Email          string            `db:"email" json:"email,omitempty"`
	Status         FunnelStatus      `db:"status" json:"status"`
	Variables      map[string]string `db:"variables" json:"variables"`
	LastActivityAt time.Time         `db:"last_activity_at" json:"last_activity_at"`
}

// Recipient returns the contact field for the channel. ok is false when
// the lead has no usable address for that channel.
func (l *Lead) Recipient(ch Channel) (string, bool) {
	switch ch {
	case ChannelEmail:
		return l.Email, l.Email != ""
	case ChannelSMS, ChannelWhatsApp:
		return l.Phone, l.Phone != ""
	}
	return "", false
}

// LeadEvent is one funnel transition emitted by the quiz subsystem.
type LeadEvent struct {
	LeadID     int               `json:"lead_id"`
	QuizID     int               `json:"quiz_id"`
	Status     FunnelStatus      `json:"funnel_status"`
	Variables  map[string]string `json:"variables"`
	OccurredAt time.Time         `json:"occurred_at"`
}
