// internal/model/campaign.go
package model

import "time"

type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
)

// Audience is the base segmentation rule.
type Audience string

const (
	AudienceCompleted Audience = "completed"
	AudienceAbandoned Audience = "abandoned"
	AudienceAll       Audience = "all"
)

// TriggerKind is the timing policy for a campaign.
type TriggerKind string

const (
	TriggerImmediate TriggerKind = "immediate"
	TriggerDelayed   TriggerKind = "delayed"
	TriggerScheduled TriggerKind = "scheduled"
)

// Campaign lifecycle statuses.
const (
	StatusDraft     = "draft"
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// Filter is one conjunctive predicate over a lead's answer variables.
// Op is "eq", "gte" or "lte"; gte/lte compare numerically. A filter whose
// variable is absent on the lead never qualifies.
type Filter struct {
	Variable string `json:"variable"`
	Op       string `json:"op"`
	Value    string `json:"value"`
}

// TemplateBucket pairs a filter with a template override, evaluated in
// order before falling back to the campaign's base template.
type TemplateBucket struct {
	Filter   Filter `json:"filter"`
	Template string `json:"template"`
}

// Counters are the denormalized per-campaign delivery rollups shown on
// dashboards. Rates are always computed against Sent.
type Counters struct {
	Sent      int `db:"sent_count" json:"sent"`
	Delivered int `db:"delivered_count" json:"delivered"`
	Opened    int `db:"opened_count" json:"opened"`
	Clicked   int `db:"clicked_count" json:"clicked"`
	Replied   int `db:"replied_count" json:"replied"`
	Bounced   int `db:"bounced_count" json:"bounced"`
}

type Campaign struct {
	ID      int     `db:"id" json:"id"`
	UserID  int     `db:"user_id" json:"user_id"`
	Name    string  `db:"name" json:"name"`
	Channel Channel `db:"channel" json:"channel"`
	QuizID  int     `db:"quiz_id" json:"quiz_id"`

	Audience Audience `db:"audience" json:"audience"`
	Filters  []Filter `db:"filters" json:"filters,omitempty"`

	Template string           `db:"template" json:"template"`
	Subject  string           `db:"subject" json:"subject,omitempty"`
	MediaRef string           `db:"media_ref" json:"media_ref,omitempty"`
	Buckets  []TemplateBucket `db:"buckets" json:"buckets,omitempty"`

	Trigger      TriggerKind `db:"trigger_kind" json:"trigger"`
	DelaySeconds int         `db:"delay_seconds" json:"delay_seconds,omitempty"`
	ScheduledAt  *time.Time  `db:"scheduled_at" json:"scheduled_at,omitempty"`

	Status         string     `db:"status" json:"status"`
	DeactivatedAt  *time.Time `db:"deactivated_at" json:"deactivated_at,omitempty"`
	MaterializedAt *time.Time `db:"materialized_at" json:"materialized_at,omitempty"`

	Counters Counters `json:"counters"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Delay returns the delayed-trigger duration.
func (c *Campaign) Delay() time.Duration {
	return time.Duration(c.DelaySeconds) * time.Second
}
