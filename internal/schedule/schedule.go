// Package schedule converts a campaign's trigger rule plus a lead event
// into a concrete dispatch time.
package schedule

import (
	"time"

	"github.com/brunoxkz/campaign-engine/internal/model"
)

// Scheduler computes dispatch times. Now is overridable for tests.
type Scheduler struct {
	Now func() time.Time
}

func New() *Scheduler {
	return &Scheduler{Now: time.Now}
}

// DispatchTime returns the time a qualifying lead should be dispatched
// for the campaign, anchored at eventTime (the funnel transition matching
// the campaign's audience rule).
//
// ok is false ("never") for scheduled campaigns whose fixed time already
// passed: scheduled campaigns snapshot their audience at due time and do
// not catch up leads that qualify later.
func (s *Scheduler) DispatchTime(c *model.Campaign, eventTime time.Time) (time.Time, bool) {
	switch c.Trigger {
	case model.TriggerImmediate:
		return eventTime, true
	case model.TriggerDelayed:
		return eventTime.Add(c.Delay()), true
	case model.TriggerScheduled:
		if c.ScheduledAt == nil {
			return time.Time{}, false
		}
		if c.ScheduledAt.Before(s.now()) {
			return time.Time{}, false
		}
		return *c.ScheduledAt, true
	}
	return time.Time{}, false
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
