package service_test

import (
	"testing"
	"time"

	"github.com/brunoxkz/campaign-engine/internal/model"
	"github.com/brunoxkz/campaign-engine/internal/service"
)

func newSweeper(now time.Time) (*service.Sweeper, *fixbag, *captureQueue) {
	b := &fixbag{
		campaigns:  newMemCampaignRepo(),
		dispatches: newMemDispatchRepo(),
		leads:      newMemLeadRepo(),
		credits:    newMemCreditRepo(),
	}
	q := &captureQueue{}
	s := service.NewSweeper(b.campaigns, b.dispatches, b.leads, q)
	s.Now = func() time.Time { return now }
	return s, b, q
}

// At the scheduled time the audience is snapshotted: qualifying leads get
// pending records, the rest get auditable skipped_unqualified records, and
// the campaign is marked so a later lead is never retroactively scheduled.
func TestSweepMaterializesDueScheduledCampaign(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	s, b, q := newSweeper(now)

	at := now.Add(-time.Minute)
	c := &model.Campaign{
		UserID: 1, Channel: model.ChannelSMS, QuizID: 10,
		Audience: model.AudienceCompleted, Template: "x",
		Trigger: model.TriggerScheduled, ScheduledAt: &at,
		Status: model.StatusActive,
	}
	b.campaigns.Create(c)

	b.leads.Upsert(&model.Lead{ID: 1, QuizID: 10, Phone: "+1", Status: model.FunnelCompleted})
	b.leads.Upsert(&model.Lead{ID: 2, QuizID: 10, Phone: "+2", Status: model.FunnelAbandoned})

	if err := s.Sweep(); err != nil {
		t.Fatal(err)
	}

	qualified, _ := b.dispatches.GetByKey(c.ID, 1, model.OccurrenceScheduled)
	if qualified == nil || qualified.Status != model.DispatchPending {
		t.Fatalf("expected pending record for qualifying lead, got %+v", qualified)
	}
	skipped, _ := b.dispatches.GetByKey(c.ID, 2, model.OccurrenceScheduled)
	if skipped == nil || skipped.Status != model.DispatchSkippedUnqualified {
		t.Fatalf("expected skipped_unqualified record, got %+v", skipped)
	}

	got, _ := b.campaigns.GetByID(c.ID)
	if got.MaterializedAt == nil {
		t.Fatal("campaign must be marked materialized")
	}

	// due record enqueued for dispatch
	q.mu.Lock()
	published := len(q.published)
	q.mu.Unlock()
	if published != 1 {
		t.Fatalf("expected 1 dispatch job published, got %d", published)
	}

	// a second sweep is a no-op: the snapshot never grows
	b.leads.Upsert(&model.Lead{ID: 3, QuizID: 10, Phone: "+3", Status: model.FunnelCompleted})
	if err := s.Sweep(); err != nil {
		t.Fatal(err)
	}
	late, _ := b.dispatches.GetByKey(c.ID, 3, model.OccurrenceScheduled)
	if late != nil {
		t.Fatal("lead qualifying after materialization must not be scheduled")
	}
}

func TestSweepIgnoresFutureScheduledCampaigns(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	s, b, _ := newSweeper(now)

	at := now.Add(time.Hour)
	c := &model.Campaign{
		UserID: 1, Channel: model.ChannelSMS, QuizID: 10,
		Audience: model.AudienceAll, Template: "x",
		Trigger: model.TriggerScheduled, ScheduledAt: &at,
		Status: model.StatusActive,
	}
	b.campaigns.Create(c)
	b.leads.Upsert(&model.Lead{ID: 1, QuizID: 10, Phone: "+1", Status: model.FunnelCompleted})

	if err := s.Sweep(); err != nil {
		t.Fatal(err)
	}
	_, total, _ := b.dispatches.ListByCampaign(c.ID, 0, 10)
	if total != 0 {
		t.Fatal("future scheduled campaign must not materialize yet")
	}
	got, _ := b.campaigns.GetByID(c.ID)
	if got.MaterializedAt != nil {
		t.Fatal("future scheduled campaign must not be marked materialized")
	}
}

// Pending records whose due time has passed are re-enqueued each sweep.
// That is the durable retry path: a restart between sweeps loses nothing.
func TestSweepEnqueuesDuePendingRecords(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	s, b, q := newSweeper(now)

	due := &model.DispatchRecord{CampaignID: 1, LeadID: 1, Occurrence: "completed", DueAt: now.Add(-time.Minute)}
	future := &model.DispatchRecord{CampaignID: 1, LeadID: 2, Occurrence: "completed", DueAt: now.Add(time.Hour)}
	done := &model.DispatchRecord{CampaignID: 1, LeadID: 3, Occurrence: "completed", DueAt: now.Add(-time.Minute), Status: model.DispatchSent}
	b.dispatches.Admit(due)
	b.dispatches.Admit(future)
	b.dispatches.Admit(done)

	if err := s.Sweep(); err != nil {
		t.Fatal(err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.published) != 1 {
		t.Fatalf("expected only the due pending record, got %d jobs", len(q.published))
	}
	job, ok := q.published[0].(service.DispatchJob)
	if !ok || job.RecordID != due.ID {
		t.Fatalf("unexpected job %+v", q.published[0])
	}
}
