// internal/service/orchestrator.go
package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/brunoxkz/campaign-engine/internal/credit"
	"github.com/brunoxkz/campaign-engine/internal/model"
	"github.com/brunoxkz/campaign-engine/internal/queue"
	"github.com/brunoxkz/campaign-engine/internal/repository"
	"github.com/brunoxkz/campaign-engine/internal/schedule"
	"github.com/brunoxkz/campaign-engine/internal/segment"
	"github.com/brunoxkz/campaign-engine/internal/sender"
	"github.com/brunoxkz/campaign-engine/internal/template"
)

// Queue topics. Both are partitioned by lead id so work on one
// (campaign, lead) pair is serialized.
const (
	TopicLeadEvents  = "lead_events"
	TopicDispatchDue = "dispatch_due"
)

// DispatchJob asks a worker to execute one due dispatch record.
type DispatchJob struct {
	RecordID int
	LeadID   int
}

// Orchestrator consumes lead events, fans them out over active
// campaigns, and drives each DispatchRecord through
// pending -> {sent | failed | skipped_no_credit | skipped_unqualified}.
type Orchestrator struct {
	Campaigns  repository.CampaignRepositoryInterface
	Dispatches repository.DispatchRepositoryInterface
	Leads      repository.LeadRepositoryInterface
	Credits    *credit.Ledger
	Sender     sender.MessageSender
	Queue      queue.Queue
	Scheduler  *schedule.Scheduler

	MaxAttempts  int
	RetryBackoff time.Duration
	Now          func() time.Time
}

// Register subscribes the orchestrator's handlers on the queue.
func (o *Orchestrator) Register() error {
	if err := o.Queue.Subscribe(TopicLeadEvents, func(payload any) error {
		ev, ok := payload.(model.LeadEvent)
		if !ok {
			log.Printf("orchestrator: unexpected payload %T on %s", payload, TopicLeadEvents)
			return nil
		}
		return o.HandleLeadEvent(ev)
	}); err != nil {
		return err
	}
	return o.Queue.Subscribe(TopicDispatchDue, func(payload any) error {
		job, ok := payload.(DispatchJob)
		if !ok {
			log.Printf("orchestrator: unexpected payload %T on %s", payload, TopicDispatchDue)
			return nil
		}
		return o.Dispatch(job.RecordID)
	})
}

// HandleLeadEvent evaluates one funnel transition against every active
// campaign scoped to the lead's quiz. Redelivered events collapse onto
// the existing DispatchRecord and become no-ops.
//
// Only terminal transitions fan out. The funnel status moves once to
// completed or abandoned per quiz attempt, so keying occurrences off the
// terminal status is what bounds each (campaign, lead) pair to one send;
// in_progress activity updates the lead snapshot upstream but never
// creates records here.
func (o *Orchestrator) HandleLeadEvent(ev model.LeadEvent) error {
	if !ev.Status.Terminal() {
		return nil
	}

	lead, err := o.Leads.GetByID(ev.LeadID)
	if err != nil {
		return err
	}
	if lead == nil {
		log.Printf("orchestrator: event for unknown lead %d, dropping", ev.LeadID)
		return nil
	}

	campaigns, err := o.Campaigns.ListActiveByQuiz(ev.QuizID)
	if err != nil {
		return err
	}

	for _, c := range campaigns {
		if c.Trigger == model.TriggerScheduled {
			// scheduled campaigns snapshot their audience at due time;
			// the sweeper materializes them
			continue
		}
		if !segment.Qualifies(c, lead) {
			continue
		}

		dueAt, ok := o.Scheduler.DispatchTime(c, ev.OccurredAt)
		if !ok {
			continue
		}

		rec := &model.DispatchRecord{
			CampaignID: c.ID,
			LeadID:     lead.ID,
			Occurrence: string(ev.Status),
			DueAt:      dueAt,
		}
		granted, err := o.Dispatches.Admit(rec)
		if err != nil {
			return err
		}
		if !granted {
			log.Printf("orchestrator: duplicate event for campaign=%d lead=%d occurrence=%s", c.ID, lead.ID, ev.Status)
			continue
		}

		if !dueAt.After(o.now()) {
			// due now: dispatch on this same partition worker
			if err := o.Dispatch(rec.ID); err != nil {
				log.Printf("orchestrator: dispatch of record %d failed: %v", rec.ID, err)
			}
		}
		// not due yet: the persisted due_at is picked up by the sweeper
	}
	return nil
}

// Dispatch executes one due record: pause check, credit reservation,
// rendering, provider call, terminal transition. Safe to invoke any
// number of times; only the worker that claims the attempt sends.
func (o *Orchestrator) Dispatch(recordID int) error {
	rec, err := o.Dispatches.GetByID(recordID)
	if err != nil {
		return err
	}
	if rec == nil || rec.Status.Terminal() {
		return nil
	}
	now := o.now()
	if rec.DueAt.After(now) {
		return nil // not due yet
	}

	c, err := o.Campaigns.GetByID(rec.CampaignID)
	if err != nil {
		return err
	}
	// a pause between scheduling and due time must stop the send
	if c.Status != model.StatusActive {
		log.Printf("orchestrator: campaign %d is %s, leaving record %d pending", c.ID, c.Status, rec.ID)
		return nil
	}

	lead, err := o.Leads.GetByID(rec.LeadID)
	if err != nil {
		return err
	}
	if lead == nil {
		return o.Dispatches.MarkFailed(rec.ID, "lead snapshot missing")
	}

	recipient, ok := lead.Recipient(c.Channel)
	if !ok {
		return o.Dispatches.MarkFailed(rec.ID, fmt.Sprintf("lead %d has no %s recipient", lead.ID, c.Channel))
	}

	res, err := template.ForCampaign(c, lead)
	if err != nil {
		// data error: terminal, never aborts the batch
		return o.Dispatches.MarkFailed(rec.ID, err.Error())
	}

	claimed, err := o.Dispatches.ClaimAttempt(rec.ID, rec.AttemptCount)
	if err != nil {
		return err
	}
	if !claimed {
		return nil // another worker owns this attempt
	}
	attempt := rec.AttemptCount + 1

	if !rec.CreditReserved {
		ok, err := o.Credits.TryReserve(c.UserID, c.Channel, 1)
		if err != nil {
			return err
		}
		if !ok {
			return o.Dispatches.MarkSkipped(rec.ID, model.DispatchSkippedNoCredit)
		}
		if err := o.Dispatches.MarkCreditReserved(rec.ID); err != nil {
			return err
		}
	}

	// reservation is committed before the provider call; nothing is held
	// across the network I/O
	pmid, accepted, err := o.Sender.Send(context.Background(), sender.Message{
		Channel:   c.Channel,
		Recipient: recipient,
		Content:   res.Content,
		Subject:   res.Subject,
		MediaRef:  res.MediaRef,
	})
	if err != nil {
		// transient provider error; the due time is the durable retry timer
		if attempt >= o.maxAttempts() {
			log.Printf("orchestrator: record %d failed permanently after %d attempts: %v", rec.ID, attempt, err)
			return o.Dispatches.MarkFailed(rec.ID, err.Error())
		}
		return o.Dispatches.Reschedule(rec.ID, now.Add(o.backoff(attempt)), err.Error())
	}
	if !accepted {
		// synchronous reject: the only case where the reservation is
		// compensated, since the message never reached the network
		if rerr := o.Credits.Refund(c.UserID, c.Channel, 1); rerr != nil {
			log.Printf("orchestrator: refund after reject failed for record %d: %v", rec.ID, rerr)
		}
		return o.Dispatches.MarkFailed(rec.ID, "provider rejected message")
	}

	if err := o.Dispatches.MarkSent(rec.ID, pmid, res.Content); err != nil {
		return err
	}
	if err := o.Campaigns.IncrementCounter(c.ID, "sent"); err != nil {
		log.Printf("orchestrator: sent counter update failed for campaign %d: %v", c.ID, err)
	}
	if res.Truncated {
		log.Printf("orchestrator: sms content truncated to %d chars for record %d", template.SMSMaxLen, rec.ID)
	}
	return nil
}

func (o *Orchestrator) maxAttempts() int {
	if o.MaxAttempts > 0 {
		return o.MaxAttempts
	}
	return 3
}

// backoff doubles per attempt from the configured base.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	base := o.RetryBackoff
	if base <= 0 {
		base = 30 * time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
