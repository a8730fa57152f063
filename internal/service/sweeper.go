// internal/service/sweeper.go
package service

import (
	"context"
	"log"
	"time"

	"github.com/brunoxkz/campaign-engine/internal/model"
	"github.com/brunoxkz/campaign-engine/internal/queue"
	"github.com/brunoxkz/campaign-engine/internal/repository"
	"github.com/brunoxkz/campaign-engine/internal/segment"
)

// Sweeper is the durable timer: dispatch due times live in the store,
// and a periodic sweep re-enqueues whatever is due. A process restart
// loses nothing. It also materializes scheduled campaigns, snapshotting
// their audience when the fixed time arrives.
type Sweeper struct {
	Campaigns  repository.CampaignRepositoryInterface
	Dispatches repository.DispatchRepositoryInterface
	Leads      repository.LeadRepositoryInterface
	Queue      queue.Queue

	Interval  time.Duration
	BatchSize int
	Now       func() time.Time

	running bool
	stop    chan struct{}
}

func NewSweeper(campaigns repository.CampaignRepositoryInterface, dispatches repository.DispatchRepositoryInterface, leads repository.LeadRepositoryInterface, q queue.Queue) *Sweeper {
	return &Sweeper{
		Campaigns:  campaigns,
		Dispatches: dispatches,
		Leads:      leads,
		Queue:      q,
		Interval:   15 * time.Second,
		BatchSize:  500,
		Now:        time.Now,
		stop:       make(chan struct{}),
	}
}

// Start runs the sweep loop in a goroutine. Call Stop to halt it.
func (s *Sweeper) Start(ctx context.Context) {
	if s.running {
		return
	}
	s.running = true
	go s.loop(ctx)
}

func (s *Sweeper) Stop() {
	if !s.running {
		return
	}
	close(s.stop)
	s.running = false
}

func (s *Sweeper) loop(ctx context.Context) {
	defer func() { s.running = false }()
	tick := time.NewTicker(s.Interval)
	defer tick.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-tick.C:
			if err := s.Sweep(); err != nil {
				log.Printf("[sweeper] sweep error: %v", err)
			}
		}
	}
}

// Sweep runs one cycle: materialize due scheduled campaigns, then
// re-enqueue due pending records.
func (s *Sweeper) Sweep() error {
	now := s.Now()
	if err := s.materializeDue(now); err != nil {
		return err
	}
	return s.enqueueDue(now)
}

func (s *Sweeper) materializeDue(now time.Time) error {
	campaigns, err := s.Campaigns.ListDueScheduled(now)
	if err != nil {
		return err
	}
	for _, c := range campaigns {
		leads, err := s.Leads.ListByQuiz(c.QuizID)
		if err != nil {
			return err
		}
		created := 0
		for _, lead := range leads {
			rec := &model.DispatchRecord{
				CampaignID: c.ID,
				LeadID:     lead.ID,
				Occurrence: model.OccurrenceScheduled,
				DueAt:      now,
			}
			if !segment.Qualifies(c, lead) {
				// scheduled audiences are auditable: absence gets a record
				rec.Status = model.DispatchSkippedUnqualified
				if _, err := s.Dispatches.Admit(rec); err != nil {
					log.Printf("[sweeper] unqualified record for campaign=%d lead=%d failed: %v", c.ID, lead.ID, err)
				}
				continue
			}
			granted, err := s.Dispatches.Admit(rec)
			if err != nil {
				log.Printf("[sweeper] admit for campaign=%d lead=%d failed: %v", c.ID, lead.ID, err)
				continue
			}
			if granted {
				created++
			}
		}
		// leads qualifying after this point are not retroactively scheduled
		if err := s.Campaigns.MarkMaterialized(c.ID, now); err != nil {
			return err
		}
		log.Printf("[sweeper] materialized scheduled campaign %d: %d records", c.ID, created)
	}
	return nil
}

func (s *Sweeper) enqueueDue(now time.Time) error {
	records, err := s.Dispatches.ListDue(now, s.BatchSize)
	if err != nil {
		return err
	}
	for _, rec := range records {
		err := s.Queue.Publish(TopicDispatchDue, rec.LeadID, DispatchJob{RecordID: rec.ID, LeadID: rec.LeadID})
		if err != nil {
			log.Printf("[sweeper] enqueue of record %d failed: %v", rec.ID, err)
		}
	}
	return nil
}
