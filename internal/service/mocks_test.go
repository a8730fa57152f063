package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	appErrors "github.com/brunoxkz/campaign-engine/internal/errors"
	"github.com/brunoxkz/campaign-engine/internal/model"
	"github.com/brunoxkz/campaign-engine/internal/sender"
)

// In-memory stores implementing the repository interfaces, mirroring the
// SQL semantics (insert-if-absent, conditional updates, CAS claim).

type memCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[int]*model.Campaign
	nextID    int
}

func newMemCampaignRepo() *memCampaignRepo {
	return &memCampaignRepo{campaigns: map[int]*model.Campaign{}, nextID: 1}
}

func (m *memCampaignRepo) Create(c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = m.nextID
	m.nextID++
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *memCampaignRepo) Update(c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.campaigns[c.ID]
	if !ok {
		return appErrors.NewCampaignNotFound(c.ID)
	}
	cp := *c
	cp.Counters = existing.Counters
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *memCampaignRepo) UpdateStatus(id int, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.Status = status
	return nil
}

func (m *memCampaignRepo) GetByID(id int) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *memCampaignRepo) ListCampaigns(offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := []*model.Campaign{}
	for _, c := range m.campaigns {
		if c.DeactivatedAt != nil {
			continue
		}
		if channel != "" && string(c.Channel) != channel {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		cp := *c
		all = append(all, &cp)
	}
	total := len(all)
	if offset >= len(all) {
		return []*model.Campaign{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (m *memCampaignRepo) ListActiveByQuiz(quizID int) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range m.campaigns {
		if c.QuizID == quizID && c.Status == model.StatusActive && c.DeactivatedAt == nil {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memCampaignRepo) ListDueScheduled(now time.Time) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range m.campaigns {
		if c.Trigger == model.TriggerScheduled && c.Status == model.StatusActive &&
			c.DeactivatedAt == nil && c.MaterializedAt == nil &&
			c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memCampaignRepo) MarkMaterialized(id int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.campaigns[id]; ok {
		c.MaterializedAt = &at
	}
	return nil
}

func (m *memCampaignRepo) SoftDeactivate(id int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.campaigns[id]; ok {
		c.DeactivatedAt = &at
		c.Status = model.StatusCompleted
	}
	return nil
}

func (m *memCampaignRepo) IncrementCounter(id int, counter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	switch counter {
	case "sent":
		c.Counters.Sent++
	case "delivered":
		c.Counters.Delivered++
	case "opened":
		c.Counters.Opened++
	case "clicked":
		c.Counters.Clicked++
	case "replied":
		c.Counters.Replied++
	case "bounced":
		c.Counters.Bounced++
	default:
		return fmt.Errorf("unknown counter %q", counter)
	}
	return nil
}

type memDispatchRepo struct {
	mu     sync.Mutex
	byID   map[int]*model.DispatchRecord
	byKey  map[string]int
	nextID int
}

func newMemDispatchRepo() *memDispatchRepo {
	return &memDispatchRepo{byID: map[int]*model.DispatchRecord{}, byKey: map[string]int{}, nextID: 1}
}

func dispatchKey(campaignID, leadID int, occurrence string) string {
	return fmt.Sprintf("%d/%d/%s", campaignID, leadID, occurrence)
}

func (m *memDispatchRepo) Admit(rec *model.DispatchRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dispatchKey(rec.CampaignID, rec.LeadID, rec.Occurrence)
	if _, exists := m.byKey[key]; exists {
		return false, nil
	}
	rec.ID = m.nextID
	m.nextID++
	if rec.Status == "" {
		rec.Status = model.DispatchPending
	}
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	cp := *rec
	m.byID[rec.ID] = &cp
	m.byKey[key] = rec.ID
	return true, nil
}

func (m *memDispatchRepo) GetByID(id int) (*model.DispatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memDispatchRepo) GetByKey(campaignID, leadID int, occurrence string) (*model.DispatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[dispatchKey(campaignID, leadID, occurrence)]
	if !ok {
		return nil, nil
	}
	cp := *m.byID[id]
	return &cp, nil
}

func (m *memDispatchRepo) GetByProviderMessageID(pmid string) (*model.DispatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.byID {
		if rec.ProviderMessageID == pmid {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memDispatchRepo) ListDue(now time.Time, limit int) ([]*model.DispatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.DispatchRecord{}
	for _, rec := range m.byID {
		if rec.Status == model.DispatchPending && !rec.DueAt.After(now) {
			cp := *rec
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memDispatchRepo) ListByCampaign(campaignID, offset, limit int) ([]*model.DispatchRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.DispatchRecord{}
	for _, rec := range m.byID {
		if rec.CampaignID == campaignID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *memDispatchRepo) StatusCounts(campaignID int) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := map[string]int{}
	for _, rec := range m.byID {
		if rec.CampaignID == campaignID {
			stats[string(rec.Status)]++
		}
	}
	return stats, nil
}

func (m *memDispatchRepo) ClaimAttempt(id, expectedAttempt int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok || rec.Status != model.DispatchPending || rec.AttemptCount != expectedAttempt {
		return false, nil
	}
	rec.AttemptCount++
	return true, nil
}

func (m *memDispatchRepo) MarkSent(id int, pmid, content string) error {
	return m.transition(id, func(rec *model.DispatchRecord) {
		rec.Status = model.DispatchSent
		rec.ProviderMessageID = pmid
		rec.RenderedContent = content
		rec.LastError = ""
	})
}

func (m *memDispatchRepo) MarkFailed(id int, lastError string) error {
	return m.transition(id, func(rec *model.DispatchRecord) {
		rec.Status = model.DispatchFailed
		rec.LastError = lastError
	})
}

func (m *memDispatchRepo) MarkSkipped(id int, status model.DispatchStatus) error {
	return m.transition(id, func(rec *model.DispatchRecord) {
		rec.Status = status
	})
}

func (m *memDispatchRepo) MarkCreditReserved(id int) error {
	return m.transition(id, func(rec *model.DispatchRecord) {
		rec.CreditReserved = true
	})
}

func (m *memDispatchRepo) Reschedule(id int, dueAt time.Time, lastError string) error {
	return m.transition(id, func(rec *model.DispatchRecord) {
		rec.DueAt = dueAt
		rec.LastError = lastError
	})
}

// transition applies fn only to pending records, like the SQL guards.
func (m *memDispatchRepo) transition(id int, fn func(*model.DispatchRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok || rec.Status.Terminal() {
		return nil
	}
	fn(rec)
	rec.UpdatedAt = time.Now()
	return nil
}

type memCreditRepo struct {
	mu       sync.Mutex
	balances map[string]int
}

func newMemCreditRepo() *memCreditRepo {
	return &memCreditRepo{balances: map[string]int{}}
}

func creditKey(userID int, ch model.Channel) string {
	return fmt.Sprintf("%d/%s", userID, ch)
}

func (m *memCreditRepo) TryReserve(userID int, ch model.Channel, count int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := creditKey(userID, ch)
	if m.balances[key] < count {
		return false, nil
	}
	m.balances[key] -= count
	return true, nil
}

func (m *memCreditRepo) Refund(userID int, ch model.Channel, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[creditKey(userID, ch)] += count
	return nil
}

func (m *memCreditRepo) Balance(userID int, ch model.Channel) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[creditKey(userID, ch)], nil
}

func (m *memCreditRepo) TopUp(userID int, ch model.Channel, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[creditKey(userID, ch)] += count
	return nil
}

type memLeadRepo struct {
	mu    sync.Mutex
	leads map[int]*model.Lead
}

func newMemLeadRepo() *memLeadRepo {
	return &memLeadRepo{leads: map[int]*model.Lead{}}
}

func (m *memLeadRepo) GetByID(id int) (*model.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (m *memLeadRepo) ListByQuiz(quizID int) ([]*model.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Lead{}
	for _, l := range m.leads {
		if l.QuizID == quizID {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memLeadRepo) Upsert(l *model.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.leads[l.ID]; ok && existing.Status.Terminal() {
		l.Status = existing.Status
	}
	cp := *l
	m.leads[l.ID] = &cp
	return nil
}

type memEventRepo struct {
	mu        sync.Mutex
	seen      map[string]bool
	campaigns *memCampaignRepo
}

func newMemEventRepo(campaigns *memCampaignRepo) *memEventRepo {
	return &memEventRepo{seen: map[string]bool{}, campaigns: campaigns}
}

func (m *memEventRepo) RecordOnce(recordID int, kind model.EventKind, campaignID int) (bool, error) {
	m.mu.Lock()
	key := fmt.Sprintf("%d/%s", recordID, kind)
	if m.seen[key] {
		m.mu.Unlock()
		return false, nil
	}
	m.seen[key] = true
	m.mu.Unlock()
	return true, m.campaigns.IncrementCounter(campaignID, string(kind))
}

// mockSender records every provider call and can fail or reject on demand.
type mockSender struct {
	mu        sync.Mutex
	calls     []sender.Message
	failTimes int
	reject    bool
	nextPMID  int
}

func (s *mockSender) Send(ctx context.Context, msg sender.Message) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, msg)
	if s.failTimes > 0 {
		s.failTimes--
		return "", false, fmt.Errorf("provider timeout")
	}
	if s.reject {
		return "", false, nil
	}
	s.nextPMID++
	return fmt.Sprintf("pm-%d", s.nextPMID), true, nil
}

func (s *mockSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// captureQueue records publishes without delivering them.
type captureQueue struct {
	mu        sync.Mutex
	published []any
}

func (q *captureQueue) Publish(topic string, key int, payload any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, payload)
	return nil
}

func (q *captureQueue) Subscribe(topic string, handler func(payload any) error) error {
	return nil
}
