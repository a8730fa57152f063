// internal/service/campaign_service.go
package service

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/brunoxkz/campaign-engine/internal/credit"
	appErrors "github.com/brunoxkz/campaign-engine/internal/errors"
	"github.com/brunoxkz/campaign-engine/internal/model"
	"github.com/brunoxkz/campaign-engine/internal/repository"
	"github.com/brunoxkz/campaign-engine/internal/template"
)

// CampaignService covers the user-facing campaign operations: lifecycle,
// listing, previews and bulk (CSV-style) sends.
type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	LeadRepo     repository.LeadRepositoryInterface
	DispatchRepo repository.DispatchRepositoryInterface
	Credits      *credit.Ledger
}

// BulkSendResult reports what a bulk send produced.
type BulkSendResult struct {
	CampaignID     int    `json:"campaign_id"`
	MessagesQueued int    `json:"messages_queued"`
	Skipped        int    `json:"skipped"`
	Status         string `json:"status"`
	RecordIDs      []int  `json:"record_ids"`
}

type CampaignDetails struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
}

// OccurrenceBulk keys records created by explicit bulk sends.
const OccurrenceBulk = "bulk"

// ====================== Lifecycle ======================

func (s *CampaignService) CreateCampaign(c *model.Campaign) error {
	if err := validateCampaign(c); err != nil {
		return err
	}
	c.Status = model.StatusDraft
	return s.CampaignRepo.Create(c)
}

// UpdateCampaign edits a campaign. Only draft and paused campaigns are
// editable; an active campaign must be paused first.
func (s *CampaignService) UpdateCampaign(c *model.Campaign) error {
	existing, err := s.CampaignRepo.GetByID(c.ID)
	if err != nil {
		return err
	}
	if existing.Status != model.StatusDraft && existing.Status != model.StatusPaused {
		return appErrors.NewInvalidCampaignState(c.ID, existing.Status, "be edited")
	}
	if err := validateCampaign(c); err != nil {
		return err
	}
	c.Status = existing.Status
	return s.CampaignRepo.Update(c)
}

func (s *CampaignService) Activate(id int) error {
	return s.transition(id, "be activated", model.StatusActive, model.StatusDraft, model.StatusPaused)
}

// Pause freezes the campaign: pending records stop transitioning to sent
// until resume. The check is re-done at dispatch time, not only here.
func (s *CampaignService) Pause(id int) error {
	return s.transition(id, "be paused", model.StatusPaused, model.StatusActive)
}

func (s *CampaignService) Resume(id int) error {
	return s.transition(id, "be resumed", model.StatusActive, model.StatusPaused)
}

// Deactivate soft-deletes: the campaign disappears from listings but its
// counters stay queryable forever.
func (s *CampaignService) Deactivate(id int) error {
	if _, err := s.CampaignRepo.GetByID(id); err != nil {
		return err
	}
	return s.CampaignRepo.SoftDeactivate(id, time.Now())
}

func (s *CampaignService) transition(id int, op, to string, from ...string) error {
	c, err := s.CampaignRepo.GetByID(id)
	if err != nil {
		return err
	}
	for _, f := range from {
		if c.Status == f {
			return s.CampaignRepo.UpdateStatus(id, to)
		}
	}
	return appErrors.NewInvalidCampaignState(id, c.Status, op)
}

// ====================== Queries ======================

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(page, pageSize int, channel, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(offset, pageSize, channel, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// GetCampaignDetailsWithStats returns the campaign, its rollup counters
// and the per-status dispatch record counts for audit views.
func (s *CampaignService) GetCampaignDetailsWithStats(campaignID int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}

	stats, err := s.DispatchRepo.StatusCounts(campaignID)
	if err != nil {
		return nil, err
	}

	return &CampaignDetails{Campaign: campaign, Stats: stats}, nil
}

// SkipReason explains why a lead was not messaged by a campaign:
// no_credit, unqualified or paused. Empty when the lead was sent or has
// no record.
func (s *CampaignService) SkipReason(campaignID, leadID int) (string, *model.DispatchRecord, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return "", nil, err
	}
	var rec *model.DispatchRecord
	for _, occ := range []string{
		string(model.FunnelCompleted),
		string(model.FunnelAbandoned),
		model.OccurrenceScheduled,
		OccurrenceBulk,
	} {
		rec, err = s.DispatchRepo.GetByKey(campaignID, leadID, occ)
		if err != nil {
			return "", nil, err
		}
		if rec != nil {
			break
		}
	}
	if rec == nil {
		return "", nil, nil
	}
	return rec.SkipReason(campaign.Status), rec, nil
}

// ====================== Preview ======================

// RenderPreview renders the campaign template (or an override) against
// one lead's variables, exactly as the dispatch path would.
func (s *CampaignService) RenderPreview(campaignID, leadID int, overrideTemplate *string) (string, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return "", err
	}

	lead, err := s.LeadRepo.GetByID(leadID)
	if err != nil {
		return "", err
	}
	if lead == nil {
		return "", appErrors.NewLeadNotFound(leadID)
	}

	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		return template.Render(*overrideTemplate, lead.Variables), nil
	}

	res, err := template.ForCampaign(campaign, lead)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// ====================== Bulk send ======================

// SendBulk fans one campaign out to an explicit lead list. Credits for
// the whole list are reserved as a single all-or-nothing unit before any
// record is queued: a bulk run never partially sends because the balance
// ran out mid-way. On a failed reservation every lead still gets an
// auditable skipped_no_credit record.
func (s *CampaignService) SendBulk(campaignID int, leadIDs []int) (*BulkSendResult, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.StatusActive {
		return nil, appErrors.NewInvalidCampaignState(campaignID, campaign.Status, "send")
	}

	result := &BulkSendResult{CampaignID: campaignID, RecordIDs: []int{}}

	ok, err := s.Credits.TryReserve(campaign.UserID, campaign.Channel, len(leadIDs))
	if err != nil {
		return nil, err
	}
	if !ok {
		now := time.Now()
		for _, leadID := range leadIDs {
			rec := &model.DispatchRecord{
				CampaignID: campaignID,
				LeadID:     leadID,
				Occurrence: OccurrenceBulk,
				DueAt:      now,
				Status:     model.DispatchSkippedNoCredit,
			}
			if _, err := s.DispatchRepo.Admit(rec); err != nil {
				log.Printf("bulk send: recording no-credit skip for lead %d failed: %v", leadID, err)
				continue
			}
			result.Skipped++
		}
		result.Status = string(model.DispatchSkippedNoCredit)
		return result, appErrors.NewInsufficientCredit(campaign.UserID, string(campaign.Channel), len(leadIDs))
	}

	now := time.Now()
	duplicates := 0
	for _, leadID := range leadIDs {
		rec := &model.DispatchRecord{
			CampaignID:     campaignID,
			LeadID:         leadID,
			Occurrence:     OccurrenceBulk,
			DueAt:          now,
			CreditReserved: true,
		}
		granted, err := s.DispatchRepo.Admit(rec)
		if err != nil {
			log.Printf("bulk send: admit for lead %d failed: %v", leadID, err)
			duplicates++
			continue
		}
		if !granted {
			duplicates++
			continue
		}
		result.RecordIDs = append(result.RecordIDs, rec.ID)
		result.MessagesQueued++
	}

	// leads already dispatched by an earlier bulk run keep their record;
	// give their share of the reservation back
	if duplicates > 0 {
		if err := s.Credits.Refund(campaign.UserID, campaign.Channel, duplicates); err != nil {
			log.Printf("bulk send: refund of %d unused credits failed: %v", duplicates, err)
		}
	}

	result.Status = "queued"
	return result, nil
}

func validateCampaign(c *model.Campaign) error {
	switch c.Channel {
	case model.ChannelSMS, model.ChannelEmail, model.ChannelWhatsApp:
	default:
		return fmt.Errorf("unknown channel %q", c.Channel)
	}
	switch c.Audience {
	case model.AudienceAll, model.AudienceCompleted, model.AudienceAbandoned:
	default:
		return fmt.Errorf("unknown audience %q", c.Audience)
	}
	switch c.Trigger {
	case model.TriggerImmediate:
	case model.TriggerDelayed:
		if c.DelaySeconds <= 0 {
			return fmt.Errorf("delayed trigger requires a positive delay")
		}
	case model.TriggerScheduled:
		if c.ScheduledAt == nil {
			return fmt.Errorf("scheduled trigger requires a datetime")
		}
	default:
		return fmt.Errorf("unknown trigger %q", c.Trigger)
	}
	if strings.TrimSpace(c.Template) == "" {
		return fmt.Errorf("template cannot be empty")
	}
	if c.Channel == model.ChannelEmail && strings.TrimSpace(c.Subject) == "" {
		return fmt.Errorf("email campaigns require a subject")
	}
	return nil
}
