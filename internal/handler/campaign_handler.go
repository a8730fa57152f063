// internal/handler/campaign_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/brunoxkz/campaign-engine/internal/repository"
	"github.com/brunoxkz/campaign-engine/internal/service"
)

// CampaignHandler serves the read-only dashboard surface: campaign
// listings, counter rollups and per-record audit views.
type CampaignHandler struct {
	Service      *service.CampaignService
	DispatchRepo repository.DispatchRepositoryInterface
}

// ListCampaigns returns a paginated list of campaigns
func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	channel := r.URL.Query().Get("channel")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := h.Service.ListCampaigns(page, pageSize, channel, status)
	if err != nil {
		http.Error(w, "failed to fetch campaigns: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

// GetCampaignWithStats returns one campaign with its delivery counters
// and per-status dispatch counts.
func (h *CampaignHandler) GetCampaignWithStats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	details, err := h.Service.GetCampaignDetailsWithStats(id)
	if err != nil {
		http.Error(w, "failed to fetch campaign: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(details)
}

// ListDispatches returns the campaign's dispatch records for audit views.
func (h *CampaignHandler) ListDispatches(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	records, total, err := h.DispatchRepo.ListByCampaign(id, (page-1)*pageSize, pageSize)
	if err != nil {
		http.Error(w, "failed to fetch dispatch records: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":        records,
		"total_count": total,
		"page":        page,
		"page_size":   pageSize,
	})
}

// GetLeadDispatch answers "why was this lead skipped" for one
// (campaign, lead) pair.
func (h *CampaignHandler) GetLeadDispatch(w http.ResponseWriter, r *http.Request) {
	campaignID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}
	leadID, err := strconv.Atoi(chi.URLParam(r, "lead_id"))
	if err != nil {
		http.Error(w, "invalid lead id", http.StatusBadRequest)
		return
	}

	reason, rec, err := h.Service.SkipReason(campaignID, leadID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "no dispatch record for lead", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"record":      rec,
		"skip_reason": reason,
	})
}

// Rates computes engagement rates against sent, never against total
// leads, so dashboards reflect what actually left the system.
func (h *CampaignHandler) Rates(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	details, err := h.Service.GetCampaignDetailsWithStats(id)
	if err != nil {
		http.Error(w, "failed to fetch campaign: "+err.Error(), http.StatusInternalServerError)
		return
	}

	c := details.Counters
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"sent":           c.Sent,
		"delivered_rate": rate(c.Delivered, c.Sent),
		"open_rate":      rate(c.Opened, c.Sent),
		"click_rate":     rate(c.Clicked, c.Sent),
		"reply_rate":     rate(c.Replied, c.Sent),
	})
}

func rate(count, sent int) float64 {
	if sent == 0 {
		return 0
	}
	return float64(count) / float64(sent)
}
