// internal/controller/event_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	appErrors "github.com/brunoxkz/campaign-engine/internal/errors"
	"github.com/brunoxkz/campaign-engine/internal/model"
	"github.com/brunoxkz/campaign-engine/internal/queue"
	"github.com/brunoxkz/campaign-engine/internal/repository"
	"github.com/brunoxkz/campaign-engine/internal/service"
)

// EventController adapts the two inbound event streams: quiz funnel
// transitions from the QuizEventSource, and delivery callbacks from the
// providers.
type EventController struct {
	Leads   repository.LeadRepositoryInterface
	Queue   queue.Queue
	Tracker *service.Tracker
}

// IngestLeadEvent persists the lead snapshot carried by the event and
// hands it to the orchestrator. The engine itself treats leads as
// read-only; this adapter is the single writer.
func (c *EventController) IngestLeadEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LeadID     int               `json:"lead_id"`
		QuizID     int               `json:"quiz_id"`
		Status     string            `json:"funnel_status"`
		Phone      string            `json:"phone"`
		Email      string            `json:"email"`
		Variables  map[string]string `json:"variables"`
		OccurredAt *time.Time        `json:"occurred_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.LeadID == 0 || body.QuizID == 0 {
		http.Error(w, "lead_id and quiz_id are required", http.StatusBadRequest)
		return
	}
	status := model.FunnelStatus(body.Status)
	switch status {
	case model.FunnelInProgress, model.FunnelCompleted, model.FunnelAbandoned:
	default:
		http.Error(w, "unknown funnel_status", http.StatusBadRequest)
		return
	}

	occurredAt := time.Now()
	if body.OccurredAt != nil {
		occurredAt = *body.OccurredAt
	}

	lead := &model.Lead{
		ID:             body.LeadID,
		QuizID:         body.QuizID,
		Phone:          body.Phone,
		Email:          body.Email,
		Status:         status,
		Variables:      body.Variables,
		LastActivityAt: occurredAt,
	}
	if err := c.Leads.Upsert(lead); err != nil {
		http.Error(w, "failed to record lead: "+err.Error(), http.StatusInternalServerError)
		return
	}

	ev := model.LeadEvent{
		LeadID:     body.LeadID,
		QuizID:     body.QuizID,
		Status:     status,
		Variables:  body.Variables,
		OccurredAt: occurredAt,
	}
	if err := c.Queue.Publish(service.TopicLeadEvents, ev.LeadID, ev); err != nil {
		http.Error(w, "failed to enqueue event: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{"accepted": true})
}

// DeliveryCallback ingests a provider status callback. Redelivered
// callbacks collapse onto the same counter, so providers may retry freely.
func (c *EventController) DeliveryCallback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProviderMessageID string `json:"provider_message_id"`
		Kind              string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.ProviderMessageID == "" {
		http.Error(w, "provider_message_id is required", http.StatusBadRequest)
		return
	}
	kind := model.EventKind(body.Kind)
	if !model.ValidEventKind(kind) {
		http.Error(w, "unknown event kind", http.StatusBadRequest)
		return
	}

	if err := c.Tracker.RecordByProviderMessageID(body.ProviderMessageID, kind); err != nil {
		var notFound *appErrors.ErrDispatchNotFound
		if errors.As(err, &notFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]any{"recorded": true})
}
