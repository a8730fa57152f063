// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/streadway/amqp"

	appErrors "github.com/brunoxkz/campaign-engine/internal/errors"
	"github.com/brunoxkz/campaign-engine/internal/model"
	"github.com/brunoxkz/campaign-engine/internal/service"
)

// DispatchQueueName is the durable RabbitMQ queue consumed by the
// out-of-process dispatch worker.
const DispatchQueueName = "campaign_sends"

type CampaignController struct {
	CampaignService *service.CampaignService
	AMQPURL         string
}

type campaignBody struct {
	UserID       int                    `json:"user_id"`
	Name         string                 `json:"name"`
	Channel      string                 `json:"channel"`
	QuizID       int                    `json:"quiz_id"`
	Audience     string                 `json:"audience"`
	Filters      []model.Filter         `json:"filters"`
	Template     string                 `json:"template"`
	Subject      string                 `json:"subject"`
	MediaRef     string                 `json:"media_ref"`
	Buckets      []model.TemplateBucket `json:"buckets"`
	Trigger      string                 `json:"trigger"`
	DelaySeconds int                    `json:"delay_seconds"`
	ScheduledAt  *string                `json:"scheduled_at"`
}

func (b *campaignBody) toModel() (*model.Campaign, error) {
	c := &model.Campaign{
		UserID:       b.UserID,
		Name:         b.Name,
		Channel:      model.Channel(b.Channel),
		QuizID:       b.QuizID,
		Audience:     model.Audience(b.Audience),
		Filters:      b.Filters,
		Template:     b.Template,
		Subject:      b.Subject,
		MediaRef:     b.MediaRef,
		Buckets:      b.Buckets,
		Trigger:      model.TriggerKind(b.Trigger),
		DelaySeconds: b.DelaySeconds,
	}
	if b.ScheduledAt != nil {
		t, err := time.Parse(time.RFC3339, *b.ScheduledAt)
		if err != nil {
			return nil, err
		}
		c.ScheduledAt = &t
	}
	return c, nil
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body campaignBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	campaign, err := body.toModel()
	if err != nil {
		http.Error(w, "invalid scheduled_at: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := c.CampaignService.CreateCampaign(campaign); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(campaign)
}

func (c *CampaignController) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	var body campaignBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	campaign, err := body.toModel()
	if err != nil {
		http.Error(w, "invalid scheduled_at: "+err.Error(), http.StatusBadRequest)
		return
	}
	campaign.ID = id

	if err := c.CampaignService.UpdateCampaign(campaign); err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(campaign)
}

func (c *CampaignController) Activate(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(w, r, c.CampaignService.Activate)
}

func (c *CampaignController) Pause(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(w, r, c.CampaignService.Pause)
}

func (c *CampaignController) Resume(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(w, r, c.CampaignService.Resume)
}

func (c *CampaignController) Deactivate(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(w, r, c.CampaignService.Deactivate)
}

func (c *CampaignController) lifecycle(w http.ResponseWriter, r *http.Request, op func(int) error) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}
	if err := op(id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"id": id, "ok": true})
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	campaignID, _ := strconv.Atoi(chi.URLParam(r, "id"))

	var body struct {
		LeadID           int     `json:"lead_id"`
		OverrideTemplate *string `json:"override_template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	rendered, err := c.CampaignService.RenderPreview(campaignID, body.LeadID, body.OverrideTemplate)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"rendered_message": rendered,
		"lead_id":          body.LeadID,
	})
}

// SendBulk runs a CSV-style bulk send: the service reserves credits
// all-or-nothing and fans out records, then each record id goes onto the
// durable queue for the dispatch worker.
func (c *CampaignController) SendBulk(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))

	var body struct {
		LeadIDs []int `json:"lead_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if len(body.LeadIDs) == 0 {
		http.Error(w, "lead_ids cannot be empty", http.StatusBadRequest)
		return
	}

	result, err := c.CampaignService.SendBulk(id, body.LeadIDs)
	if err != nil {
		var insufficient *appErrors.ErrInsufficientCredit
		if errors.As(err, &insufficient) {
			// all records were written as skipped_no_credit; report, never
			// silently drop
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(result)
			return
		}
		writeServiceError(w, err)
		return
	}

	if err := c.publishDispatches(result.RecordIDs); err != nil {
		log.Println("failed to publish bulk records:", err)
		http.Error(w, "failed to enqueue messages", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (c *CampaignController) publishDispatches(recordIDs []int) error {
	conn, err := amqp.Dial(c.AMQPURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		DispatchQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return err
	}

	for _, recID := range recordIDs {
		body, _ := json.Marshal(map[string]int{"dispatch_record_id": recID})
		err = ch.Publish(
			"",
			q.Name,
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Body:         body,
			},
		)
		if err != nil {
			log.Println("failed to publish record:", recID, err)
		}
	}
	return nil
}

// writeServiceError maps service sentinel errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var notFound *appErrors.ErrCampaignNotFound
	var leadNotFound *appErrors.ErrLeadNotFound
	var invalidState *appErrors.ErrInvalidCampaignState
	switch {
	case errors.As(err, &notFound), errors.As(err, &leadNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &invalidState):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
