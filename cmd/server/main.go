// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brunoxkz/campaign-engine/internal/config"
	"github.com/brunoxkz/campaign-engine/internal/controller"
	"github.com/brunoxkz/campaign-engine/internal/credit"
	"github.com/brunoxkz/campaign-engine/internal/db"
	"github.com/brunoxkz/campaign-engine/internal/handler"
	"github.com/brunoxkz/campaign-engine/internal/queue"
	"github.com/brunoxkz/campaign-engine/internal/repository"
	"github.com/brunoxkz/campaign-engine/internal/schedule"
	"github.com/brunoxkz/campaign-engine/internal/sender"
	"github.com/brunoxkz/campaign-engine/internal/service"
)

func main() {
	cfg, err := config.NewLoadedConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to DB: %v", err)
	}
	defer conn.Close()
	log.Println("connected to database")

	campaignRepo := &repository.CampaignRepository{DB: conn}
	dispatchRepo := &repository.DispatchRepository{DB: conn}
	leadRepo := &repository.LeadRepository{DB: conn}
	creditRepo := &repository.CreditRepository{DB: conn}
	eventRepo := &repository.DeliveryEventRepository{DB: conn}

	ledger := credit.NewLedger(creditRepo)

	q := queue.NewPartitionedQueue(cfg.Workers)

	orchestrator := &service.Orchestrator{
		Campaigns:    campaignRepo,
		Dispatches:   dispatchRepo,
		Leads:        leadRepo,
		Credits:      ledger,
		Sender:       &sender.MockSender{FailPct: cfg.SenderFailPct},
		Queue:        q,
		Scheduler:    schedule.New(),
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: time.Duration(cfg.BackoffSecs) * time.Second,
	}
	if err := orchestrator.Register(); err != nil {
		log.Fatalf("failed to register orchestrator: %v", err)
	}
	q.Start()
	defer q.Stop()

	sweeper := service.NewSweeper(campaignRepo, dispatchRepo, leadRepo, q)
	sweeper.Interval = time.Duration(cfg.SweepSeconds) * time.Second
	sweeper.Start(context.Background())
	defer sweeper.Stop()

	campaignService := &service.CampaignService{
		CampaignRepo: campaignRepo,
		LeadRepo:     leadRepo,
		DispatchRepo: dispatchRepo,
		Credits:      ledger,
	}
	tracker := &service.Tracker{
		Dispatches: dispatchRepo,
		Events:     eventRepo,
	}

	campaignController := &controller.CampaignController{
		CampaignService: campaignService,
		AMQPURL:         cfg.AMQPURL,
	}
	eventController := &controller.EventController{
		Leads:   leadRepo,
		Queue:   q,
		Tracker: tracker,
	}
	campaignHandler := &handler.CampaignHandler{
		Service:      campaignService,
		DispatchRepo: dispatchRepo,
	}

	r := chi.NewRouter()

	// Campaign lifecycle
	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Put("/campaigns/{id}", campaignController.UpdateCampaign)
	r.Post("/campaigns/{id}/activate", campaignController.Activate)
	r.Post("/campaigns/{id}/pause", campaignController.Pause)
	r.Post("/campaigns/{id}/resume", campaignController.Resume)
	r.Delete("/campaigns/{id}", campaignController.Deactivate)
	r.Post("/campaigns/{id}/send", campaignController.SendBulk)
	r.Post("/campaigns/{id}/personalized-preview", campaignController.PersonalizedPreview)

	// Inbound events
	r.Post("/events/lead", eventController.IngestLeadEvent)
	r.Post("/callbacks/delivery", eventController.DeliveryCallback)

	// Dashboard reads
	r.Get("/campaigns", campaignHandler.ListCampaigns)
	r.Get("/campaigns/{id}", campaignHandler.GetCampaignWithStats)
	r.Get("/campaigns/{id}/rates", campaignHandler.Rates)
	r.Get("/campaigns/{id}/dispatches", campaignHandler.ListDispatches)
	r.Get("/campaigns/{id}/dispatches/{lead_id}", campaignHandler.GetLeadDispatch)

	log.Println("server running on", cfg.HTTPAddr)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}
