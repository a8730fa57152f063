package main

import (
	"encoding/json"
	"log"
	"time"

	"github.com/streadway/amqp"

	"github.com/brunoxkz/campaign-engine/internal/config"
	"github.com/brunoxkz/campaign-engine/internal/controller"
	"github.com/brunoxkz/campaign-engine/internal/credit"
	"github.com/brunoxkz/campaign-engine/internal/db"
	"github.com/brunoxkz/campaign-engine/internal/queue"
	"github.com/brunoxkz/campaign-engine/internal/repository"
	"github.com/brunoxkz/campaign-engine/internal/schedule"
	"github.com/brunoxkz/campaign-engine/internal/sender"
	"github.com/brunoxkz/campaign-engine/internal/service"
)

// QueueJob is the wire shape published by the bulk-send endpoint.
type QueueJob struct {
	DispatchRecordID int `json:"dispatch_record_id"`
}

func main() {
	cfg, err := config.NewLoadedConfig()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to DB:", err)
	}
	defer conn.Close()

	campaignRepo := &repository.CampaignRepository{DB: conn}
	dispatchRepo := &repository.DispatchRepository{DB: conn}
	leadRepo := &repository.LeadRepository{DB: conn}
	creditRepo := &repository.CreditRepository{DB: conn}

	// local partitioned queue so immediate follow-ups stay serialized per
	// lead inside this process too
	q := queue.NewPartitionedQueue(cfg.Workers)
	orchestrator := &service.Orchestrator{
		Campaigns:    campaignRepo,
		Dispatches:   dispatchRepo,
		Leads:        leadRepo,
		Credits:      credit.NewLedger(creditRepo),
		Sender:       &sender.MockSender{FailPct: cfg.SenderFailPct},
		Queue:        q,
		Scheduler:    schedule.New(),
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: time.Duration(cfg.BackoffSecs) * time.Second,
	}
	if err := orchestrator.Register(); err != nil {
		log.Fatal("failed to register orchestrator:", err)
	}
	q.Start()
	defer q.Stop()

	// Connect to RabbitMQ
	amqpConn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		log.Fatal("failed to connect to RabbitMQ:", err)
	}
	defer amqpConn.Close()

	ch, err := amqpConn.Channel()
	if err != nil {
		log.Fatal("failed to open a channel:", err)
	}
	defer ch.Close()

	declared, err := ch.QueueDeclare(
		controller.DispatchQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		log.Fatal("failed to declare queue:", err)
	}

	msgs, err := ch.Consume(
		declared.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		log.Fatal("failed to register consumer:", err)
	}

	forever := make(chan bool)

	go func() {
		for d := range msgs {
			var job QueueJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				log.Println("invalid job:", err)
				d.Ack(false)
				continue
			}

			// Dispatch is idempotent: claimed attempts and terminal states
			// make redelivery safe
			if err := orchestrator.Dispatch(job.DispatchRecordID); err != nil {
				log.Println("failed to dispatch record:", job.DispatchRecordID, err)
				var retryCount int32
				if v, ok := d.Headers["x-retry-count"].(int32); ok {
					retryCount = v
				}
				if int(retryCount) < cfg.MaxAttempts {
					d.Nack(false, true) // requeue
					continue
				}
			}

			d.Ack(false)
		}
	}()

	log.Println("worker running, waiting for messages...")
	<-forever
}
