package messaging

import (
	"context"
	"log"
	"sync"
	"time"

	"sos-service/internal/repository"
)

const cleanupInterval = 1 * time.Hour

type OutboxWorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Retention time.Duration
}

// OutboxWorker relays committed outbox rows to the broker.
type OutboxWorker struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	cfg        OutboxWorkerConfig
	done       chan struct{}
	wg         sync.WaitGroup
}

func NewOutboxWorker(outboxRepo *repository.OutboxRepository, publisher Publisher, cfg OutboxWorkerConfig) *OutboxWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	return &OutboxWorker{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		cfg:        cfg,
		done:       make(chan struct{}),
	}
}

func (w *OutboxWorker) Start() {
	w.wg.Add(2)
	go w.processLoop()
	go w.cleanupLoop()
	log.Println("outbox: started")
}

func (w *OutboxWorker) processLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.ProcessPending()
		}
	}
}

// ProcessPending publishes one batch of pending messages and returns how many went out.
func (w *OutboxWorker) ProcessPending() int {
	messages, err := w.outboxRepo.Pending(w.cfg.BatchSize)
	if err != nil {
		log.Printf("outbox: get pending: %v", err)
		return 0
	}

	published := 0
	for _, msg := range messages {
		// Failed rows stay pending until the retry limit
		err := w.publisher.Publish(context.Background(), msg.RoutingKey, msg.ID.String(), msg.Payload)
		if err != nil {
			log.Printf("outbox: publish %s: %v", msg.ID, err)
			if err := w.outboxRepo.MarkFailed(msg.ID, err.Error()); err != nil {
				log.Printf("outbox: mark failed %s: %v", msg.ID, err)
			}
			continue
		}

		if err := w.outboxRepo.MarkPublished(msg.ID); err != nil {
			log.Printf("outbox: mark published %s: %v", msg.ID, err)
			continue
		}
		published++
	}
	return published
}

func (w *OutboxWorker) cleanupLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			// Drop published rows past retention
			deleted, err := w.outboxRepo.DeletePublished(w.cfg.Retention)
			if err != nil {
				log.Printf("outbox: cleanup: %v", err)
			} else if deleted > 0 {
				log.Printf("outbox: cleaned %d old messages", deleted)
			}
		}
	}
}

func (w *OutboxWorker) Stop() {
	close(w.done)
	w.wg.Wait()
	log.Println("outbox: stopped")
}

func (w *OutboxWorker) Stats() (map[string]int, error) {
	return w.outboxRepo.Stats()
}
