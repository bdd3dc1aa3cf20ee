package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"sos-service/internal/model"
	"sos-service/internal/repository"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	maxRetryAttempts = 3
	initialDelay     = 1 * time.Second
	maxDelay         = 30 * time.Second
)

// DispatchConsumer turns broker alert events into acknowledgments for the reporter.
// Handler failures are retried with backoff here; a user's own submission never is.
type DispatchConsumer struct {
	rmq              *RabbitMQ
	notificationRepo *repository.NotificationRepository
	processedRepo    *repository.ProcessedRepository
	hub              *Hub
	retryDelay       time.Duration
	done             chan struct{}
	wg               sync.WaitGroup
}

func NewDispatchConsumer(rmq *RabbitMQ, notificationRepo *repository.NotificationRepository, processedRepo *repository.ProcessedRepository, hub *Hub) *DispatchConsumer {
	return &DispatchConsumer{
		rmq:              rmq,
		notificationRepo: notificationRepo,
		processedRepo:    processedRepo,
		hub:              hub,
		retryDelay:       initialDelay,
		done:             make(chan struct{}),
	}
}

func (c *DispatchConsumer) Start() {
	c.wg.Add(2)
	go c.consumeQueue(QueueAlertsRaised, c.HandleAlertRaised)
	go c.consumeQueue(QueueAlertsResolved, c.HandleAlertResolved)
	log.Println("dispatch: consumers started")
}

func (c *DispatchConsumer) consumeQueue(queueName string, handler func([]byte) error) {
	defer c.wg.Done()

	for {
		select {
		case <-c.done:
			log.Printf("consumer %s: stopping", queueName)
			return
		default:
		}

		msgs, err := c.rmq.ConsumeQueue(queueName)
		if err != nil {
			log.Printf("consumer %s: %v, retrying in %v", queueName, err, reconnectDelay)
			select {
			case <-c.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		log.Printf("consumer %s: listening for messages", queueName)
		c.processQueue(queueName, msgs, handler)
	}
}

func (c *DispatchConsumer) processQueue(queueName string, msgs <-chan amqp.Delivery, handler func([]byte) error) {
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				log.Printf("consumer %s: channel closed, reconnecting", queueName)
				return
			}
			c.process(queueName, msg, handler)
		}
	}
}

func (c *DispatchConsumer) process(queueName string, msg amqp.Delivery, handler func([]byte) error) {
	messageID := msg.MessageId
	if messageID == "" {
		messageID = fmt.Sprintf("%x", msg.Body[:min(32, len(msg.Body))])
	}

	// Skip redeliveries
	processed, err := c.processedRepo.IsMessageProcessed(messageID)
	if err != nil {
		log.Printf("%s: idempotency check failed: %v", queueName, err)
	}
	if processed {
		log.Printf("%s: %s already processed", queueName, messageID)
		msg.Ack(false)
		return
	}

	// Nack without requeue routes the message to its DLQ
	if err := c.handleWithRetry(queueName, msg.Body, handler); err != nil {
		log.Printf("%s: failed, sending to DLQ: %v", queueName, err)
		msg.Nack(false, false)
		return
	}

	if err := c.processedRepo.MarkMessageProcessed(messageID); err != nil {
		log.Printf("%s: mark processed failed: %v", queueName, err)
	}
	msg.Ack(false)
}

func (c *DispatchConsumer) handleWithRetry(queueName string, body []byte, handler func([]byte) error) error {
	return retry.Do(
		func() error {
			return handler(body)
		},
		retry.Attempts(maxRetryAttempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("%s: retry %d: %v", queueName, n+1, err)
		}),
	)
}

func (c *DispatchConsumer) HandleAlertRaised(body []byte) error {
	var raised model.AlertRaisedMessage
	if err := json.Unmarshal(body, &raised); err != nil {
		return retry.Unrecoverable(fmt.Errorf("alert_raised: bad json: %w", err))
	}

	alertID, reporterID, err := parseIDs(raised.AlertID, raised.ReporterID)
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("alert_raised: %w", err))
	}

	log.Printf("dispatch: %s alert %s from %s at %q", raised.Priority, raised.AlertID, raised.ReporterName, raised.LocationText)

	return c.notify(reporterID, alertID,
		"Emergency Alert Received",
		fmt.Sprintf("Dispatch received your %s alert (priority: %s). Stay where you are if it is safe.",
			humanize(raised.AlertType), raised.Priority),
	)
}

func (c *DispatchConsumer) HandleAlertResolved(body []byte) error {
	var resolved model.AlertResolvedMessage
	if err := json.Unmarshal(body, &resolved); err != nil {
		return retry.Unrecoverable(fmt.Errorf("alert_resolved: bad json: %w", err))
	}

	alertID, reporterID, err := parseIDs(resolved.AlertID, resolved.ReporterID)
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("alert_resolved: %w", err))
	}

	return c.notify(reporterID, alertID,
		"Emergency Alert Resolved",
		fmt.Sprintf("Your %s alert has been marked resolved by dispatch.", humanize(resolved.AlertType)),
	)
}

func (c *DispatchConsumer) notify(userID, alertID uuid.UUID, title, message string) error {
	notification := &model.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		AlertID:   &alertID,
		Title:     title,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if err := c.notificationRepo.Create(notification); err != nil {
		return err
	}

	c.hub.Notify(model.SessionEvent{
		Type:         model.EventNotification,
		UserID:       userID,
		ReportID:     &alertID,
		Notification: notification,
		Timestamp:    notification.CreatedAt,
	})
	return nil
}

func (c *DispatchConsumer) Stop() {
	close(c.done)
	c.wg.Wait()
	log.Println("dispatch: consumers stopped")
}

func parseIDs(alertID, reporterID string) (uuid.UUID, uuid.UUID, error) {
	aid, err := uuid.Parse(alertID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("bad alert_id: %w", err)
	}
	rid, err := uuid.Parse(reporterID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("bad reporter_id: %w", err)
	}
	return aid, rid, nil
}

func humanize(alertType string) string {
	switch model.AlertType(alertType) {
	case model.AlertMedicalEmergency:
		return "medical emergency"
	case model.AlertBusAccident:
		return "bus accident"
	case model.AlertFireInBus:
		return "fire in bus"
	case model.AlertBusBreakdown:
		return "bus breakdown"
	case model.AlertBrakeFailure:
		return "brake failure"
	case model.AlertHarassment:
		return "harassment"
	case model.AlertSafetyConcern:
		return "safety concern"
	case model.AlertSOSPanic:
		return "SOS"
	}
	return "emergency"
}
