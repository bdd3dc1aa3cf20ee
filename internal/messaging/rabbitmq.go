package messaging

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeName    = "sos.alerts"
	DLXExchangeName = "sos.alerts.dlx"

	QueueAlertsRaised   = "queue.alerts_raised"
	QueueAlertsResolved = "queue.alerts_resolved"

	RoutingKeyAlertRaised   = "emergency.alert.raised"
	RoutingKeyAlertResolved = "emergency.alert.resolved"

	reconnectDelay = 5 * time.Second
	publishTimeout = 5 * time.Second
	prefetchCount  = 10
	dlqMessageTTL  = int64(7 * 24 * time.Hour / time.Millisecond)
)

type QueueConfig struct {
	QueueName     string
	RoutingKey    string
	DLQName       string
	DLQRoutingKey string
}

var QueueConfigs = []QueueConfig{
	{
		QueueName:     QueueAlertsRaised,
		RoutingKey:    RoutingKeyAlertRaised,
		DLQName:       QueueAlertsRaised + ".dlq",
		DLQRoutingKey: "dlq.alerts_raised",
	},
	{
		QueueName:     QueueAlertsResolved,
		RoutingKey:    RoutingKeyAlertResolved,
		DLQName:       QueueAlertsResolved + ".dlq",
		DLQRoutingKey: "dlq.alerts_resolved",
	},
}

// Publisher sends a JSON body to the alerts exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey, messageID string, body []byte) error
}

type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	url     string
	mu      sync.RWMutex
	done    chan struct{}
}

func NewRabbitMQ(host, port, user, password string) (*RabbitMQ, error) {
	rmq := &RabbitMQ{
		url:  fmt.Sprintf("amqp://%s:%s@%s:%s/", user, password, host, port),
		done: make(chan struct{}),
	}

	if err := rmq.connect(); err != nil {
		return nil, err
	}

	go rmq.handleReconnect()

	return rmq, nil
}

func (r *RabbitMQ) connect() error {
	var err error

	r.conn, err = amqp.Dial(r.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	r.channel, err = r.conn.Channel()
	if err != nil {
		r.conn.Close()
		return fmt.Errorf("channel: %w", err)
	}

	// Set QoS prefetch limit
	if err := r.channel.Qos(prefetchCount, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}

	// Declare main exchange and Dead Letter Exchange (DLX)
	for _, exchange := range []string{ExchangeName, DLXExchangeName} {
		err = r.channel.ExchangeDeclare(
			exchange,
			"topic",
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("exchange declare %s: %w", exchange, err)
		}
	}

	for _, qc := range QueueConfigs {
		if err := r.declareQueue(qc); err != nil {
			return err
		}
	}

	log.Println("rabbitmq: connected with DLQ configuration")
	return nil
}

func (r *RabbitMQ) declareQueue(qc QueueConfig) error {
	// Declare DLQ first
	_, err := r.channel.QueueDeclare(
		qc.DLQName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-message-ttl": dlqMessageTTL},
	)
	if err != nil {
		return fmt.Errorf("dlq declare %s: %w", qc.DLQName, err)
	}

	if err := r.channel.QueueBind(qc.DLQName, qc.DLQRoutingKey, DLXExchangeName, false, nil); err != nil {
		return fmt.Errorf("dlq bind %s: %w", qc.DLQName, err)
	}

	// Declare main queue with DLX configuration
	_, err = r.channel.QueueDeclare(
		qc.QueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    DLXExchangeName,
			"x-dead-letter-routing-key": qc.DLQRoutingKey,
		},
	)
	if err != nil {
		return fmt.Errorf("queue declare %s: %w", qc.QueueName, err)
	}

	if err := r.channel.QueueBind(qc.QueueName, qc.RoutingKey, ExchangeName, false, nil); err != nil {
		return fmt.Errorf("bind %s->%s: %w", qc.QueueName, qc.RoutingKey, err)
	}
	return nil
}

func (r *RabbitMQ) handleReconnect() {
	for {
		r.mu.RLock()
		closed := r.conn.NotifyClose(make(chan *amqp.Error, 1))
		r.mu.RUnlock()

		select {
		case <-r.done:
			return
		case err := <-closed:
			if err != nil {
				log.Printf("rabbitmq: disconnected: %v", err)
			}

			r.mu.Lock()
			for {
				if err := r.connect(); err != nil {
					log.Printf("rabbitmq: reconnect failed: %v", err)
					select {
					case <-r.done:
						r.mu.Unlock()
						return
					case <-time.After(reconnectDelay):
					}
					continue
				}
				break
			}
			r.mu.Unlock()
		}
	}
}

func (r *RabbitMQ) Publish(ctx context.Context, routingKey, messageID string, body []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.channel == nil {
		return fmt.Errorf("channel not available")
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := r.channel.PublishWithContext(
		ctx,
		ExchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (r *RabbitMQ) ConsumeQueue(queueName string) (<-chan amqp.Delivery, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.channel == nil {
		return nil, fmt.Errorf("channel not available")
	}

	msgs, err := r.channel.Consume(
		queueName,
		"",    // consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queueName, err)
	}
	return msgs, nil
}

// QueueDepths reports ready message counts for the main queues and their DLQs.
func (r *RabbitMQ) QueueDepths() (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.channel == nil {
		return nil, fmt.Errorf("channel not available")
	}

	depths := make(map[string]int)
	for _, qc := range QueueConfigs {
		for _, name := range []string{qc.QueueName, qc.DLQName} {
			q, err := r.channel.QueueDeclarePassive(name, true, false, false, false, nil)
			if err != nil {
				return nil, fmt.Errorf("inspect %s: %w", name, err)
			}
			depths[name] = q.Messages
		}
	}
	return depths, nil
}

func (r *RabbitMQ) Close() {
	close(r.done)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
	log.Println("rabbitmq: connection closed")
}
