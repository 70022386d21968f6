package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// AMQPRelay mirrors tenant events onto a RabbitMQ topic exchange.
// Routing keys have the form "tenant.<id>.<event>".
//
// Publish only enqueues; a single goroutine talks to the broker. When the
// queue is full the event is dropped, as Hub does for slow subscribers.
type AMQPRelay struct {
	conn     *amqp091.Connection
	ch       *amqp091.Channel // owned by the loop goroutine
	exchange string
	timeout  time.Duration

	send  func(Event) error
	queue chan Event
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

const relayQueueSize = 256

// DialAMQP connects to url and declares a durable topic exchange.
func DialAMQP(url, exchange string) (*AMQPRelay, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	r := &AMQPRelay{conn: conn, ch: ch, exchange: exchange, timeout: 5 * time.Second}
	r.start(r.publish, relayQueueSize)
	slog.Info("bus: amqp relay connected", "exchange", exchange)
	return r, nil
}

func (r *AMQPRelay) start(send func(Event) error, size int) {
	r.send = send
	r.queue = make(chan Event, size)
	r.done = make(chan struct{})
	go r.loop()
}

// RoutingKey builds the topic key for a tenant event.
func RoutingKey(tenantID, name string) string {
	return "tenant." + tenantID + "." + name
}

// Publish implements Publisher. It never blocks; failures are logged.
func (r *AMQPRelay) Publish(tenantID, name string, data any) {
	ev := NewEvent(tenantID, name, data)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- ev:
	default:
		slog.Warn("bus: amqp queue full, dropping event", "tenant", tenantID, "event", name)
	}
}

func (r *AMQPRelay) loop() {
	defer close(r.done)
	for ev := range r.queue {
		if err := r.send(ev); err != nil {
			slog.Error("bus: amqp publish failed", "key", RoutingKey(ev.Tenant, ev.Name), "err", err)
		}
	}
}

func (r *AMQPRelay) publish(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if r.ch == nil || r.ch.IsClosed() {
		ch, err := r.conn.Channel()
		if err != nil {
			return fmt.Errorf("open amqp channel: %w", err)
		}
		r.ch = ch
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	key := RoutingKey(ev.Tenant, ev.Name)
	err = r.ch.PublishWithContext(ctx, r.exchange, key, false, false, amqp091.Publishing{
		ContentType: "application/json",
		MessageId:   ev.ID,
		Timestamp:   ev.Time,
		Body:        body,
	})
	if err != nil {
		return err
	}
	slog.Debug("bus: amqp published", "key", key)
	return nil
}

// Close stops accepting events, drains the queue and shuts the connection.
func (r *AMQPRelay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}
