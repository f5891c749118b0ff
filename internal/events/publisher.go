// Package events publishes campaign store changes to an AMQP topic exchange.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/foxzi/reviewdesk/internal/metrics"
	"github.com/foxzi/reviewdesk/internal/store"
)

const routingPrefix = "campaign."

// Channel is the part of *amqp.Channel the publisher uses
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Message is the JSON body of a published change
type Message struct {
	store.Change
	At time.Time `json:"at"`
}

// Publisher forwards store changes without blocking the writer. Changes
// that arrive while the buffer is full are dropped and logged.
type Publisher struct {
	ch       Channel
	conn     *amqp.Connection
	exchange string
	logger   *slog.Logger
	now      func() time.Time

	queue chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Dial connects to the broker and declares a durable topic exchange
func Dial(url, exchange string, buffer int, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	p := NewPublisher(ch, exchange, buffer, logger)
	p.conn = conn
	return p, nil
}

// NewPublisher creates a publisher on an open channel
func NewPublisher(ch Channel, exchange string, buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Publisher{
		ch:       ch,
		exchange: exchange,
		logger:   logger.With("component", "events"),
		now:      time.Now,
		queue:    make(chan Message, buffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handle is a store.Listener
func (p *Publisher) Handle(c store.Change) {
	msg := Message{Change: c, At: p.now().UTC()}
	select {
	case p.queue <- msg:
	default:
		metrics.IncEventPublished(string(c.Kind), "dropped")
		p.logger.Warn("event buffer full, dropping change", "kind", c.Kind, "campaign_id", c.ID)
	}
}

// Start starts the publishing loop
func (p *Publisher) Start() {
	p.wg.Add(1)
	go p.run()
	p.logger.Info("event publisher started", "exchange", p.exchange)
}

// Stop drains queued changes, then closes the channel and connection
func (p *Publisher) Stop() {
	p.cancel()
	p.wg.Wait()

	if err := p.ch.Close(); err != nil {
		p.logger.Debug("failed to close channel", "error", err)
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.logger.Info("event publisher stopped")
}

func (p *Publisher) run() {
	defer p.wg.Done()

	for {
		select {
		case msg := <-p.queue:
			p.publish(msg)
		case <-p.ctx.Done():
			for {
				select {
				case msg := <-p.queue:
					p.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) publish(msg Message) {
	body, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("failed to marshal change", "error", err)
		return
	}

	err = p.ch.Publish(p.exchange, RoutingKey(msg.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    msg.At,
		Body:         body,
	})
	if err != nil {
		metrics.IncEventPublished(string(msg.Kind), "error")
		p.logger.Warn("failed to publish change", "kind", msg.Kind, "campaign_id", msg.ID, "error", err)
		return
	}
	metrics.IncEventPublished(string(msg.Kind), "ok")
}

// RoutingKey returns the topic for a change kind
func RoutingKey(kind store.ChangeKind) string {
	return routingPrefix + string(kind)
}
