package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/punchamoorthee/savingsledger/internal/domain"
	"github.com/punchamoorthee/savingsledger/internal/logging"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher sends a message body to an exchange under a routing key.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
	Close()
}

// AMQPPublisher publishes to a durable topic exchange on RabbitMQ.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	declared map[string]bool
	logger   *logging.Logger
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewAMQPPublisher dials with a bounded timeout so startup cannot hang.
func NewAMQPPublisher(amqpURL string, logger *logging.Logger) (*AMQPPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &AMQPPublisher{
		conn:     conn,
		channel:  ch,
		declared: make(map[string]bool),
		logger:   logger.Named("amqp"),
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.publishLocked(ctx, exchange, routingKey, body)
	if err == nil {
		return nil
	}
	p.logger.Warn("publish failed, reopening channel",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
		zap.Error(err),
	)
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return fmt.Errorf("reopen channel: %w", chErr)
	}
	p.channel.Close()
	p.channel = ch
	p.declared = make(map[string]bool)
	return p.publishLocked(ctx, exchange, routingKey, body)
}

func (p *AMQPPublisher) publishLocked(ctx context.Context, exchange, routingKey string, body []byte) error {
	if !p.declared[exchange] {
		if err := p.channel.ExchangeDeclare(
			exchange, // name
			"topic",  // type
			true,     // durable
			false,    // autoDelete
			false,    // internal
			false,    // noWait
			nil,      // args
		); err != nil {
			return err
		}
		p.declared[exchange] = true
	}
	return p.channel.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// FallbackPublisher logs and drops events. It is used when RabbitMQ is not
// configured or could not be reached at startup.
type FallbackPublisher struct {
	logger *logging.Logger
}

func NewFallbackPublisher(logger *logging.Logger) *FallbackPublisher {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &FallbackPublisher{logger: logger.Named("publisher_fallback")}
}

func (p *FallbackPublisher) Publish(_ context.Context, exchange, routingKey string, body []byte) error {
	p.logger.Warn("publish skipped",
		zap.String("exchange", exchange),
		zap.String("routing_key", routingKey),
		zap.Int("bytes", len(body)),
	)
	return nil
}

func (p *FallbackPublisher) Close() {}

// EventHook publishes each committed ledger event with its type as the
// routing key.
type EventHook struct {
	publisher Publisher
	exchange  string
}

func NewEventHook(publisher Publisher, exchange string) *EventHook {
	if exchange == "" {
		exchange = "ledger_events"
	}
	return &EventHook{publisher: publisher, exchange: exchange}
}

func (h *EventHook) Name() string { return "event_publisher" }

func (h *EventHook) AfterCommit(ctx context.Context, event domain.LedgerEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Type, err)
	}
	return h.publisher.Publish(ctx, h.exchange, string(event.Type), body)
}
