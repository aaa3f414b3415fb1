package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

var ErrNacked = errors.New("broker nacked message")

// Properties is the delivery metadata sent with every message.
type Properties struct {
	ContentType   string
	CorrelationID string
	MessageID     string
	Type          string
	Persistent    bool
	Timestamp     time.Time
	Headers       map[string]any
}

// Session is one broker connection. It is opened for a single publish
// attempt and must be closed on every exit path.
type Session interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte, props Properties) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Session, error)

func (f DialerFunc) Dial(ctx context.Context) (Session, error) { return f(ctx) }

// AMQPDialer opens a fresh RabbitMQ connection and channel per Dial.
// Exchanges are declared lazily as topic exchanges; with Confirm set every
// publish waits for the broker's ack or nack.
type AMQPDialer struct {
	URL          string
	ExchangeKind string
	Confirm      bool
	DialTimeout  time.Duration
	Logger       *slog.Logger

	// Connect overrides amqp091.DialConfig, for tests.
	Connect func(url string, cfg amqp091.Config) (*amqp091.Connection, error)
}

func (d *AMQPDialer) Dial(ctx context.Context) (Session, error) {
	if d.URL == "" {
		return nil, errors.New("amqp url is required")
	}
	// amqp091 has no ctx-aware dial; bound it by the ctx deadline instead.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	connect := d.Connect
	if connect == nil {
		connect = amqp091.DialConfig
	}
	conn, err := connect(d.URL, amqp091.Config{
		Dial:      amqp091.DefaultDial(timeout),
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if d.Confirm {
		if err := ch.Confirm(false); err != nil {
			_ = SafeClose(ch)
			conn.Close()
			return nil, fmt.Errorf("confirm mode: %w", err)
		}
	}
	return &amqpSession{
		conn:     conn,
		ch:       ch,
		kind:     FirstNonEmpty(d.ExchangeKind, "topic"),
		confirm:  d.Confirm,
		declared: make(map[string]struct{}),
		log:      d.Logger,
	}, nil
}

type amqpSession struct {
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	kind     string
	confirm  bool
	declared map[string]struct{}
	log      *slog.Logger
}

func (s *amqpSession) Publish(ctx context.Context, exchange, key string, body []byte, p Properties) error {
	if _, ok := s.declared[exchange]; !ok {
		if err := s.ch.ExchangeDeclare(exchange, s.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %q: %w", exchange, err)
		}
		s.declared[exchange] = struct{}{}
	}

	msg := amqp091.Publishing{
		ContentType:   FirstNonEmpty(p.ContentType, "application/json"),
		CorrelationId: p.CorrelationID,
		MessageId:     p.MessageID,
		Type:          p.Type,
		Timestamp:     p.Timestamp,
		Headers:       amqp091.Table(p.Headers),
		Body:          body,
	}
	if p.Persistent {
		msg.DeliveryMode = amqp091.Persistent
	}

	dc, err := s.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	if !s.confirm || dc == nil {
		return nil
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm: %w", err)
	}
	if !acked {
		return ErrNacked
	}
	if s.log != nil {
		s.log.Debug("published", slog.String("exchange", exchange), slog.String("key", key))
	}
	return nil
}

func (s *amqpSession) Close() error {
	chErr := SafeClose(s.ch)
	connErr := s.conn.Close()
	if errors.Is(chErr, amqp091.ErrClosed) {
		chErr = nil
	}
	if errors.Is(connErr, amqp091.ErrClosed) {
		connErr = nil
	}
	return errors.Join(chErr, connErr)
}
