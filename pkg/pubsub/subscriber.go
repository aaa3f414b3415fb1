package pubsub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// ErrPoison marks a delivery that can never succeed (undecodable or
// invalid). Poison deliveries are rejected without requeue and end up in
// the dead-letter queue.
var ErrPoison = errors.New("poison message")

// ErrConsumerLost reports that deliveries stopped without Close being
// called, typically because the broker connection dropped.
var ErrConsumerLost = errors.New("intake consumer lost")

type Handler func(context.Context, amqp091.Delivery) error

type Subscriber interface {
	RegisterHandler(routingKey string, handler Handler)
	Start(topo IntakeTopology) error
	// Done yields one error if the consumer stops on its own.
	Done() <-chan error
	Close() error
}

type SubscriberOptions struct {
	Connection     ConnectionOptions
	BufferCap      int
	Workers        int
	Prefetch       int
	HandlerTimeout time.Duration
}

type rmqSubscriber struct {
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	log      *slog.Logger
	handlers map[string]Handler
	msgChan  chan amqp091.Delivery
	done     chan struct{}
	errs     chan error
	wg       sync.WaitGroup
	once     sync.Once
	stop     sync.Once
	opts     SubscriberOptions
}

func NewSubscriber(ctx context.Context, opts SubscriberOptions) (Subscriber, error) {
	conn, err := DialWithRetry(ctx, opts.Connection)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	log := opts.Connection.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts.BufferCap = max(opts.BufferCap, 1)
	opts.Workers = max(opts.Workers, 1)
	if opts.Prefetch <= 0 {
		opts.Prefetch = 10
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 30 * time.Second
	}
	return &rmqSubscriber{
		conn:     conn,
		ch:       ch,
		log:      log,
		handlers: make(map[string]Handler),
		msgChan:  make(chan amqp091.Delivery, opts.BufferCap),
		done:     make(chan struct{}),
		errs:     make(chan error, 1),
		opts:     opts,
	}, nil
}

func (s *rmqSubscriber) RegisterHandler(routingKey string, handler Handler) {
	s.handlers[routingKey] = handler
}

func (s *rmqSubscriber) Start(topo IntakeTopology) error {
	var startErr error
	s.once.Do(func() {
		if err := s.setupQueue(topo); err != nil {
			startErr = err
			return
		}
		s.runWorkerPool()
		s.log.Info("subscriber started", slog.String("queue", topo.Queue), slog.Int("workers", s.opts.Workers))
	})
	return startErr
}

func (s *rmqSubscriber) setupQueue(topo IntakeTopology) error {
	if err := s.ch.Qos(s.opts.Prefetch, 0, false); err != nil {
		return err
	}
	topo.RoutingKeys = make([]string, 0, len(s.handlers))
	for key := range s.handlers {
		topo.RoutingKeys = append(topo.RoutingKeys, key)
	}
	if err := SetupIntakeTopology(s.ch, &topo); err != nil {
		return err
	}
	msgs, err := s.ch.Consume(topo.Queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	closed := s.conn.NotifyClose(make(chan *amqp091.Error, 1))
	go func() {
		defer close(s.msgChan)
		if err := s.forward(msgs, closed); err != nil {
			s.log.Error("intake stopped", slog.Any("error", err))
			s.errs <- err
		}
	}()
	return nil
}

// forward moves deliveries to the worker pool until Close is called or the
// broker stops delivering.
func (s *rmqSubscriber) forward(msgs <-chan amqp091.Delivery, closed <-chan *amqp091.Error) error {
	for {
		select {
		case <-s.done:
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return s.lost(closed)
			}
			select {
			case s.msgChan <- msg:
			case <-s.done:
				_ = msg.Nack(false, true)
				return nil
			}
		}
	}
}

func (s *rmqSubscriber) lost(closed <-chan *amqp091.Error) error {
	select {
	case <-s.done:
		return nil
	default:
	}
	select {
	case reason := <-closed:
		if reason != nil {
			return fmt.Errorf("%w: %v", ErrConsumerLost, reason)
		}
	default:
	}
	return ErrConsumerLost
}

func (s *rmqSubscriber) runWorkerPool() {
	for i := 0; i < s.opts.Workers; i++ {
		s.wg.Add(1)
		go s.workerLoop()
	}
}

func (s *rmqSubscriber) workerLoop() {
	defer s.wg.Done()
	for msg := range s.msgChan {
		s.handle(msg)
	}
}

func (s *rmqSubscriber) handle(msg amqp091.Delivery) {
	handler, ok := s.handlers[msg.RoutingKey]
	if !ok {
		s.log.Warn("no handler", slog.String("key", msg.RoutingKey))
		_ = msg.Nack(false, false)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.HandlerTimeout)
	err := handler(ctx, msg)
	cancel()
	switch {
	case err == nil:
		_ = msg.Ack(false)
	case errors.Is(err, ErrPoison):
		s.log.Warn("poison message rejected", slog.String("key", msg.RoutingKey), slog.Any("err", err))
		_ = msg.Nack(false, false)
	default:
		s.log.Error("handler error", slog.String("key", msg.RoutingKey), slog.Any("err", err))
		_ = msg.Nack(false, true)
	}
}

func (s *rmqSubscriber) Done() <-chan error { return s.errs }

func (s *rmqSubscriber) Close() error {
	s.stop.Do(func() { close(s.done) })
	s.wg.Wait()
	_ = SafeClose(s.ch)
	return s.conn.Close()
}
