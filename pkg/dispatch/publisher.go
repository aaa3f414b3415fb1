package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/roboricindustries/raycon-dispatch/pkg/pubsub"
	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/alerts"
	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/common"
	"github.com/roboricindustries/raycon-dispatch/pkg/transform"
)

const (
	MessageType = "notifications.dispatch.v1"

	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 60 * time.Second
	DefaultTimeout   = 10 * time.Second
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type Options struct {
	Dialer      pubsub.Dialer
	Transformer *transform.Transformer
	Logger      *slog.Logger

	ExchangePrefix string
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	// Per-attempt bound when the endpoint has no timeout of its own.
	DefaultTimeout time.Duration
	// Endpoints published concurrently by FanOut; 0 means unbounded.
	Concurrency int
	// Optional process-wide publish rate.
	Limiter *rate.Limiter

	Sleep  Sleeper
	Jitter func() time.Duration
	Now    func() time.Time
	NewID  func() string
}

type Publisher struct {
	opts Options
	log  *slog.Logger
}

func NewPublisher(opts Options) *Publisher {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Transformer == nil {
		opts.Transformer = transform.New(opts.Logger)
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Jitter == nil {
		opts.Jitter = func() time.Duration { return time.Duration(rand.Int63n(int64(time.Second))) }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Publisher{opts: opts, log: opts.Logger}
}

// Request is one notification bound for one endpoint. Extra entries are
// merged into the source document the endpoint mapping reads from.
type Request struct {
	Notification  alerts.Notification
	Endpoint      alerts.Endpoint
	CorrelationID string
	Extra         map[string]any
}

type Result struct {
	EndpointID    string `json:"endpoint_id"`
	Success       bool   `json:"success"`
	CorrelationID string `json:"correlation_id"`
	Exchange      string `json:"exchange"`
	RoutingKey    string `json:"routing_key"`
	Err           error  `json:"-"`
	// Retries performed; never more than the endpoint's RetryAttempts.
	RetryCount int `json:"retry_count"`
	Attempts   int `json:"attempts"`
}

func (r Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Message is a fully prepared broker message.
type Message struct {
	Route      common.Route
	Envelope   common.Envelope
	Body       []byte
	Properties pubsub.Properties
}

// Prepare performs every local step of a publish: correlation id,
// transformation, envelope construction and validation, routing. Nothing is
// sent.
func (p *Publisher) Prepare(ctx context.Context, req Request) (Message, error) {
	cid := req.CorrelationID
	if cid == "" {
		cid = p.opts.NewID()
	}
	parsed, err := uuid.Parse(cid)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidCorrelationID, cid)
	}
	cid = parsed.String()

	n := req.Notification
	source := n.Document()
	for k, v := range req.Extra {
		source[k] = v
	}
	payload := p.opts.Transformer.ApplyDocument(source, req.Endpoint.DataMapping)

	env := common.Envelope{
		NotificationID: n.ID,
		OrganizationID: n.OrganizationID,
		CorrelationID:  cid,
		Timestamp:      p.opts.Now().UTC(),
		Payload:        payload,
		TraceContext:   common.NewTraceContext(ctx, cid),
	}
	if err := env.Validate(); err != nil {
		return Message{}, err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return Message{}, fmt.Errorf("marshal envelope: %w", err)
	}

	headers := make(map[string]any, len(req.Endpoint.Headers)+4)
	for k, v := range req.Endpoint.Headers {
		headers[k] = v
	}
	headers["x-endpoint-id"] = req.Endpoint.ID
	headers["x-endpoint-url"] = req.Endpoint.URL
	headers["x-organization-id"] = n.OrganizationID
	headers["x-severity"] = strconv.Itoa(int(n.Severity))

	return Message{
		Route:    RouteFor(p.opts.ExchangePrefix, n),
		Envelope: env,
		Body:     body,
		Properties: pubsub.Properties{
			ContentType:   common.ContentTypeJSON,
			CorrelationID: cid,
			MessageID:     p.opts.NewID(),
			Type:          MessageType,
			Persistent:    true,
			Timestamp:     env.Timestamp,
			Headers:       headers,
		},
	}, nil
}

// Publish delivers req with at most Endpoint.RetryAttempts+1 attempts.
// Cancellation is honoured between attempts; an attempt already in flight
// runs to completion or to its own timeout.
func (p *Publisher) Publish(ctx context.Context, req Request) Result {
	ep := req.Endpoint
	res := Result{EndpointID: ep.ID, CorrelationID: req.CorrelationID}
	log := p.log.With(
		slog.String("notification_id", req.Notification.ID),
		slog.String("endpoint_id", ep.ID),
	)

	msg, err := p.Prepare(ctx, req)
	if err != nil {
		log.Error("publish rejected locally", slog.Any("error", err))
		res.Err = &PublishError{EndpointID: ep.ID, Err: err}
		return res
	}
	res.CorrelationID = msg.Properties.CorrelationID
	res.Exchange = msg.Route.Exchange
	res.RoutingKey = msg.Route.RoutingKey

	retries := max(ep.RetryAttempts, 0)
	maxAttempts := retries + 1
	timeout := ep.Timeout()
	if timeout <= 0 {
		timeout = p.opts.DefaultTimeout
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.Backoff(attempt - 1)
			log.Warn("publish attempt failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("sleep", delay),
				slog.Any("error", lastErr),
			)
			if err := p.opts.Sleep(ctx, delay); err != nil {
				return p.cancelled(log, res, attempt, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return p.cancelled(log, res, attempt, err)
		}
		if p.opts.Limiter != nil {
			if err := p.opts.Limiter.Wait(ctx); err != nil {
				return p.cancelled(log, res, attempt, err)
			}
		}

		err := p.attempt(ctx, msg, timeout)
		if err == nil {
			res.Success = true
			res.Attempts = attempt + 1
			res.RetryCount = attempt
			log.Info("published",
				slog.String("exchange", msg.Route.Exchange),
				slog.String("key", msg.Route.RoutingKey),
				slog.Int("attempts", res.Attempts),
			)
			return res
		}
		lastErr = err
	}

	res.Attempts = maxAttempts
	res.RetryCount = retries
	res.Err = &PublishError{EndpointID: ep.ID, Attempts: maxAttempts, Err: lastErr}
	log.Error("publish failed", slog.Int("attempts", maxAttempts), slog.Any("error", lastErr))
	return res
}

// Backoff is the wait after the failed attempt with the given zero-based
// index.
func (p *Publisher) Backoff(attempt int) time.Duration {
	d := p.opts.MaxDelay
	if attempt >= 0 && p.opts.BaseDelay <= d>>attempt {
		d = p.opts.BaseDelay << attempt
	}
	return d + p.opts.Jitter()
}

// attempt runs one delivery on its own session. The session is detached
// from ctx cancellation so an in-flight publish is not cut mid-call; the
// per-attempt timeout still bounds it.
func (p *Publisher) attempt(ctx context.Context, msg Message, timeout time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publish panic: %v", r)
		}
	}()

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	sess, err := p.opts.Dialer.Dial(actx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			p.log.Debug("close broker session", slog.Any("error", cerr))
		}
	}()
	return sess.Publish(actx, msg.Route.Exchange, msg.Route.RoutingKey, msg.Body, msg.Properties)
}

func (p *Publisher) cancelled(log *slog.Logger, res Result, attempts int, cause error) Result {
	res.Success = false
	res.Attempts = attempts
	res.RetryCount = max(attempts-1, 0)
	res.Err = &PublishError{
		EndpointID: res.EndpointID,
		Attempts:   attempts,
		Err:        fmt.Errorf("%w: %v", ErrCancelled, cause),
	}
	log.Warn("publish cancelled", slog.Int("attempts", attempts), slog.Any("error", cause))
	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
