package pubsub

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// ErrNoBroker is returned by every publish through a FallbackDialer.
var ErrNoBroker = errors.New("no broker configured")

// FallbackDialer stands in when no broker is configured: every publish is
// logged and reported as undelivered. Intended for local runs only.
type FallbackDialer struct {
	log *slog.Logger
}

func NewFallback(logger *slog.Logger) Dialer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FallbackDialer{log: logger}
}

func (d *FallbackDialer) Dial(context.Context) (Session, error) {
	return fallbackSession{log: d.log}, nil
}

type fallbackSession struct {
	log *slog.Logger
}

func (s fallbackSession) Publish(_ context.Context, exchange, key string, body []byte, p Properties) error {
	s.log.Warn("FallbackDialer: skipped publish",
		slog.String("exchange", exchange),
		slog.String("key", key),
		slog.String("correlation_id", p.CorrelationID),
		slog.Int("bytes", len(body)),
	)
	return ErrNoBroker
}

func (fallbackSession) Close() error { return nil }
