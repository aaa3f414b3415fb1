package common

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"maps"
	"strings"
)

// TraceContext is an opaque propagation map, W3C style keys.
type TraceContext map[string]string

const (
	TraceParentKey = "traceparent"
	ProducerKey    = "producer"
)

type traceKey struct{}

// WithTraceContext attaches an upstream trace context to ctx so published
// envelopes carry it forward.
func WithTraceContext(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, traceKey{}, maps.Clone(tc))
}

func TraceFromContext(ctx context.Context) (TraceContext, bool) {
	tc, ok := ctx.Value(traceKey{}).(TraceContext)
	return tc, ok
}

// NewTraceContext continues the trace found in ctx or starts one whose trace
// id is derived from the correlation id.
func NewTraceContext(ctx context.Context, correlationID string) TraceContext {
	out := TraceContext{ProducerKey: ProducerName}
	if tc, ok := TraceFromContext(ctx); ok {
		for k, v := range tc {
			out[k] = v
		}
		if _, has := tc[ProducerKey]; !has {
			out[ProducerKey] = ProducerName
		}
		return out
	}
	traceID := strings.ReplaceAll(correlationID, "-", "")
	if len(traceID) != 32 {
		traceID = randomHex(16)
	}
	out[TraceParentKey] = "00-" + traceID + "-" + randomHex(8) + "-01"
	return out
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
