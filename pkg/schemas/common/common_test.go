package common

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEnvelopeWireShape(t *testing.T) {
	env := Envelope{
		NotificationID: "n-1",
		OrganizationID: "org-1",
		CorrelationID:  "c-1",
		Timestamp:      time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		Payload:        map[string]any{"k": "v"},
		TraceContext:   TraceContext{TraceParentKey: "00-a-b-01"},
	}
	if err := env.Validate(); err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"notification_id", "organization_id", "correlation_id", "timestamp", "payload", "trace_context"} {
		if _, ok := got[key]; !ok {
			t.Errorf("envelope missing %q: %s", key, raw)
		}
	}
	if len(got) != 6 {
		t.Errorf("unexpected envelope keys: %s", raw)
	}
}

func TestEnvelopeValidate(t *testing.T) {
	err := (&Envelope{Payload: map[string]any{}}).Validate()
	if !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("err = %v", err)
	}
	for _, field := range []string{"notification_id", "organization_id", "correlation_id", "timestamp", "payload"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
}

func TestNewTraceContext(t *testing.T) {
	tc := NewTraceContext(context.Background(), "6f1c2a9e-2b7d-4c1e-9a53-1f0b8d2e4c71")
	parts := strings.Split(tc[TraceParentKey], "-")
	if len(parts) != 4 || parts[1] != "6f1c2a9e2b7d4c1e9a531f0b8d2e4c71" || len(parts[2]) != 16 {
		t.Fatalf("traceparent = %q", tc[TraceParentKey])
	}
	if tc[ProducerKey] != ProducerName {
		t.Errorf("producer = %q", tc[ProducerKey])
	}

	upstream := TraceContext{TraceParentKey: "00-upstream-span-01"}
	ctx := WithTraceContext(context.Background(), upstream)
	upstream[TraceParentKey] = "mutated"
	tc = NewTraceContext(ctx, "6f1c2a9e-2b7d-4c1e-9a53-1f0b8d2e4c71")
	if tc[TraceParentKey] != "00-upstream-span-01" {
		t.Errorf("upstream trace not continued: %v", tc)
	}
}

func TestInboundAlertValidate(t *testing.T) {
	ok := InboundAlert{OrganizationID: "org-1", Origin: "gw", Payload: map[string]any{}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	err := (&InboundAlert{}).Validate()
	if err == nil || !strings.Contains(err.Error(), "organization_id, origin, payload") {
		t.Fatalf("err = %v", err)
	}
}
