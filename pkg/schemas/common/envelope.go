package common

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidEnvelope = errors.New("invalid envelope")

// Envelope is the message downstream consumers receive from the broker. The
// top-level keys are a compatibility contract.
type Envelope struct {
	NotificationID string         `json:"notification_id"`
	OrganizationID string         `json:"organization_id"`
	CorrelationID  string         `json:"correlation_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Payload        map[string]any `json:"payload"`
	TraceContext   TraceContext   `json:"trace_context"`
}

// Validate rejects envelopes that are missing a structural field or carry an
// empty payload.
func (e *Envelope) Validate() error {
	var missing []string
	if strings.TrimSpace(e.NotificationID) == "" {
		missing = append(missing, "notification_id")
	}
	if strings.TrimSpace(e.OrganizationID) == "" {
		missing = append(missing, "organization_id")
	}
	if strings.TrimSpace(e.CorrelationID) == "" {
		missing = append(missing, "correlation_id")
	}
	if e.Timestamp.IsZero() {
		missing = append(missing, "timestamp")
	}
	if len(e.Payload) == 0 {
		missing = append(missing, "payload")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidEnvelope, strings.Join(missing, ", "))
	}
	return nil
}
