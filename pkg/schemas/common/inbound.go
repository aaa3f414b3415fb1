package common

import (
	"errors"
	"strings"
)

// InboundAlert is the intake queue message: a raw alert plus the identity it
// is submitted under.
type InboundAlert struct {
	OrganizationID string         `json:"organization_id"`
	UserID         string         `json:"user_id"`
	Origin         string         `json:"origin"`
	Payload        map[string]any `json:"payload"`

	// Trace context of the producer, if any
	TraceContext TraceContext `json:"trace_context,omitempty"`
}

const (
	InboundEventType  = "notifications.inbound.v1"
	InboundExchange   = "notifications.intake"
	InboundRoutingKey = "notifications.inbound.v1"
)

func (m *InboundAlert) Validate() error {
	var missing []string
	if strings.TrimSpace(m.OrganizationID) == "" {
		missing = append(missing, "organization_id")
	}
	if strings.TrimSpace(m.Origin) == "" {
		missing = append(missing, "origin")
	}
	if m.Payload == nil {
		missing = append(missing, "payload")
	}
	if len(missing) > 0 {
		return errors.New("inbound alert missing " + strings.Join(missing, ", "))
	}
	return nil
}
