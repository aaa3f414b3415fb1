package alerts

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Status string

const (
	StatusReceived   Status = "received"
	StatusApproved   Status = "approved"
	StatusDenied     Status = "denied"
	StatusDispatched Status = "dispatched"
)

var statusLabels = map[Status]string{
	StatusReceived:   "Received",
	StatusApproved:   "Approved",
	StatusDenied:     "Denied",
	StatusDispatched: "Dispatched",
}

func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Label is the human-readable form used in payloads.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return "Unknown"
}

// Severity is an alert severity in [MinSeverity, MaxSeverity].
type Severity int

const (
	MinSeverity Severity = 0
	MaxSeverity Severity = 5
)

var severityLabels = [...]string{
	"informational",
	"low",
	"moderate",
	"high",
	"severe",
	"critical",
}

func (s Severity) Valid() bool { return s >= MinSeverity && s <= MaxSeverity }

func (s Severity) Label() string {
	if !s.Valid() {
		return "unknown"
	}
	return severityLabels[s]
}

// Band collapses the severity scale into the three routing bands.
func (s Severity) Band() string {
	switch {
	case s <= 1:
		return "low"
	case s <= 3:
		return "medium"
	default:
		return "high"
	}
}

// ParseSeverity accepts integers, integral floats and numeric strings as
// they arrive from decoded JSON documents.
func ParseSeverity(v any) (Severity, error) {
	var n int64
	switch t := v.(type) {
	case nil:
		return 0, fmt.Errorf("required")
	case int:
		n = int64(t)
	case int32:
		n = int64(t)
	case int64:
		n = t
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) || math.IsNaN(t) {
			return 0, fmt.Errorf("must be an integer")
		}
		n = int64(t)
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, fmt.Errorf("must be an integer")
		}
		n = i
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("must be an integer")
		}
		n = i
	default:
		return 0, fmt.Errorf("must be an integer")
	}
	s := Severity(n)
	if int64(s) != n || !s.Valid() {
		return 0, fmt.Errorf("must be between %d and %d", MinSeverity, MaxSeverity)
	}
	return s, nil
}
