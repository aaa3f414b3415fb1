package alerts

import (
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxTitleLen        = 200
	MaxBodyLen         = 2000
	MinDenialReasonLen = 10
	MaxDenialReasonLen = 500
)

type Notification struct {
	ID             string `json:"id" bson:"id"`
	OrganizationID string `json:"organization_id" bson:"organization_id"`
	CorrelationID  string `json:"correlation_id" bson:"correlation_id"`

	Title           string         `json:"title" bson:"title"`
	Body            string         `json:"body" bson:"body"`
	Severity        Severity       `json:"severity" bson:"severity"`
	Origin          string         `json:"origin" bson:"origin"`
	OriginalPayload map[string]any `json:"original_payload,omitempty" bson:"original_payload,omitempty"`

	Status       Status     `json:"status" bson:"status"`
	TargetIDs    []string   `json:"target_ids" bson:"target_ids"`
	CategoryIDs  []string   `json:"category_ids" bson:"category_ids"`
	DenialReason string     `json:"denial_reason,omitempty" bson:"denial_reason,omitempty"`
	ApprovedBy   string     `json:"approved_by,omitempty" bson:"approved_by,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty" bson:"approved_at,omitempty"`
	DeniedBy     string     `json:"denied_by,omitempty" bson:"denied_by,omitempty"`
	DeniedAt     *time.Time `json:"denied_at,omitempty" bson:"denied_at,omitempty"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty" bson:"dispatched_at,omitempty"`

	CreatedBy string    `json:"created_by" bson:"created_by"`
	UpdatedBy string    `json:"updated_by" bson:"updated_by"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Clone returns a copy that shares no mutable state with n.
func (n Notification) Clone() Notification {
	c := n
	c.OriginalPayload = CloneDocument(n.OriginalPayload)
	c.TargetIDs = slices.Clone(n.TargetIDs)
	c.CategoryIDs = slices.Clone(n.CategoryIDs)
	return c
}

// Validate checks that the content fields are in range and that the workflow
// fields agree with the status.
func (n *Notification) Validate() error {
	ve := &ValidationError{}

	if n.ID == "" {
		ve.Add("id", "required")
	}
	if n.OrganizationID == "" {
		ve.Add("organization_id", "required")
	}
	if n.CorrelationID == "" {
		ve.Add("correlation_id", "required")
	}
	checkText(ve, "title", n.Title, MaxTitleLen)
	checkText(ve, "body", n.Body, MaxBodyLen)
	if !n.Severity.Valid() {
		ve.Add("severity", "must be between 0 and 5")
	}
	if strings.TrimSpace(n.Origin) == "" {
		ve.Add("origin", "required")
	}

	approved := n.ApprovedBy != "" && n.ApprovedAt != nil
	denied := n.DeniedBy != "" && n.DeniedAt != nil && n.DenialReason != ""

	switch n.Status {
	case StatusReceived:
		if n.ApprovedBy != "" || n.ApprovedAt != nil {
			ve.Add("approved_by", "must be empty for received")
		}
		if n.DeniedBy != "" || n.DeniedAt != nil || n.DenialReason != "" {
			ve.Add("denied_by", "must be empty for received")
		}
		if n.DispatchedAt != nil {
			ve.Add("dispatched_at", "must be empty for received")
		}
	case StatusApproved, StatusDispatched:
		if !approved {
			ve.Add("approved_by", "required for "+string(n.Status))
		}
		if n.DeniedBy != "" || n.DeniedAt != nil || n.DenialReason != "" {
			ve.Add("denied_by", "must be empty for "+string(n.Status))
		}
		if n.Status == StatusDispatched && n.DispatchedAt == nil {
			ve.Add("dispatched_at", "required for dispatched")
		}
		if n.Status == StatusApproved && n.DispatchedAt != nil {
			ve.Add("dispatched_at", "must be empty for approved")
		}
		if len(n.TargetIDs) == 0 {
			ve.Add("target_ids", "required for "+string(n.Status))
		}
		if len(n.CategoryIDs) == 0 {
			ve.Add("category_ids", "required for "+string(n.Status))
		}
	case StatusDenied:
		if !denied {
			ve.Add("denied_by", "denied_by, denied_at and denial_reason required for denied")
		}
		if n.ApprovedBy != "" || n.ApprovedAt != nil {
			ve.Add("approved_by", "must be empty for denied")
		}
		if n.DispatchedAt != nil {
			ve.Add("dispatched_at", "must be empty for denied")
		}
	default:
		ve.Add("status", "unknown")
	}

	return ve.Err()
}

func checkText(ve *ValidationError, field, v string, limit int) {
	trimmed := strings.TrimSpace(v)
	switch {
	case trimmed == "":
		ve.Add(field, "required")
	case utf8.RuneCountInString(v) > limit:
		ve.Add(field, "must be at most "+strconv.Itoa(limit)+" characters")
	}
}

// Document renders n as a generic document, the source shape that endpoint
// mappings address with paths such as "title" or "original_payload.zone".
func (n *Notification) Document() map[string]any {
	doc := map[string]any{
		"id":              n.ID,
		"notification_id": n.ID,
		"organization_id": n.OrganizationID,
		"correlation_id":  n.CorrelationID,
		"title":           n.Title,
		"body":            n.Body,
		"severity":        int(n.Severity),
		"severity_label":  n.Severity.Label(),
		"origin":          n.Origin,
		"status":          string(n.Status),
		"status_label":    n.Status.Label(),
		"target_ids":      stringsToAny(n.TargetIDs),
		"category_ids":    stringsToAny(n.CategoryIDs),
		"created_by":      n.CreatedBy,
		"created_at":      formatTime(&n.CreatedAt),
	}
	if n.OriginalPayload != nil {
		doc["original_payload"] = CloneDocument(n.OriginalPayload)
	}
	if n.ApprovedBy != "" {
		doc["approved_by"] = n.ApprovedBy
		doc["approved_at"] = formatTime(n.ApprovedAt)
	}
	if n.DeniedBy != "" {
		doc["denied_by"] = n.DeniedBy
		doc["denied_at"] = formatTime(n.DeniedAt)
		doc["denial_reason"] = n.DenialReason
	}
	if n.DispatchedAt != nil {
		doc["dispatched_at"] = formatTime(n.DispatchedAt)
	}
	return doc
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func formatTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
