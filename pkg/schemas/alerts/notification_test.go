package alerts

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func receivedNotification() Notification {
	return Notification{
		ID:             "n-1",
		OrganizationID: "org-1",
		CorrelationID:  "6f1c2a9e-2b7d-4c1e-9a53-1f0b8d2e4c71",
		Title:          "Flood warning",
		Body:           "River rising",
		Severity:       3,
		Origin:         "sensor-gw",
		Status:         StatusReceived,
		CreatedAt:      time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestValidateStatusConsistency(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	approve := func(n *Notification) {
		n.Status = StatusApproved
		n.ApprovedBy, n.ApprovedAt = "u-1", &now
		n.TargetIDs, n.CategoryIDs = []string{"t-1"}, []string{"c-1"}
	}

	tests := []struct {
		name      string
		mutate    func(*Notification)
		wantField string
	}{
		{"received ok", func(*Notification) {}, ""},
		{"received with approver", func(n *Notification) { n.ApprovedBy = "u-1" }, "approved_by"},
		{"approved ok", approve, ""},
		{"approved without targets", func(n *Notification) { approve(n); n.TargetIDs = nil }, "target_ids"},
		{"approved without approver", func(n *Notification) { approve(n); n.ApprovedBy = "" }, "approved_by"},
		{"approved with dispatch time", func(n *Notification) { approve(n); n.DispatchedAt = &now }, "dispatched_at"},
		{"dispatched ok", func(n *Notification) { approve(n); n.Status = StatusDispatched; n.DispatchedAt = &now }, ""},
		{"dispatched without time", func(n *Notification) { approve(n); n.Status = StatusDispatched }, "dispatched_at"},
		{"denied ok", func(n *Notification) {
			n.Status = StatusDenied
			n.DeniedBy, n.DeniedAt, n.DenialReason = "u-2", &now, "duplicate of n-0"
		}, ""},
		{"denied without reason", func(n *Notification) {
			n.Status = StatusDenied
			n.DeniedBy, n.DeniedAt = "u-2", &now
		}, "denied_by"},
		{"unknown status", func(n *Notification) { n.Status = "archived" }, "status"},
		{"blank title", func(n *Notification) { n.Title = "   " }, "title"},
		{"long body", func(n *Notification) { n.Body = strings.Repeat("é", MaxBodyLen+1) }, "body"},
		{"severity out of range", func(n *Notification) { n.Severity = 6 }, "severity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := receivedNotification()
			tt.mutate(&n)
			err := n.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || !ve.Has(tt.wantField) {
				t.Fatalf("Validate() = %v, want issue on %s", err, tt.wantField)
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatal("validation errors must match ErrInvalid")
			}
		})
	}
}

func TestTitleLimitCountsRunes(t *testing.T) {
	n := receivedNotification()
	n.Title = strings.Repeat("ü", MaxTitleLen)
	if err := n.Validate(); err != nil {
		t.Fatalf("title of exactly %d characters rejected: %v", MaxTitleLen, err)
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	n := receivedNotification()
	n.OriginalPayload = map[string]any{"zones": []any{"north"}, "meta": map[string]any{"k": "v"}}
	n.TargetIDs = []string{"t-1"}

	c := n.Clone()
	c.OriginalPayload["zones"].([]any)[0] = "south"
	c.OriginalPayload["meta"].(map[string]any)["k"] = "changed"
	c.TargetIDs[0] = "t-2"

	if n.OriginalPayload["zones"].([]any)[0] != "north" || n.OriginalPayload["meta"].(map[string]any)["k"] != "v" {
		t.Fatal("payload shared between clones")
	}
	if n.TargetIDs[0] != "t-1" {
		t.Fatal("target ids shared between clones")
	}
}

func TestDocument(t *testing.T) {
	n := receivedNotification()
	n.OriginalPayload = map[string]any{"zone": "north"}
	doc := n.Document()

	checks := map[string]any{
		"id":              "n-1",
		"notification_id": "n-1",
		"severity":        3,
		"severity_label":  "moderate",
		"status":          "received",
		"status_label":    "Received",
		"created_at":      "2024-05-01T08:00:00Z",
	}
	for k, want := range checks {
		if doc[k] != want {
			t.Errorf("doc[%q] = %#v, want %#v", k, doc[k], want)
		}
	}
	if _, ok := doc["approved_at"]; ok {
		t.Error("unset workflow fields must be absent")
	}
	doc["original_payload"].(map[string]any)["zone"] = "south"
	if n.OriginalPayload["zone"] != "north" {
		t.Error("document aliases the original payload")
	}
}

func TestValidationErrorMessage(t *testing.T) {
	ve := &ValidationError{}
	if ve.Err() != nil {
		t.Fatal("empty ValidationError must not be an error")
	}
	ve.Add("title", "required")
	ve.Add("severity", "must be an integer")
	want := "invalid notification: title: required; severity: must be an integer"
	if got := ve.Err().Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}
