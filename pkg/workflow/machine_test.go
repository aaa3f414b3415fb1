package workflow

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/alerts"
)

var (
	t0       = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	reporter = alerts.Caller{UserID: "u-1", OrganizationID: "org-1"}
	operator = alerts.Caller{UserID: "u-2", OrganizationID: "org-1"}
	outsider = alerts.Caller{UserID: "u-9", OrganizationID: "org-2"}
)

func newTestMachine() *Machine {
	return &Machine{
		Now:   func() time.Time { return t0 },
		NewID: func() string { return "n-1" },
	}
}

func received(t *testing.T) alerts.Notification {
	t.Helper()
	res, err := newTestMachine().Receive(map[string]any{
		"title":    "Flood warning",
		"body":     "River rising",
		"severity": 4.0,
	}, "sensor-gw", reporter)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	return res.Notification
}

func selection() Selection {
	return Selection{
		TargetIDs:   []string{"t-1"},
		CategoryIDs: []string{"c-1"},
		Targets:     []alerts.Target{{ID: "t-1", OrganizationID: "org-1"}},
		Categories:  []alerts.Category{{ID: "c-1", OrganizationID: "org-1"}},
	}
}

func TestReceive(t *testing.T) {
	n := received(t)
	if n.Status != alerts.StatusReceived || n.ID != "n-1" || n.OrganizationID != "org-1" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if n.Severity != 4 || n.CreatedBy != "u-1" || !n.CreatedAt.Equal(t0) {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if n.CorrelationID == "" || n.OriginalPayload["title"] != "Flood warning" {
		t.Fatalf("missing correlation id or payload: %+v", n)
	}
}

func TestReceiveValidation(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]any
		origin  string
		fields  []string
	}{
		{"empty payload", map[string]any{}, "gw", []string{"title", "body", "severity"}},
		{"blank title", map[string]any{"title": "  ", "body": "b", "severity": 1}, "gw", []string{"title"}},
		{"long title", map[string]any{"title": strings.Repeat("x", 201), "body": "b", "severity": 1}, "gw", []string{"title"}},
		{"fractional severity", map[string]any{"title": "t", "body": "b", "severity": 2.5}, "gw", []string{"severity"}},
		{"severity out of range", map[string]any{"title": "t", "body": "b", "severity": 6}, "gw", []string{"severity"}},
		{"bad target list", map[string]any{"title": "t", "body": "b", "severity": 1, "target_ids": []any{1}}, "gw", []string{"target_ids"}},
		{"no origin", map[string]any{"title": "t", "body": "b", "severity": 1}, " ", []string{"origin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestMachine().Receive(tt.payload, tt.origin, reporter)
			var ve *alerts.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			for _, f := range tt.fields {
				if !ve.Has(f) {
					t.Errorf("missing issue for %s in %v", f, ve.Issues)
				}
			}
		})
	}
}

func TestReceiveWarnsOnMarkup(t *testing.T) {
	res, err := newTestMachine().Receive(map[string]any{
		"title": "<b>Flood</b>", "body": "b", "severity": 1,
	}, "gw", reporter)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Field != "title" {
		t.Fatalf("warnings = %v", res.Warnings)
	}
}

func TestApprove(t *testing.T) {
	n := received(t)
	res, err := newTestMachine().Approve(n, selection(), operator)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	a := res.Notification
	if a.Status != alerts.StatusApproved || a.ApprovedBy != "u-2" || a.ApprovedAt == nil {
		t.Fatalf("unexpected approval: %+v", a)
	}
	if a.DeniedBy != "" || a.DispatchedAt != nil {
		t.Fatalf("unrelated workflow fields set: %+v", a)
	}
	if n.Status != alerts.StatusReceived {
		t.Fatal("input notification was mutated")
	}
}

func TestApproveValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Selection)
		field  string
	}{
		{"no targets", func(s *Selection) { s.TargetIDs = nil }, "target_ids"},
		{"no categories", func(s *Selection) { s.CategoryIDs = []string{" "} }, "category_ids"},
		{"unknown target", func(s *Selection) { s.TargetIDs = append(s.TargetIDs, "t-404") }, "target_ids"},
		{"foreign category", func(s *Selection) {
			s.CategoryIDs = append(s.CategoryIDs, "c-9")
			s.Categories = append(s.Categories, alerts.Category{ID: "c-9", OrganizationID: "org-2"})
		}, "category_ids"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := selection()
			tt.mutate(&sel)
			_, err := newTestMachine().Approve(received(t), sel, operator)
			var ve *alerts.ValidationError
			if !errors.As(err, &ve) || !ve.Has(tt.field) {
				t.Fatalf("err = %v, want issue on %s", err, tt.field)
			}
		})
	}
}

func TestApproveWarnsOnUnpairedCategory(t *testing.T) {
	sel := selection()
	sel.Categories[0].TargetIDs = []string{"t-7"}
	res, err := newTestMachine().Approve(received(t), sel, operator)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Field != "category_ids" {
		t.Fatalf("warnings = %v", res.Warnings)
	}
}

func TestDenyReasonBounds(t *testing.T) {
	n := received(t)
	m := newTestMachine()

	_, err := m.Deny(n, "too short", operator)
	var ve *alerts.ValidationError
	if !errors.As(err, &ve) || !ve.Has("denial_reason") {
		t.Fatalf("9 character reason: err = %v", err)
	}
	if n.Status != alerts.StatusReceived {
		t.Fatal("status changed on rejected denial")
	}

	if _, err := m.Deny(n, strings.Repeat("r", 501), operator); err == nil {
		t.Fatal("501 character reason accepted")
	}

	res, err := m.Deny(n, "duplicate alert", operator)
	if err != nil {
		t.Fatalf("Deny: %v", err)
	}
	d := res.Notification
	if d.Status != alerts.StatusDenied || d.DeniedBy != "u-2" || d.DeniedAt == nil || d.DenialReason != "duplicate alert" {
		t.Fatalf("unexpected denial: %+v", d)
	}
}

func TestIllegalTransitions(t *testing.T) {
	m := newTestMachine()
	n := received(t)
	approved, err := m.Approve(n, selection(), operator)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.MarkDispatched(n, operator); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("dispatching a received notification: %v", err)
	}
	if _, err := m.Approve(approved.Notification, selection(), operator); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("approving twice: %v", err)
	}
	if _, err := m.Deny(approved.Notification, "changed my mind", operator); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("denying an approved notification: %v", err)
	}

	dispatched, err := m.MarkDispatched(approved.Notification, operator)
	if err != nil {
		t.Fatal(err)
	}
	if dispatched.Notification.DispatchedAt == nil {
		t.Fatal("dispatched_at not set")
	}
	if _, err := m.MarkDispatched(dispatched.Notification, operator); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("dispatching twice: %v", err)
	}
}

func TestCrossTenantRejected(t *testing.T) {
	m := newTestMachine()
	n := received(t)

	checks := map[string]func() error{
		"approve": func() error { _, err := m.Approve(n, selection(), outsider); return err },
		"deny":    func() error { _, err := m.Deny(n, "not our problem", outsider); return err },
		"mark":    func() error { _, err := m.MarkDispatched(n, outsider); return err },
	}
	for name, fn := range checks {
		if err := fn(); !errors.Is(err, alerts.ErrCrossTenant) {
			t.Errorf("%s: err = %v, want ErrCrossTenant", name, err)
		}
	}
}
