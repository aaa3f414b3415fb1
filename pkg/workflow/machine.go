package workflow

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/alerts"
)

// Warning is a non-fatal observation about an accepted operation.
type Warning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Result struct {
	Notification alerts.Notification
	Warnings     []Warning
}

// Machine applies transitions. Now and NewID are injectable for tests.
type Machine struct {
	Now   func() time.Time
	NewID func() string
}

func NewMachine() *Machine {
	return &Machine{Now: time.Now, NewID: uuid.NewString}
}

func (m *Machine) now() time.Time {
	if m.Now == nil {
		return time.Now().UTC()
	}
	return m.Now().UTC()
}

func (m *Machine) newID() string {
	if m.NewID == nil {
		return uuid.NewString()
	}
	return m.NewID()
}

// Receive validates a raw inbound payload and builds a received notification
// owned by the caller's organization. Optional "target_ids" and
// "category_ids" lists record the audience suggested at intake.
func (m *Machine) Receive(payload map[string]any, origin string, caller alerts.Caller) (Result, error) {
	ve := &alerts.ValidationError{}
	var warnings []Warning

	if strings.TrimSpace(caller.OrganizationID) == "" {
		ve.Add("organization_id", "required")
	}
	if strings.TrimSpace(origin) == "" {
		ve.Add("origin", "required")
	}
	if payload == nil {
		ve.Add("payload", "required")
		return Result{}, ve
	}

	title := requiredText(ve, payload, "title", alerts.MaxTitleLen)
	body := requiredText(ve, payload, "body", alerts.MaxBodyLen)

	var severity alerts.Severity
	if raw, ok := payload["severity"]; !ok || raw == nil {
		ve.Add("severity", "required")
	} else if s, err := alerts.ParseSeverity(raw); err != nil {
		ve.Add("severity", err.Error())
	} else {
		severity = s
	}

	targetIDs := idList(ve, payload, "target_ids")
	categoryIDs := idList(ve, payload, "category_ids")

	if err := ve.Err(); err != nil {
		return Result{}, err
	}

	if strings.ContainsAny(title, "<>") {
		warnings = append(warnings, Warning{Field: "title", Message: "title contains HTML-like characters"})
	}

	now := m.now()
	actor := caller.UserID
	if actor == "" {
		actor = strings.TrimSpace(origin)
	}
	n := alerts.Notification{
		ID:              m.newID(),
		OrganizationID:  caller.OrganizationID,
		CorrelationID:   uuid.NewString(),
		Title:           title,
		Body:            body,
		Severity:        severity,
		Origin:          strings.TrimSpace(origin),
		OriginalPayload: alerts.CloneDocument(payload),
		Status:          alerts.StatusReceived,
		TargetIDs:       targetIDs,
		CategoryIDs:     categoryIDs,
		CreatedBy:       actor,
		UpdatedBy:       actor,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := n.Validate(); err != nil {
		return Result{}, err
	}
	return Result{Notification: n, Warnings: warnings}, nil
}

// Selection is the audience an approver chooses. When Targets or Categories
// are set they are the resolved records for the ids and must all belong to
// the notification's organization.
type Selection struct {
	TargetIDs   []string
	CategoryIDs []string

	Targets    []alerts.Target
	Categories []alerts.Category
}

func (m *Machine) Approve(n alerts.Notification, sel Selection, caller alerts.Caller) (Result, error) {
	if err := sameTenant(n, caller); err != nil {
		return Result{}, err
	}
	next, err := Next(n.Status, ActionApprove)
	if err != nil {
		return Result{}, err
	}

	ve := &alerts.ValidationError{}
	requireActor(ve, caller)
	targetIDs := dedupe(sel.TargetIDs)
	categoryIDs := dedupe(sel.CategoryIDs)
	if len(targetIDs) == 0 {
		ve.Add("target_ids", "at least one target is required")
	}
	if len(categoryIDs) == 0 {
		ve.Add("category_ids", "at least one category is required")
	}
	if sel.Targets != nil {
		checkRefs(ve, "target_ids", n.OrganizationID, targetIDs, sel.Targets, func(t alerts.Target) (string, string) {
			return t.ID, t.OrganizationID
		})
	}
	if sel.Categories != nil {
		checkRefs(ve, "category_ids", n.OrganizationID, categoryIDs, sel.Categories, func(c alerts.Category) (string, string) {
			return c.ID, c.OrganizationID
		})
	}
	if err := ve.Err(); err != nil {
		return Result{}, err
	}

	var warnings []Warning
	for _, c := range sel.Categories {
		if len(c.TargetIDs) == 0 || !slices.Contains(categoryIDs, c.ID) {
			continue
		}
		if !intersects(c.TargetIDs, targetIDs) {
			warnings = append(warnings, Warning{
				Field:   "category_ids",
				Message: fmt.Sprintf("category %s is not normally paired with the selected targets", c.ID),
			})
		}
	}

	now := m.now()
	out := n.Clone()
	out.Status = next
	out.TargetIDs = targetIDs
	out.CategoryIDs = categoryIDs
	out.ApprovedBy = caller.UserID
	out.ApprovedAt = &now
	out.UpdatedBy = caller.UserID
	out.UpdatedAt = now
	if err := out.Validate(); err != nil {
		return Result{}, err
	}
	return Result{Notification: out, Warnings: warnings}, nil
}

func (m *Machine) Deny(n alerts.Notification, reason string, caller alerts.Caller) (Result, error) {
	if err := sameTenant(n, caller); err != nil {
		return Result{}, err
	}
	next, err := Next(n.Status, ActionDeny)
	if err != nil {
		return Result{}, err
	}

	ve := &alerts.ValidationError{}
	requireActor(ve, caller)
	reason = strings.TrimSpace(reason)
	if l := utf8.RuneCountInString(reason); l < alerts.MinDenialReasonLen || l > alerts.MaxDenialReasonLen {
		ve.Add("denial_reason", fmt.Sprintf("must be between %d and %d characters, got %d",
			alerts.MinDenialReasonLen, alerts.MaxDenialReasonLen, l))
	}
	if err := ve.Err(); err != nil {
		return Result{}, err
	}

	now := m.now()
	out := n.Clone()
	out.Status = next
	out.DenialReason = reason
	out.DeniedBy = caller.UserID
	out.DeniedAt = &now
	out.UpdatedBy = caller.UserID
	out.UpdatedAt = now
	if err := out.Validate(); err != nil {
		return Result{}, err
	}
	return Result{Notification: out}, nil
}

// MarkDispatched is only called by the orchestrator once every resolved
// endpoint accepted the notification.
func (m *Machine) MarkDispatched(n alerts.Notification, caller alerts.Caller) (Result, error) {
	if err := sameTenant(n, caller); err != nil {
		return Result{}, err
	}
	next, err := Next(n.Status, ActionMarkDispatched)
	if err != nil {
		return Result{}, err
	}

	now := m.now()
	out := n.Clone()
	out.Status = next
	out.DispatchedAt = &now
	if caller.UserID != "" {
		out.UpdatedBy = caller.UserID
	}
	out.UpdatedAt = now
	if err := out.Validate(); err != nil {
		return Result{}, err
	}
	return Result{Notification: out}, nil
}

func sameTenant(n alerts.Notification, caller alerts.Caller) error {
	if caller.OrganizationID == "" || caller.OrganizationID != n.OrganizationID {
		return fmt.Errorf("%w: caller organization %q does not own notification %s",
			alerts.ErrCrossTenant, caller.OrganizationID, n.ID)
	}
	return nil
}

func requireActor(ve *alerts.ValidationError, caller alerts.Caller) {
	if strings.TrimSpace(caller.UserID) == "" {
		ve.Add("actor", "caller user id is required")
	}
}

func requiredText(ve *alerts.ValidationError, payload map[string]any, field string, limit int) string {
	raw, ok := payload[field]
	if !ok || raw == nil {
		ve.Add(field, "required")
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		ve.Add(field, "must be a string")
		return ""
	}
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		ve.Add(field, "must not be blank")
	case utf8.RuneCountInString(s) > limit:
		ve.Add(field, fmt.Sprintf("must be at most %d characters", limit))
	}
	return s
}

func idList(ve *alerts.ValidationError, payload map[string]any, field string) []string {
	raw, ok := payload[field]
	if !ok || raw == nil {
		return nil
	}
	var out []string
	switch l := raw.(type) {
	case []string:
		out = l
	case []any:
		for _, e := range l {
			s, ok := e.(string)
			if !ok || strings.TrimSpace(s) == "" {
				ve.Add(field, "must be a list of non-empty strings")
				return nil
			}
			out = append(out, s)
		}
	default:
		ve.Add(field, "must be a list")
		return nil
	}
	return dedupe(out)
}

func dedupe(ids []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func checkRefs[T any](ve *alerts.ValidationError, field, org string, ids []string, refs []T, key func(T) (string, string)) {
	owner := make(map[string]string, len(refs))
	for _, r := range refs {
		id, o := key(r)
		owner[id] = o
	}
	for _, id := range ids {
		o, ok := owner[id]
		switch {
		case !ok:
			ve.Add(field, fmt.Sprintf("%s not found", id))
		case o != org:
			ve.Add(field, fmt.Sprintf("%s belongs to another organization", id))
		}
	}
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}
