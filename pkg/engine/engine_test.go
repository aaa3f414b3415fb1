package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/roboricindustries/raycon-dispatch/pkg/affordance"
	"github.com/roboricindustries/raycon-dispatch/pkg/dispatch"
	"github.com/roboricindustries/raycon-dispatch/pkg/pubsub"
	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/alerts"
	"github.com/roboricindustries/raycon-dispatch/pkg/store/memstore"
	"github.com/roboricindustries/raycon-dispatch/pkg/workflow"
)

// broker accepts every publish except those for endpoints listed in down.
type broker struct {
	mu   sync.Mutex
	down map[string]bool
	sent map[string][]byte
}

func (b *broker) Dial(context.Context) (pubsub.Session, error) { return b, nil }

func (b *broker) Publish(_ context.Context, _, _ string, body []byte, p pubsub.Properties) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ep, _ := p.Headers["x-endpoint-id"].(string)
	if b.down[ep] {
		return pubsub.ErrNacked
	}
	b.sent[ep] = body
	return nil
}

func (b *broker) Close() error { return nil }

var (
	reporter = alerts.Caller{UserID: "u-1", OrganizationID: "org-1"}
	operator = alerts.Caller{
		UserID:         "u-2",
		OrganizationID: "org-1",
		Permissions: alerts.NewPermissionSet(
			alerts.PermRead, alerts.PermApprove, alerts.PermDeny, alerts.PermDispatch,
		),
	}
)

type fixture struct {
	engine *Engine
	store  *memstore.Store
	broker *broker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	st.PutTarget(alerts.Target{ID: "t-1", OrganizationID: "org-1", ChildrenIDs: []string{"t-1a"}})
	st.PutTarget(alerts.Target{ID: "t-1a", OrganizationID: "org-1"})
	st.PutTarget(alerts.Target{ID: "t-x", OrganizationID: "org-2"})
	st.PutCategory(alerts.Category{ID: "c-1", OrganizationID: "org-1"})
	st.PutEndpoint(alerts.Endpoint{ID: "ep-1", OrganizationID: "org-1", CategoryIDs: []string{"c-1"}, RetryAttempts: 1, IsActive: true,
		DataMapping: map[string]any{"mappings": []any{
			map[string]any{"source": "$.title", "target": "$.text"},
			map[string]any{"source": "$.audience", "target": "$.to"},
		}},
	})
	st.PutEndpoint(alerts.Endpoint{ID: "ep-2", OrganizationID: "org-1", CategoryIDs: []string{"c-1"}, RetryAttempts: 2, IsActive: true})

	b := &broker{down: map[string]bool{}, sent: map[string][]byte{}}
	pub := dispatch.NewPublisher(dispatch.Options{
		Dialer: b,
		Sleep:  func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})
	eng, err := New(Options{Notifications: st, References: st, Dispatcher: pub})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{engine: eng, store: st, broker: b}
}

func (f *fixture) receive(t *testing.T) alerts.Notification {
	t.Helper()
	out, err := f.engine.Receive(context.Background(), reporter, map[string]any{
		"title": "Flood warning", "body": "River rising", "severity": 4,
	}, "sensor-gw")
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	return out.Notification
}

func (f *fixture) stored(t *testing.T, id string) alerts.Notification {
	t.Helper()
	n, err := f.store.Load(context.Background(), "org-1", id)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestApproveDispatchesToEveryEndpoint(t *testing.T) {
	f := newFixture(t)
	n := f.receive(t)

	out, err := f.engine.Approve(context.Background(), operator, n.ID, []string{"t-1"}, []string{"c-1"})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if out.Notification.Status != alerts.StatusDispatched || out.Notification.DispatchedAt == nil {
		t.Fatalf("status = %s", out.Notification.Status)
	}
	if out.Dispatch == nil || !out.Dispatch.AllSucceeded() || len(out.Dispatch.Results) != 2 {
		t.Fatalf("report = %+v", out.Dispatch)
	}
	if got := f.stored(t, n.ID).Status; got != alerts.StatusDispatched {
		t.Fatalf("stored status = %s", got)
	}

	var env struct {
		CorrelationID string         `json:"correlation_id"`
		Payload       map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(f.broker.sent["ep-1"], &env); err != nil {
		t.Fatal(err)
	}
	if env.CorrelationID != n.CorrelationID {
		t.Errorf("correlation id = %s, want %s", env.CorrelationID, n.CorrelationID)
	}
	if env.Payload["text"] != "Flood warning" {
		t.Errorf("payload = %v", env.Payload)
	}
	if to, _ := env.Payload["to"].([]any); len(to) != 2 || to[0] != "t-1" || to[1] != "t-1a" {
		t.Errorf("audience = %v", env.Payload["to"])
	}
	if len(out.Actions) != 1 {
		t.Errorf("a dispatched notification only offers self, got %v", out.Actions)
	}
}

func TestPartialFailureKeepsApproved(t *testing.T) {
	f := newFixture(t)
	f.broker.down["ep-2"] = true
	n := f.receive(t)

	out, err := f.engine.Approve(context.Background(), operator, n.ID, []string{"t-1"}, []string{"c-1"})
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if out.Notification.Status != alerts.StatusApproved {
		t.Fatalf("status = %s, want approved", out.Notification.Status)
	}
	failed := out.Dispatch.Failed()
	if len(failed) != 1 || failed[0].EndpointID != "ep-2" || failed[0].Attempts != 3 {
		t.Fatalf("failed = %+v", failed)
	}
	if _, ok := f.broker.sent["ep-1"]; !ok {
		t.Fatal("healthy endpoint was not published to")
	}
	stored := f.stored(t, n.ID)
	if stored.Status != alerts.StatusApproved || stored.DispatchedAt != nil {
		t.Fatalf("stored = %+v", stored)
	}
	if _, ok := out.Actions[affordance.ActionDispatch]; !ok {
		t.Fatalf("operator should be offered a re-dispatch, got %v", out.Actions)
	}

	f.broker.down["ep-2"] = false
	again, err := f.engine.Dispatch(context.Background(), operator, n.ID)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if again.Notification.Status != alerts.StatusDispatched {
		t.Fatalf("status after re-dispatch = %s", again.Notification.Status)
	}
}

func TestApproveWithoutEndpointsWarns(t *testing.T) {
	f := newFixture(t)
	f.store.PutCategory(alerts.Category{ID: "c-empty", OrganizationID: "org-1"})
	n := f.receive(t)

	out, err := f.engine.Approve(context.Background(), operator, n.ID, []string{"t-1"}, []string{"c-empty"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Notification.Status != alerts.StatusApproved || out.Dispatch != nil {
		t.Fatalf("outcome = %+v", out)
	}
	if len(out.Warnings) == 0 {
		t.Fatal("expected a warning about missing endpoints")
	}
}

func TestApproveRejectsForeignTargets(t *testing.T) {
	f := newFixture(t)
	n := f.receive(t)
	saves := f.store.Saves()

	_, err := f.engine.Approve(context.Background(), operator, n.ID, []string{"t-x"}, []string{"c-1"})
	var ve *alerts.ValidationError
	if !errors.As(err, &ve) || !ve.Has("target_ids") {
		t.Fatalf("err = %v", err)
	}
	if f.store.Saves() != saves || f.stored(t, n.ID).Status != alerts.StatusReceived {
		t.Fatal("rejected approval was persisted")
	}
}

func TestDeny(t *testing.T) {
	f := newFixture(t)
	n := f.receive(t)

	_, err := f.engine.Deny(context.Background(), operator, n.ID, "too short")
	var ve *alerts.ValidationError
	if !errors.As(err, &ve) || !ve.Has("denial_reason") {
		t.Fatalf("err = %v", err)
	}
	if f.stored(t, n.ID).Status != alerts.StatusReceived {
		t.Fatal("status changed after rejected denial")
	}

	out, err := f.engine.Deny(context.Background(), operator, n.ID, "duplicate of an earlier alert")
	if err != nil {
		t.Fatal(err)
	}
	if out.Notification.Status != alerts.StatusDenied {
		t.Fatalf("status = %s", out.Notification.Status)
	}
	if _, err := f.engine.Approve(context.Background(), operator, n.ID, []string{"t-1"}, []string{"c-1"}); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Fatalf("approving a denied notification: %v", err)
	}
	if len(f.broker.sent) != 0 {
		t.Fatal("denied notification was published")
	}
}

func TestPermissionsAndTenancy(t *testing.T) {
	f := newFixture(t)
	n := f.receive(t)
	ctx := context.Background()

	if _, err := f.engine.Approve(ctx, reporter, n.ID, []string{"t-1"}, []string{"c-1"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("approve without permission: %v", err)
	}
	if _, err := f.engine.Dispatch(ctx, operator, n.ID); !errors.Is(err, workflow.ErrInvalidTransition) {
		t.Errorf("dispatching a received notification: %v", err)
	}

	outsider := operator
	outsider.OrganizationID = "org-2"
	if _, err := f.engine.Approve(ctx, outsider, n.ID, []string{"t-1"}, []string{"c-1"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-tenant approve: %v", err)
	}
	if _, err := f.engine.Get(ctx, alerts.Caller{UserID: "u-1"}, n.ID); !errors.Is(err, alerts.ErrCrossTenant) {
		t.Errorf("caller without organization: %v", err)
	}

	// The author may view their own notification without the read permission.
	if _, err := f.engine.Get(ctx, reporter, n.ID); err != nil {
		t.Errorf("author read: %v", err)
	}
	stranger := alerts.Caller{UserID: "u-3", OrganizationID: "org-1"}
	if _, err := f.engine.Get(ctx, stranger, n.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("stranger read: %v", err)
	}

	acts, err := f.engine.Affordances(ctx, operator, n.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range []affordance.Action{affordance.ActionSelf, affordance.ActionApprove, affordance.ActionDeny} {
		if _, ok := acts[a]; !ok {
			t.Errorf("operator missing %s in %v", a, acts)
		}
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("New without stores succeeded")
	}
}
