// Package engine orchestrates the notification lifecycle: it validates and
// records inbound notifications, applies operator decisions, resolves
// endpoints and promotes a notification to dispatched only after every
// endpoint accepted it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roboricindustries/raycon-dispatch/pkg/affordance"
	"github.com/roboricindustries/raycon-dispatch/pkg/dispatch"
	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/alerts"
	"github.com/roboricindustries/raycon-dispatch/pkg/store"
	"github.com/roboricindustries/raycon-dispatch/pkg/targets"
	"github.com/roboricindustries/raycon-dispatch/pkg/workflow"
)

var (
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = store.ErrNotFound
)

// AudienceKey is the source document key holding the expanded target ids.
const AudienceKey = "audience"

// Dispatcher fans a notification out to endpoints.
type Dispatcher interface {
	FanOut(ctx context.Context, n alerts.Notification, endpoints []alerts.Endpoint, correlationID string, extra map[string]any) dispatch.Report
}

type Options struct {
	Notifications store.Notifications
	References    store.References
	Dispatcher    Dispatcher
	Machine       *workflow.Machine
	Logger        *slog.Logger
}

type Engine struct {
	notifications store.Notifications
	refs          store.References
	dispatcher    Dispatcher
	machine       *workflow.Machine
	log           *slog.Logger
}

func New(opts Options) (*Engine, error) {
	switch {
	case opts.Notifications == nil:
		return nil, errors.New("engine: notification store is required")
	case opts.References == nil:
		return nil, errors.New("engine: reference store is required")
	case opts.Dispatcher == nil:
		return nil, errors.New("engine: dispatcher is required")
	}
	if opts.Machine == nil {
		opts.Machine = workflow.NewMachine()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		notifications: opts.Notifications,
		refs:          opts.References,
		dispatcher:    opts.Dispatcher,
		machine:       opts.Machine,
		log:           opts.Logger,
	}, nil
}

// Outcome is what an operation hands back to the caller. Dispatch is set
// whenever a fan-out ran; a notification that stays approved after a
// fan-out carries the failed endpoints there.
type Outcome struct {
	Notification alerts.Notification
	Warnings     []workflow.Warning
	Dispatch     *dispatch.Report
	Actions      map[affordance.Action]affordance.Invocation
}

// Receive records a new notification for the caller's organization.
func (e *Engine) Receive(ctx context.Context, caller alerts.Caller, payload map[string]any, origin string) (Outcome, error) {
	res, err := e.machine.Receive(payload, origin, caller)
	if err != nil {
		return Outcome{}, err
	}
	n := res.Notification
	if err := e.notifications.Save(ctx, n); err != nil {
		return Outcome{}, fmt.Errorf("save notification: %w", err)
	}
	e.log.Info("notification received",
		slog.String("notification_id", n.ID),
		slog.String("organization_id", n.OrganizationID),
		slog.String("origin", n.Origin),
		slog.Int("severity", int(n.Severity)),
	)
	e.logWarnings(n, res.Warnings)
	return e.outcome(caller, n, res.Warnings, nil), nil
}

// Get returns the notification if the caller may view it.
func (e *Engine) Get(ctx context.Context, caller alerts.Caller, id string) (Outcome, error) {
	n, err := e.load(ctx, caller, id)
	if err != nil {
		return Outcome{}, err
	}
	if !affordance.Allows(n.Status, caller.Permissions, isSelf(caller, n), affordance.ActionSelf) {
		return Outcome{}, fmt.Errorf("%w: read notification %s", ErrForbidden, id)
	}
	return e.outcome(caller, n, nil, nil), nil
}

// Affordances lists the actions the caller may take next on a notification.
func (e *Engine) Affordances(ctx context.Context, caller alerts.Caller, id string) (map[affordance.Action]affordance.Invocation, error) {
	n, err := e.load(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	return affordance.Compute(n, caller.Permissions, isSelf(caller, n)), nil
}

// Approve records the audience selection and immediately dispatches.
func (e *Engine) Approve(ctx context.Context, caller alerts.Caller, id string, targetIDs, categoryIDs []string) (Outcome, error) {
	if err := authorize(caller, affordance.ActionApprove); err != nil {
		return Outcome{}, err
	}
	n, err := e.load(ctx, caller, id)
	if err != nil {
		return Outcome{}, err
	}

	sel := workflow.Selection{TargetIDs: targetIDs, CategoryIDs: categoryIDs}
	if sel.Targets, err = e.refs.Targets(ctx, n.OrganizationID, targetIDs); err != nil {
		return Outcome{}, fmt.Errorf("resolve targets: %w", err)
	}
	if sel.Categories, err = e.refs.Categories(ctx, n.OrganizationID, categoryIDs); err != nil {
		return Outcome{}, fmt.Errorf("resolve categories: %w", err)
	}
	if sel.Targets == nil {
		sel.Targets = []alerts.Target{}
	}
	if sel.Categories == nil {
		sel.Categories = []alerts.Category{}
	}

	res, err := e.machine.Approve(n, sel, caller)
	if err != nil {
		return Outcome{}, err
	}
	approved := res.Notification
	if err := e.notifications.Save(ctx, approved); err != nil {
		return Outcome{}, fmt.Errorf("save notification: %w", err)
	}
	e.log.Info("notification approved",
		slog.String("notification_id", approved.ID),
		slog.String("approved_by", approved.ApprovedBy),
		slog.Int("targets", len(approved.TargetIDs)),
		slog.Int("categories", len(approved.CategoryIDs)),
	)
	e.logWarnings(approved, res.Warnings)

	return e.dispatch(ctx, caller, approved, res.Warnings)
}

func (e *Engine) Deny(ctx context.Context, caller alerts.Caller, id, reason string) (Outcome, error) {
	if err := authorize(caller, affordance.ActionDeny); err != nil {
		return Outcome{}, err
	}
	n, err := e.load(ctx, caller, id)
	if err != nil {
		return Outcome{}, err
	}
	res, err := e.machine.Deny(n, reason, caller)
	if err != nil {
		return Outcome{}, err
	}
	if err := e.notifications.Save(ctx, res.Notification); err != nil {
		return Outcome{}, fmt.Errorf("save notification: %w", err)
	}
	e.log.Info("notification denied",
		slog.String("notification_id", res.Notification.ID),
		slog.String("denied_by", res.Notification.DeniedBy),
	)
	return e.outcome(caller, res.Notification, nil, nil), nil
}

// Dispatch repeats the fan-out of an approved notification whose previous
// dispatch did not reach every endpoint. Endpoints are resolved again.
func (e *Engine) Dispatch(ctx context.Context, caller alerts.Caller, id string) (Outcome, error) {
	if err := authorize(caller, affordance.ActionDispatch); err != nil {
		return Outcome{}, err
	}
	n, err := e.load(ctx, caller, id)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := workflow.Next(n.Status, workflow.ActionMarkDispatched); err != nil {
		return Outcome{}, err
	}
	return e.dispatch(ctx, caller, n, nil)
}

// dispatch resolves the endpoints of an approved notification, fans out and
// promotes on full success. Errors returned here happen after n was
// persisted as approved; the Outcome still describes that state.
func (e *Engine) dispatch(ctx context.Context, caller alerts.Caller, n alerts.Notification, warnings []workflow.Warning) (Outcome, error) {
	log := e.log.With(
		slog.String("notification_id", n.ID),
		slog.String("correlation_id", n.CorrelationID),
	)

	audience, err := targets.Expand(ctx, e.refs, n.OrganizationID, n.TargetIDs)
	if err != nil {
		log.Warn("audience expansion failed, using selected targets", slog.Any("error", err))
		audience = n.TargetIDs
	}

	endpoints, err := e.refs.FindEndpoints(ctx, n.CategoryIDs, n.OrganizationID)
	if err != nil {
		log.Error("endpoint resolution failed", slog.Any("error", err))
		return e.outcome(caller, n, warnings, nil), fmt.Errorf("resolve endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		log.Warn("no active endpoints for the selected categories")
		warnings = append(warnings, workflow.Warning{
			Field:   "category_ids",
			Message: "no active endpoints subscribe to the selected categories; notification was not dispatched",
		})
		return e.outcome(caller, n, warnings, nil), nil
	}

	aud := make([]any, len(audience))
	for i, id := range audience {
		aud[i] = id
	}
	report := e.dispatcher.FanOut(ctx, n, endpoints, n.CorrelationID, map[string]any{AudienceKey: aud})

	if !report.AllSucceeded() {
		failed := report.Failed()
		ids := make([]string, len(failed))
		for i, r := range failed {
			ids[i] = r.EndpointID
		}
		log.Warn("dispatch incomplete, notification stays approved",
			slog.Int("endpoints", len(report.Results)),
			slog.Any("failed", ids),
			slog.Any("error", report.Err()),
		)
		return e.outcome(caller, n, warnings, &report), nil
	}

	res, err := e.machine.MarkDispatched(n, caller)
	if err != nil {
		return e.outcome(caller, n, warnings, &report), err
	}
	// Messages are already out; the status write must not be abandoned
	// because the request went away.
	if err := e.notifications.Save(context.WithoutCancel(ctx), res.Notification); err != nil {
		log.Error("save dispatched status failed", slog.Any("error", err))
		return e.outcome(caller, n, warnings, &report), fmt.Errorf("save notification: %w", err)
	}
	log.Info("notification dispatched", slog.Int("endpoints", len(report.Results)))
	return e.outcome(caller, res.Notification, warnings, &report), nil
}

// load reads a notification of the caller's organization. Records of other
// organizations are indistinguishable from missing ones.
func (e *Engine) load(ctx context.Context, caller alerts.Caller, id string) (alerts.Notification, error) {
	if caller.OrganizationID == "" {
		return alerts.Notification{}, fmt.Errorf("%w: caller has no organization", alerts.ErrCrossTenant)
	}
	n, err := e.notifications.Load(ctx, caller.OrganizationID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return alerts.Notification{}, fmt.Errorf("notification %s: %w", id, ErrNotFound)
		}
		return alerts.Notification{}, fmt.Errorf("load notification %s: %w", id, err)
	}
	if n.OrganizationID != caller.OrganizationID {
		return alerts.Notification{}, fmt.Errorf("%w: notification %s", alerts.ErrCrossTenant, id)
	}
	return n, nil
}

func (e *Engine) outcome(caller alerts.Caller, n alerts.Notification, warnings []workflow.Warning, report *dispatch.Report) Outcome {
	return Outcome{
		Notification: n,
		Warnings:     warnings,
		Dispatch:     report,
		Actions:      affordance.Compute(n, caller.Permissions, isSelf(caller, n)),
	}
}

func (e *Engine) logWarnings(n alerts.Notification, warnings []workflow.Warning) {
	for _, w := range warnings {
		e.log.Warn("notification warning",
			slog.String("notification_id", n.ID),
			slog.String("field", w.Field),
			slog.String("message", w.Message),
		)
	}
}

func authorize(caller alerts.Caller, action affordance.Action) error {
	perm, ok := affordance.Permission(action)
	if !ok || !caller.Permissions.Has(perm) {
		return fmt.Errorf("%w: %s requires %s", ErrForbidden, action, perm)
	}
	return nil
}

func isSelf(caller alerts.Caller, n alerts.Notification) bool {
	return caller.UserID != "" && caller.UserID == n.CreatedBy
}
