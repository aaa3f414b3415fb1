// Package affordance derives the next actions a caller may take on a
// notification. The result depends only on the notification's status, its
// id (for paths), the caller's permissions and whether the caller authored
// the notification.
package affordance

import (
	"net/http"

	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/alerts"
	"github.com/roboricindustries/raycon-dispatch/pkg/workflow"
)

type Action string

const (
	ActionSelf     Action = "self"
	ActionEdit     Action = "edit"
	ActionApprove  Action = "approve"
	ActionDeny     Action = "deny"
	ActionDispatch Action = "dispatch"
)

// Invocation is how the HTTP layer renders an action as a link.
type Invocation struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

type rule struct {
	action Action
	method string
	suffix string
	perm   alerts.Permission
	when   func(alerts.Status) bool
}

var rules = []rule{
	{ActionSelf, http.MethodGet, "", alerts.PermRead, func(alerts.Status) bool { return true }},
	{ActionEdit, http.MethodPatch, "", alerts.PermEdit, workflow.Editable},
	{ActionApprove, http.MethodPost, "/approve", alerts.PermApprove, func(s alerts.Status) bool {
		return workflow.Allowed(s, workflow.ActionApprove)
	}},
	{ActionDeny, http.MethodPost, "/deny", alerts.PermDeny, func(s alerts.Status) bool {
		return workflow.Allowed(s, workflow.ActionDeny)
	}},
	// Operator re-dispatch of an approved notification whose fan-out
	// did not fully succeed.
	{ActionDispatch, http.MethodPost, "/dispatch", alerts.PermDispatch, func(s alerts.Status) bool {
		return workflow.Allowed(s, workflow.ActionMarkDispatched)
	}},
}

const basePath = "/notifications/"

// Compute returns the caller's affordances for n. An author may always
// view their own notification even without the read permission.
func Compute(n alerts.Notification, perms alerts.PermissionSet, isSelf bool) map[Action]Invocation {
	out := make(map[Action]Invocation, len(rules))
	for _, r := range rules {
		if !r.when(n.Status) {
			continue
		}
		granted := perms.Has(r.perm) || (r.action == ActionSelf && isSelf)
		if !granted {
			continue
		}
		out[r.action] = Invocation{Method: r.method, Path: basePath + n.ID + r.suffix}
	}
	return out
}

// Allows reports whether action is offered for the status and permissions.
func Allows(status alerts.Status, perms alerts.PermissionSet, isSelf bool, action Action) bool {
	_, ok := Compute(alerts.Notification{Status: status}, perms, isSelf)[action]
	return ok
}

// Permission returns the permission an action requires.
func Permission(action Action) (alerts.Permission, bool) {
	for _, r := range rules {
		if r.action == action {
			return r.perm, true
		}
	}
	return "", false
}
