package workflow

import (
	"errors"
	"fmt"

	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/alerts"
)

type Action string

const (
	ActionApprove        Action = "approve"
	ActionDeny           Action = "deny"
	ActionMarkDispatched Action = "mark_dispatched"
)

type transition struct {
	from alerts.Status
	to   alerts.Status
}

var transitions = map[Action]transition{
	ActionApprove:        {from: alerts.StatusReceived, to: alerts.StatusApproved},
	ActionDeny:           {from: alerts.StatusReceived, to: alerts.StatusDenied},
	ActionMarkDispatched: {from: alerts.StatusApproved, to: alerts.StatusDispatched},
}

var ErrInvalidTransition = errors.New("invalid transition")

type InvalidTransitionError struct {
	From   alerts.Status
	Action Action
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s a %s notification", ErrInvalidTransition, e.Action, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// Next returns the status a reaches from from.
func Next(from alerts.Status, a Action) (alerts.Status, error) {
	t, ok := transitions[a]
	if !ok || t.from != from {
		return from, &InvalidTransitionError{From: from, Action: a}
	}
	return t.to, nil
}

func Allowed(from alerts.Status, a Action) bool {
	_, err := Next(from, a)
	return err == nil
}

// Editable reports whether content may still change.
func Editable(s alerts.Status) bool { return s == alerts.StatusReceived }
