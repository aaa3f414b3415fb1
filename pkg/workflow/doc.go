// Package workflow holds the notification state machine.
//
//	received ──approve──▶ approved ──mark_dispatched──▶ dispatched
//	    │
//	    └──────deny──────▶ denied
//
// Every operation is a pure function of its inputs: it never mutates the
// notification it is given and returns either the new record or an error.
// Expected input problems come back as *alerts.ValidationError,
// *InvalidTransitionError or alerts.ErrCrossTenant, never as panics.
package workflow
