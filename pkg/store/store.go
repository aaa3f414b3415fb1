// Package store declares the persistence contracts the engine depends on.
// Implementations enforce tenant scoping: every lookup is keyed by
// organization and never returns another organization's records.
package store

import (
	"context"
	"errors"

	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/alerts"
)

var ErrNotFound = errors.New("not found")

type Notifications interface {
	Save(ctx context.Context, n alerts.Notification) error
	Load(ctx context.Context, orgID, id string) (alerts.Notification, error)
}

// References is read-only reference data managed elsewhere.
type References interface {
	// FindEndpoints returns active endpoints subscribed to any of the
	// categories.
	FindEndpoints(ctx context.Context, categoryIDs []string, orgID string) ([]alerts.Endpoint, error)
	Targets(ctx context.Context, orgID string, ids []string) ([]alerts.Target, error)
	Categories(ctx context.Context, orgID string, ids []string) ([]alerts.Category, error)
}
