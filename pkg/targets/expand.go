// Package targets expands audience selections through the target
// hierarchy.
package targets

import (
	"context"
	"fmt"

	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/alerts"
)

// Source loads targets of one organization by id. Unknown ids are simply
// absent from the result.
type Source interface {
	Targets(ctx context.Context, orgID string, ids []string) ([]alerts.Target, error)
}

// Expand returns base plus every descendant, breadth first, each id once.
// The visited set makes cycles in a corrupt hierarchy harmless.
func Expand(ctx context.Context, src Source, orgID string, base []string) ([]string, error) {
	seen := make(map[string]struct{}, len(base))
	var out []string
	frontier := unseen(seen, base)

	for len(frontier) > 0 {
		out = append(out, frontier...)
		nodes, err := src.Targets(ctx, orgID, frontier)
		if err != nil {
			return nil, fmt.Errorf("load targets: %w", err)
		}
		var next []string
		for _, t := range nodes {
			if t.OrganizationID != orgID {
				continue
			}
			next = append(next, t.ChildrenIDs...)
		}
		frontier = unseen(seen, next)
	}
	return out, nil
}

// unseen returns the ids not yet in seen and marks them.
func unseen(seen map[string]struct{}, ids []string) []string {
	var out []string
	for _, id := range ids {
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
