package alerts

import (
	"slices"
	"time"
)

// Endpoint is an externally managed dispatch destination. DataMapping holds
// the user-authored mapping document exactly as persisted.
type Endpoint struct {
	ID             string            `json:"id" bson:"id"`
	OrganizationID string            `json:"organization_id" bson:"organization_id"`
	Name           string            `json:"name" bson:"name"`
	URL            string            `json:"url" bson:"url"`
	DataMapping    map[string]any    `json:"data_mapping,omitempty" bson:"data_mapping,omitempty"`
	CategoryIDs    []string          `json:"category_ids" bson:"category_ids"`
	Headers        map[string]string `json:"headers,omitempty" bson:"headers,omitempty"`
	// Per-attempt timeout in seconds; zero means the dispatcher default.
	TimeoutSeconds int               `json:"timeout" bson:"timeout"`
	RetryAttempts  int               `json:"retry_attempts" bson:"retry_attempts"`
	IsActive       bool              `json:"is_active" bson:"is_active"`
}

// Timeout returns the per-attempt timeout, or zero when none is set.
func (e *Endpoint) Timeout() time.Duration {
	if e.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// Subscribes reports whether e listens to any of the given categories.
func (e *Endpoint) Subscribes(categoryIDs []string) bool {
	for _, c := range categoryIDs {
		if slices.Contains(e.CategoryIDs, c) {
			return true
		}
	}
	return false
}

type Target struct {
	ID             string   `json:"id" bson:"id"`
	OrganizationID string   `json:"organization_id" bson:"organization_id"`
	Name           string   `json:"name" bson:"name"`
	ParentID       string   `json:"parent_id,omitempty" bson:"parent_id,omitempty"`
	ChildrenIDs    []string `json:"children_ids,omitempty" bson:"children_ids,omitempty"`
}

type Category struct {
	ID             string   `json:"id" bson:"id"`
	OrganizationID string   `json:"organization_id" bson:"organization_id"`
	Name           string   `json:"name" bson:"name"`
	TargetIDs      []string `json:"target_ids,omitempty" bson:"target_ids,omitempty"`
}
