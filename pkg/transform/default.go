package transform

import (
	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/alerts"
	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/common"
)

const DefaultFormat = "default.v1"

// DefaultPayload is the fixed payload shape used when an endpoint has no
// usable mapping. It only reads the source, never fails and is deterministic.
func DefaultPayload(source map[string]any) map[string]any {
	get := func(path string) any {
		v, err := Get(source, path)
		if err != nil {
			return nil
		}
		return deepCopy(v)
	}

	severity := get("severity")
	sevLabel := "unknown"
	if s, err := alerts.ParseSeverity(severity); err == nil {
		sevLabel = s.Label()
	}
	statusLabel := "Unknown"
	if s, ok := get("status").(string); ok {
		statusLabel = alerts.Status(s).Label()
	}

	id := get("id")
	if id == nil {
		id = get("notification_id")
	}

	return map[string]any{
		"notification_id": id,
		"title":           get("title"),
		"body":            get("body"),
		"severity":        sevLabel,
		"severity_level":  severity,
		"status":          statusLabel,
		"targets":         listOrEmpty(get("target_ids")),
		"categories":      listOrEmpty(get("category_ids")),
		"metadata": map[string]any{
			"organization_id": get("organization_id"),
			"origin":          get("origin"),
			"created_at":      get("created_at"),
			"producer":        common.ProducerName,
			"format":          DefaultFormat,
		},
	}
}

func listOrEmpty(v any) any {
	if l, ok := asList(v); ok {
		return l
	}
	return []any{}
}
