package mongostore

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func byID(orgID, id string) bson.M {
	return bson.M{"organization_id": orgID, "id": id}
}

func byIDs(orgID string, ids []string) bson.M {
	return bson.M{"organization_id": orgID, "id": bson.M{"$in": ids}}
}

// EndpointFilter selects active endpoints of orgID subscribed to any of the
// categories.
func EndpointFilter(orgID string, categoryIDs []string) bson.M {
	return bson.M{
		"organization_id": orgID,
		"is_active":       true,
		"category_ids":    bson.M{"$in": categoryIDs},
	}
}

// normalizeDocument converts driver container types into plain maps and
// slices.
func normalizeDocument(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out, _ := normalize(doc).(map[string]any)
	return out
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case primitive.M:
		return normalize(map[string]any(t))
	case primitive.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case primitive.A:
		return normalize([]any(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	default:
		return v
	}
}
