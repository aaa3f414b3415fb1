package common

// Route addresses a message on the broker.
type Route struct {
	Exchange   string // e.g. "notifications.org-1"
	RoutingKey string // e.g. "org-1.approved.high"
}

const (
	ContentTypeJSON = "application/json"
	ProducerName    = "raycon-dispatch"
)
