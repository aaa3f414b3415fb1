package dispatch

import (
	"strings"

	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/alerts"
	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/common"
)

const DefaultExchangePrefix = "notifications"

// RouteFor derives where a notification is published: one topic exchange per
// organization, keyed by <org>.<status>.<severity band>.
func RouteFor(prefix string, n alerts.Notification) common.Route {
	if prefix == "" {
		prefix = DefaultExchangePrefix
	}
	org := routingWord(n.OrganizationID)
	return common.Route{
		Exchange:   prefix + "." + org,
		RoutingKey: org + "." + routingWord(string(n.Status)) + "." + n.Severity.Band(),
	}
}

// routingWord keeps a value usable as a single topic word.
func routingWord(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '#', ' ':
			return '_'
		}
		return r
	}, s)
}
