// Package dispatch publishes approved notifications to the broker.
//
// For each endpoint the Publisher transforms the notification with the
// endpoint's mapping, wraps the payload in the wire envelope, derives the
// exchange and routing key from the organization, status and severity
// band, and delivers it with a bounded retry loop. Every attempt opens its
// own broker session and closes it before the next one. Delays between
// attempts grow as base*2^attempt plus up to one second of jitter.
//
// FanOut runs one such loop per endpoint concurrently; a failure on one
// endpoint never stops the others. The caller decides what to do with the
// aggregated Report.
package dispatch
