package dispatch

import (
	"context"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/roboricindustries/raycon-dispatch/pkg/schemas/alerts"
)

// Report collects per-endpoint results in endpoint order.
type Report struct {
	Results []Result `json:"results"`
}

// AllSucceeded is true only for a non-empty report without failures.
func (r Report) AllSucceeded() bool {
	if len(r.Results) == 0 {
		return false
	}
	for _, res := range r.Results {
		if !res.Success {
			return false
		}
	}
	return true
}

func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Success {
			out = append(out, res)
		}
	}
	return out
}

// Err combines every endpoint failure, or nil.
func (r Report) Err() error {
	var err error
	for _, res := range r.Results {
		if !res.Success {
			err = multierr.Append(err, res.Err)
		}
	}
	return err
}

// FanOut publishes n to every endpoint concurrently and waits for all of
// them. Endpoint failures are independent.
func (p *Publisher) FanOut(ctx context.Context, n alerts.Notification, endpoints []alerts.Endpoint, correlationID string, extra map[string]any) Report {
	results := make([]Result, len(endpoints))
	var g errgroup.Group
	if p.opts.Concurrency > 0 {
		g.SetLimit(p.opts.Concurrency)
	}
	for i, ep := range endpoints {
		i, ep := i, ep // per-iteration copies (go.mod language version predates Go 1.22 loopvar)
		g.Go(func() error {
			results[i] = p.Publish(ctx, Request{
				Notification:  n,
				Endpoint:      ep,
				CorrelationID: correlationID,
				Extra:         extra,
			})
			return nil
		})
	}
	_ = g.Wait()
	return Report{Results: results}
}
