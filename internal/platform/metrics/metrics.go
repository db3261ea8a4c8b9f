// Package metrics delivers the pipeline metrics of short-lived CLI runs to a
// Prometheus Pushgateway. Long-running servers are scraped instead.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Pusher sends a registry's metrics to a Pushgateway under one job name.
type Pusher struct {
	pusher *push.Pusher
}

// NewPusher returns nil when url is empty, and a nil Pusher's Push is a no-op.
func NewPusher(url, job string, gatherer prometheus.Gatherer) *Pusher {
	if url == "" {
		return nil
	}
	return &Pusher{pusher: push.New(url, job).Gatherer(gatherer)}
}

// Push adds the session's metrics to the gateway, tagged with the session id.
func (p *Pusher) Push(ctx context.Context, sessionID string) error {
	if p == nil {
		return nil
	}
	if err := p.pusher.Grouping("session_id", sessionID).AddContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
