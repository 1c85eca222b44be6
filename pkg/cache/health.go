package cache

import (
	"context"
	"time"
)

// HealthStatus reports cache layer health for a monitoring endpoint.
type HealthStatus struct {
	Healthy      bool        `json:"healthy"`
	Degraded     bool        `json:"degraded"`
	BreakerState string      `json:"breaker_state"`
	PingMS       float64     `json:"ping_ms"`
	Error        string      `json:"error,omitempty"`
	Stats        StatsReport `json:"stats"`
}

// Health probes the backend and returns the layer's current status. A
// degraded cache is not an error condition (the layer keeps serving misses)
// but monitoring needs to see it.
func (c *TieredCache) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Degraded:     c.disabled.Load(),
		BreakerState: c.client.BreakerState(),
		Stats:        c.Stats(),
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	if err := c.client.Ping(pingCtx); err != nil {
		status.Error = err.Error()
		return status
	}
	status.PingMS = float64(time.Since(start).Microseconds()) / 1000.0
	status.Healthy = !status.Degraded
	return status
}
