package engine

import (
	"context"
	"time"
)

// HealthChecker probes one backend.
type HealthChecker interface {
	Name() string
	Healthy(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc struct {
	Component string
	Check     func(ctx context.Context) error
}

func (f HealthCheckFunc) Name() string { return f.Component }

func (f HealthCheckFunc) Healthy(ctx context.Context) error { return f.Check(ctx) }

// HealthStatus reports the engine's readiness.
type HealthStatus struct {
	Status   string            `json:"status"` // healthy | degraded
	Programs int               `json:"programs"`
	LoadedAt time.Time         `json:"loaded_at"`
	Backends map[string]string `json:"backends,omitempty"`
}

// Health reports the active program count and every registered backend
// probe. Any failing probe degrades the status; Decide stays available
// because a degraded backend only affects the steps that use it.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{Status: "healthy", Backends: map[string]string{}}
	if set := e.programs.Load(); set != nil {
		status.Programs = len(set.programs)
		status.LoadedAt = set.loadedAt
	}
	for _, hc := range e.health {
		if err := hc.Healthy(ctx); err != nil {
			status.Status = "degraded"
			status.Backends[hc.Name()] = err.Error()
			continue
		}
		status.Backends[hc.Name()] = "ok"
	}
	if status.Programs == 0 {
		status.Status = "degraded"
	}
	return status
}
