package health

import (
	"context"
	"time"
)

type ComponentStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	StartedAt time.Time `json:"started_at"`
	ReadyAt   time.Time `json:"ready_at,omitempty"`
}

type ReadinessStatus struct {
	Ready        bool              `json:"ready"`
	TrafficReady bool              `json:"traffic_ready"`
	Components   []ComponentStatus `json:"components"`
}

// ComponentManager registers components that must become ready before the
// service is. The returned func marks the component ready.
type ComponentManager interface {
	AddComponent(name string) func()
}

type ReadinessChecker interface {
	IsReady() bool
	GetStatus() ReadinessStatus
}

type ReadinessWaiter interface {
	// WaitReady blocks until every registered component is ready.
	WaitReady(ctx context.Context) error
	// WaitForTrafficReady blocks until the service may receive traffic.
	WaitForTrafficReady(ctx context.Context) error
}

// TrafficController is called by the readiness probe handler once it has
// reported ready, which is when the orchestrator starts routing traffic.
type TrafficController interface {
	MarkTrafficReady()
}
