package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type component struct {
	ready     bool
	startedAt time.Time
	readyAt   time.Time
}

type readiness struct {
	mu           sync.RWMutex
	components   map[string]*component
	started      bool
	isKubernetes bool
	log          *zap.Logger

	readyCh     chan struct{}
	readyOnce   sync.Once
	trafficCh   chan struct{}
	trafficOnce sync.Once
}

func newReadiness(log *zap.Logger, isKubernetes bool) *readiness {
	return &readiness{
		components:   make(map[string]*component),
		isKubernetes: isKubernetes,
		log:          log,
		readyCh:      make(chan struct{}),
		trafficCh:    make(chan struct{}),
	}
}

func (r *readiness) AddComponent(name string) func() {
	if name == "" {
		panic("health: component name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.components[name]; exists {
		panic(fmt.Sprintf("health: component %q already registered", name))
	}
	r.components[name] = &component{startedAt: time.Now()}

	var once sync.Once
	return func() {
		once.Do(func() { r.markReady(name) })
	}
}

// start is called after every provider ran, so the component set is final.
func (r *readiness) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = true
	r.evaluateLocked()
}

func (r *readiness) markReady(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.components[name]
	c.ready = true
	c.readyAt = time.Now()
	r.log.Info("component ready", zap.String("component", name), zap.Duration("took", c.readyAt.Sub(c.startedAt)))
	r.evaluateLocked()
}

func (r *readiness) evaluateLocked() {
	if !r.started {
		return
	}
	for _, c := range r.components {
		if !c.ready {
			return
		}
	}
	r.readyOnce.Do(func() {
		close(r.readyCh)
		r.log.Info("all components are ready", zap.Int("components", len(r.components)))
		if !r.isKubernetes {
			r.markTrafficReady()
		}
	})
}

func (r *readiness) MarkTrafficReady() {
	if !r.IsReady() {
		return
	}
	r.markTrafficReady()
}

func (r *readiness) markTrafficReady() {
	r.trafficOnce.Do(func() {
		close(r.trafficCh)
		r.log.Info("service is ready for traffic")
	})
}

func (r *readiness) IsReady() bool {
	return isClosed(r.readyCh)
}

func (r *readiness) GetStatus() ReadinessStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := ReadinessStatus{
		Ready:        r.IsReady(),
		TrafficReady: isClosed(r.trafficCh),
		Components:   make([]ComponentStatus, 0, len(r.components)),
	}
	for name, c := range r.components {
		status.Components = append(status.Components, ComponentStatus{
			Name:      name,
			Ready:     c.ready,
			StartedAt: c.startedAt,
			ReadyAt:   c.readyAt,
		})
	}
	sort.Slice(status.Components, func(i, j int) bool {
		return status.Components[i].Name < status.Components[j].Name
	})
	return status
}

func (r *readiness) WaitReady(ctx context.Context) error {
	return wait(ctx, r.readyCh)
}

func (r *readiness) WaitForTrafficReady(ctx context.Context) error {
	return wait(ctx, r.trafficCh)
}

func wait(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
