// Package pool holds a fixed set of generation instances and hands them out
// round-robin. Pool sizing bounds request concurrency: no two concurrent
// requests ever hold the same instance at the same time because the cursor
// advances exactly once per acquisition.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/chorus-tts/chorus/internal/engine"
)

// ErrNoInstances reports a pool whose every instance failed to initialize.
// It is fatal: the process cannot synthesize anything without a worker.
var ErrNoInstances = errors.New("no engine instances available")

// Factory builds one engine instance. Called once per configured slot during
// construction; failures are logged and the slot is skipped.
type Factory func(id int) (*engine.Instance, error)

// Report describes pool health.
type Report struct {
	Total      int    `json:"total_instances"`
	Healthy    int    `json:"healthy_instances"`
	Configured int    `json:"configured_instances"`
	Status     string `json:"status"`
}

type Pool struct {
	instances  []*engine.Instance
	configured int
	log        *slog.Logger

	mu     sync.Mutex
	cursor int
}

// New attempts count independent instance constructions, keeping the
// successes. Individual failures are logged and skipped; if none succeed the
// pool is unusable and construction fails with ErrNoInstances.
func New(count int, factory Factory, log *slog.Logger) (*Pool, error) {
	p := &Pool{
		configured: count,
		log:        log.With(slog.String("component", "engine-pool")),
	}

	for i := 0; i < count; i++ {
		instance, err := factory(i)
		if err != nil {
			p.log.Error("engine instance failed to initialize",
				slog.Int("instance", i),
				slog.String("error", err.Error()))
			continue
		}
		p.instances = append(p.instances, instance)
		p.log.Info("engine instance ready", slog.Int("instance", i))
	}

	if len(p.instances) == 0 {
		return nil, ErrNoInstances
	}
	if len(p.instances) < count {
		p.log.Warn("pool running degraded",
			slog.Int("loaded", len(p.instances)),
			slog.Int("configured", count))
	}

	p.initMetrics()
	return p, nil
}

// Acquire returns the next instance round-robin. The critical section covers
// the read and the advance together so concurrent callers never observe the
// same pre-increment cursor.
func (p *Pool) Acquire() *engine.Instance {
	p.mu.Lock()
	instance := p.instances[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.instances)
	p.mu.Unlock()
	return instance
}

// Size returns the number of usable instances.
func (p *Pool) Size() int { return len(p.instances) }

// Health reports per-pool status: healthy only when every instance reports
// both backends loaded.
func (p *Pool) Health() Report {
	healthy := 0
	for _, instance := range p.instances {
		if instance.Healthy() {
			healthy++
		}
	}
	status := "healthy"
	if healthy < len(p.instances) {
		status = "degraded"
	}
	return Report{
		Total:      len(p.instances),
		Healthy:    healthy,
		Configured: p.configured,
		Status:     status,
	}
}

func (p *Pool) initMetrics() {
	meter := otel.Meter("github.com/chorus-tts/chorus/pool")
	total, err := meter.Int64ObservableGauge("chorus.pool.instances",
		metric.WithDescription("Number of loaded engine instances"))
	if err != nil {
		p.log.Warn("failed to register pool metrics", slog.String("error", err.Error()))
		return
	}
	healthy, err := meter.Int64ObservableGauge("chorus.pool.instances.healthy",
		metric.WithDescription("Number of engine instances reporting healthy backends"))
	if err != nil {
		p.log.Warn("failed to register pool metrics", slog.String("error", err.Error()))
		return
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		report := p.Health()
		o.ObserveInt64(total, int64(report.Total))
		o.ObserveInt64(healthy, int64(report.Healthy))
		return nil
	}, total, healthy)
	if err != nil {
		p.log.Warn("failed to register pool metrics callback", slog.String("error", err.Error()))
	}
}
