package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/docpipe/internal/metrics"
	"github.com/dshills/docpipe/internal/pubsub"
)

const (
	// DefaultCapacity is the sliding window size
	DefaultCapacity = 10
	// DefaultInterval is the sampling period
	DefaultInterval = 2 * time.Second

	highMemoryFraction = 0.8
	plentyAvailableGB  = 16
	highCPUFraction    = 0.85
	cpuTrendSamples    = 5
	minWorkers         = 2
	maxWorkers         = 12
)

// LoadWeights blends memory and CPU into a single load figure. A zero value
// means "take the larger of the two".
type LoadWeights struct {
	Memory float64
	CPU    float64
}

// WeightsForArch returns the load weighting for a host architecture. Unified
// memory hosts (arm64) weigh memory more heavily.
func WeightsForArch(arch string) LoadWeights {
	if arch == "arm64" || arch == "arm" {
		return LoadWeights{Memory: 0.7, CPU: 0.3}
	}
	return LoadWeights{}
}

// Options configures a Monitor
type Options struct {
	BaseWorkers int
	Capacity    int
	Interval    time.Duration
	Weights     *LoadWeights
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
}

// Monitor owns the sampling task and the sample history
type Monitor struct {
	source      Source
	ring        *Ring[Snapshot]
	broker      *pubsub.Broker[Snapshot]
	baseWorkers int
	interval    time.Duration
	weights     LoadWeights
	logger      zerolog.Logger
	metrics     *metrics.Metrics

	mu      sync.Mutex
	running bool
	stop    context.CancelFunc
	done    chan struct{}
}

// New creates a Monitor over source
func New(source Source, opts Options) *Monitor {
	if opts.BaseWorkers < 1 {
		opts.BaseWorkers = 8
	}
	if opts.Capacity < 1 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	weights := WeightsForArch(runtime.GOARCH)
	if opts.Weights != nil {
		weights = *opts.Weights
	}

	return &Monitor{
		source:      source,
		ring:        NewRing[Snapshot](opts.Capacity),
		broker:      pubsub.NewBroker[Snapshot](),
		baseWorkers: opts.BaseWorkers,
		interval:    opts.Interval,
		weights:     weights,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Start launches the sampling task. It takes one sample immediately, then one
// per interval until ctx is done or Stop is called. Calling Start on a running
// monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.stop = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			if _, err := m.SampleOnce(ctx); err != nil && ctx.Err() == nil {
				m.logger.Debug().Err(err).Msg("resource sample failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts the sampling task and waits for it to exit
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.stop, m.done
	m.running = false
	m.mu.Unlock()

	cancel()
	<-done
}

// Close stops sampling and closes every subscription
func (m *Monitor) Close() {
	m.Stop()
	m.broker.Shutdown()
}

// SampleOnce takes a sample, records it and publishes it
func (m *Monitor) SampleOnce(ctx context.Context) (Snapshot, error) {
	snap, err := m.source.Sample(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	m.ring.Push(snap)
	m.broker.Publish(pubsub.SnapshotEvent, snap)
	m.metrics.SetMemoryUsed(snap.MemoryUsed)
	return snap, nil
}

// Subscribe returns a channel of snapshots, closed when ctx is done
func (m *Monitor) Subscribe(ctx context.Context) <-chan pubsub.Event[Snapshot] {
	return m.broker.Subscribe(ctx)
}

// Latest returns the most recent snapshot
func (m *Monitor) Latest() (Snapshot, bool) {
	return m.ring.Last()
}

// Samples returns the sliding window, oldest first
func (m *Monitor) Samples() []Snapshot {
	return m.ring.Items()
}

// current returns the latest snapshot, sampling on demand when none exists
func (m *Monitor) current() (Snapshot, bool) {
	if snap, ok := m.ring.Last(); ok {
		return snap, true
	}
	snap, err := m.SampleOnce(context.Background())
	if err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

// MemoryUsedFraction takes a fresh sample and returns its memory-used
// fraction. It falls back to the latest recorded sample when sampling fails.
func (m *Monitor) MemoryUsedFraction(ctx context.Context) float64 {
	if snap, err := m.SampleOnce(ctx); err == nil {
		return snap.MemoryUsed
	}
	snap, _ := m.ring.Last()
	return snap.MemoryUsed
}

// OptimalWorkers recommends a worker count from the sample history
func (m *Monitor) OptimalWorkers() int {
	snap, ok := m.current()
	if !ok {
		return m.baseWorkers
	}
	return recommendWorkers(m.baseWorkers, snap, m.ring.Items())
}

func recommendWorkers(base int, latest Snapshot, window []Snapshot) int {
	workers := base

	if latest.MemoryUsed > highMemoryFraction {
		workers = max(minWorkers, workers/2)
	} else if latest.AvailableGB() > plentyAvailableGB {
		workers = min(maxWorkers, workers+2)
	}

	if len(window) >= cpuTrendSamples {
		recent := window[len(window)-cpuTrendSamples:]
		var sum float64
		for _, s := range recent {
			sum += s.CPUAverage
		}
		if sum/float64(len(recent)) > highCPUFraction {
			workers = max(minWorkers, workers-1)
		}
	}

	return workers
}

// SystemLoad blends the latest memory and CPU fractions. It is informational
// and plays no part in admission.
func (m *Monitor) SystemLoad() float64 {
	snap, ok := m.current()
	if !ok {
		return 0
	}
	return m.weights.blend(snap)
}

func (w LoadWeights) blend(s Snapshot) float64 {
	if w.Memory == 0 && w.CPU == 0 {
		return max(s.MemoryUsed, s.CPUAverage)
	}
	return w.Memory*s.MemoryUsed + w.CPU*s.CPUAverage
}
