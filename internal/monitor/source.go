package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot is one resource sample
type Snapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	MemoryUsed     float64   `json:"memory_used_fraction"`
	CPUAverage     float64   `json:"cpu_average_fraction"`
	AvailableBytes uint64    `json:"available_bytes"`
	TotalBytes     uint64    `json:"total_bytes"`
}

// AvailableGB returns available memory in GiB
func (s Snapshot) AvailableGB() float64 {
	return float64(s.AvailableBytes) / (1 << 30)
}

// Source produces resource samples
type Source interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// HostSource samples the host through gopsutil. CPU usage is the busy share
// of CPU time since the previous sample; a sample with nothing to compare
// against reports 0.
type HostSource struct {
	memory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	times  func(ctx context.Context, percpu bool) ([]cpu.TimesStat, error)

	mu     sync.Mutex
	prev   cpu.TimesStat
	primed bool
}

// NewHostSource creates a source for the local host. The CPU counters are
// read once here so the first Sample measures from construction, not boot.
func NewHostSource() *HostSource {
	h := &HostSource{
		memory: mem.VirtualMemoryWithContext,
		times:  cpu.TimesWithContext,
	}
	h.prime(context.Background())
	return h
}

func (h *HostSource) prime(ctx context.Context) {
	if t, err := h.cpuTimes(ctx); err == nil {
		h.mu.Lock()
		h.prev, h.primed = t, true
		h.mu.Unlock()
	}
}

// Sample implements Source
func (h *HostSource) Sample(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	vm, err := h.memory(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read memory: %w", err)
	}
	t, err := h.cpuTimes(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	h.mu.Lock()
	var load float64
	if h.primed {
		load = busyFraction(h.prev, t)
	}
	h.prev, h.primed = t, true
	h.mu.Unlock()

	var used float64
	if vm.Total > 0 {
		used = 1 - float64(vm.Available)/float64(vm.Total)
	}

	return Snapshot{
		Timestamp:      time.Now(),
		MemoryUsed:     used,
		CPUAverage:     load,
		AvailableBytes: vm.Available,
		TotalBytes:     vm.Total,
	}, nil
}

func (h *HostSource) cpuTimes(ctx context.Context) (cpu.TimesStat, error) {
	all, err := h.times(ctx, false)
	if err != nil {
		return cpu.TimesStat{}, fmt.Errorf("failed to read cpu times: %w", err)
	}
	if len(all) == 0 {
		return cpu.TimesStat{}, errors.New("no cpu times reported")
	}
	return all[0], nil
}

// busyFraction is the non-idle share of the CPU time between two readings
func busyFraction(prev, cur cpu.TimesStat) float64 {
	prevBusy, prevTotal := cpuBusy(prev)
	curBusy, curTotal := cpuBusy(cur)
	total := curTotal - prevTotal
	if total <= 0 {
		return 0
	}
	busy := curBusy - prevBusy
	switch {
	case busy < 0:
		return 0
	case busy > total:
		return 1
	}
	return busy / total
}

// guest time is already counted in user on linux
func cpuBusy(t cpu.TimesStat) (busy, total float64) {
	total = t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
	return total - t.Idle - t.Iowait, total
}

// StaticSource returns a fixed snapshot. It is used when the host cannot be
// sampled and in tests.
type StaticSource struct {
	mu       sync.Mutex
	snapshot Snapshot
	err      error
}

// NewStaticSource creates a source that always reports snap
func NewStaticSource(snap Snapshot) *StaticSource {
	return &StaticSource{snapshot: snap}
}

// Set replaces the reported snapshot
func (s *StaticSource) Set(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
}

// SetError makes subsequent samples fail
func (s *StaticSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Sample implements Source
func (s *StaticSource) Sample(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Snapshot{}, s.err
	}
	snap := s.snapshot
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	return snap, nil
}
