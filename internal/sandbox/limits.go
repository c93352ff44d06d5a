package sandbox

import (
	"context"
	"runtime/metrics"
	"time"
)

// Limits bounds one run. Zero values disable a bound.
type Limits struct {
	// MaxSteps is the Starlark execution-step budget (CPU).
	MaxSteps uint64 `koanf:"max_steps" yaml:"max_steps"`
	// MemoryBytes bounds live-heap growth during the run.
	MemoryBytes uint64 `koanf:"memory_bytes" yaml:"memory_bytes"`
	// Timeout is the wall-clock budget.
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
}

// DefaultLimits are applied when a pool is configured without limits.
var DefaultLimits = Limits{
	MaxSteps:    50_000_000,
	MemoryBytes: 256 << 20,
	Timeout:     2 * time.Minute,
}

const heapMetric = "/memory/classes/heap/objects:bytes"

// memoryInterval is how often the watchdog samples the heap.
var memoryInterval = 25 * time.Millisecond

func liveHeap() uint64 {
	sample := []metrics.Sample{{Name: heapMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// watchMemory cancels the run with a memory LimitError once the live heap
// grows more than limit bytes past its level at start. The heap is process
// wide, so concurrent runs share the measurement.
func watchMemory(ctx context.Context, cancel context.CancelCauseFunc, script string, limit uint64) func() {
	if limit == 0 {
		return func() {}
	}
	base := liveHeap()
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(memoryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if cur := liveHeap(); cur > base && cur-base > limit {
					cancel(&LimitError{Script: script, Kind: LimitMemory, Limit: limit})
					return
				}
			}
		}
	}()
	return func() { close(done) }
}
