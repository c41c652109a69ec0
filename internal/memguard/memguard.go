package memguard

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/twinindex/twinindex/pkg/types"
)

const (
	// DefaultThresholdPercent is the heap usage ratio above which the
	// guard vetoes further batch work.
	DefaultThresholdPercent = 80.0

	// DefaultBudgetBytes is the assumed heap budget when none is
	// configured (1 GiB).
	DefaultBudgetBytes = 1 << 30
)

// Sampler reports the current heap usage in bytes. Injectable for tests.
type Sampler func() uint64

func runtimeSampler() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Config tunes the memory guard.
type Config struct {
	ThresholdPercent float64 // Veto above this percentage of the budget (default: 80)
	BudgetBytes      uint64  // Heap budget the percentage is measured against (default: 1 GiB)
	Sampler          Sampler // Heap usage source (default: runtime.ReadMemStats)
}

// Guard samples process memory and reports whether usage is within the
// configured threshold. It is a hard backpressure valve for batch work,
// not a rate limiter: callers abort the current attempt and may retry
// later.
type Guard struct {
	threshold float64
	budget    uint64
	sample    Sampler
	logger    *slog.Logger
}

// New creates a memory guard.
func New(cfg Config, logger *slog.Logger) *Guard {
	if cfg.ThresholdPercent <= 0 || cfg.ThresholdPercent > 100 {
		cfg.ThresholdPercent = DefaultThresholdPercent
	}
	if cfg.BudgetBytes == 0 {
		cfg.BudgetBytes = DefaultBudgetBytes
	}
	if cfg.Sampler == nil {
		cfg.Sampler = runtimeSampler
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		threshold: cfg.ThresholdPercent,
		budget:    cfg.BudgetBytes,
		sample:    cfg.Sampler,
		logger:    logger,
	}
}

// UsagePercent returns the current heap usage as a percentage of the
// configured budget.
func (g *Guard) UsagePercent() float64 {
	return float64(g.sample()) / float64(g.budget) * 100
}

// Check returns nil when heap usage is within the threshold, and an error
// wrapping ErrInsufficientMemory otherwise.
func (g *Guard) Check() error {
	usage := g.UsagePercent()
	if usage <= g.threshold {
		return nil
	}
	g.logger.Warn("memory threshold exceeded",
		"usage_percent", usage,
		"threshold_percent", g.threshold)
	return fmt.Errorf("%w: heap at %.1f%% of budget (threshold %.1f%%)",
		types.ErrInsufficientMemory, usage, g.threshold)
}
