package batch

import (
	"log/slog"
	"sync"
)

const (
	// DefaultBatchSize is the starting batch size when a project has no
	// throughput history yet.
	DefaultBatchSize = 50

	// DefaultMinSize and DefaultMaxSize clamp adaptive recommendations.
	DefaultMinSize = 10
	DefaultMaxSize = 500

	// DefaultGrowthFactor is the multiplicative step applied when recent
	// throughput clears the good-throughput bar.
	DefaultGrowthFactor = 1.5

	// DefaultGoodThroughput is the items-per-second average above which
	// the next batch grows.
	DefaultGoodThroughput = 100.0

	// DefaultWindowSize bounds per-project history to the last N samples.
	DefaultWindowSize = 10
)

// Sample is one completed batch observation.
type Sample struct {
	BatchSize  int
	Throughput float64 // Items per second
}

// SizerConfig tunes the adaptive batch sizer.
type SizerConfig struct {
	DefaultSize    int
	MinSize        int
	MaxSize        int
	GrowthFactor   float64
	GoodThroughput float64
	WindowSize     int
}

// Sizer tracks per-project historical throughput and recommends a batch
// size for the next operation. Batch size is the dominant lever in the
// throughput versus memory trade-off; the feedback loop self-tunes per
// project as workloads vary.
type Sizer struct {
	mu      sync.Mutex
	history map[string][]Sample

	cfg    SizerConfig
	logger *slog.Logger
}

// NewSizer creates an adaptive batch sizer.
func NewSizer(cfg SizerConfig, logger *slog.Logger) *Sizer {
	if cfg.DefaultSize <= 0 {
		cfg.DefaultSize = DefaultBatchSize
	}
	if cfg.MinSize <= 0 {
		cfg.MinSize = DefaultMinSize
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.GrowthFactor <= 1 {
		cfg.GrowthFactor = DefaultGrowthFactor
	}
	if cfg.GoodThroughput <= 0 {
		cfg.GoodThroughput = DefaultGoodThroughput
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sizer{
		history: make(map[string][]Sample),
		cfg:     cfg,
		logger:  logger,
	}
}

// Recommend returns the batch size to use for the project's next
// operation. With no history it returns defaultSize (or the configured
// default when defaultSize is zero). Otherwise it grows the last used
// size multiplicatively when the recent average throughput clears the
// good-throughput bar, and shrinks it by the inverse factor when it does
// not, clamped to the configured bounds.
func (s *Sizer) Recommend(projectID string, defaultSize int) int {
	if defaultSize <= 0 {
		defaultSize = s.cfg.DefaultSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	samples := s.history[projectID]
	if len(samples) == 0 {
		return defaultSize
	}

	var sum float64
	for _, sample := range samples {
		sum += sample.Throughput
	}
	avg := sum / float64(len(samples))

	last := samples[len(samples)-1].BatchSize
	var next int
	if avg > s.cfg.GoodThroughput {
		next = int(float64(last) * s.cfg.GrowthFactor)
	} else {
		next = int(float64(last) / s.cfg.GrowthFactor)
	}

	next = s.clamp(next)
	s.logger.Debug("batch size recommendation",
		"project_id", projectID,
		"avg_throughput", avg,
		"last_size", last,
		"next_size", next)
	return next
}

// Record feeds one completed batch observation back into the project's
// bounded history window.
func (s *Sizer) Record(projectID string, batchSize int, throughput float64) {
	if batchSize <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	samples := append(s.history[projectID], Sample{BatchSize: batchSize, Throughput: throughput})
	if len(samples) > s.cfg.WindowSize {
		samples = samples[len(samples)-s.cfg.WindowSize:]
	}
	s.history[projectID] = samples
}

// Forget drops a project's history, e.g. after project deletion.
func (s *Sizer) Forget(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, projectID)
}

func (s *Sizer) clamp(size int) int {
	if size < s.cfg.MinSize {
		return s.cfg.MinSize
	}
	if size > s.cfg.MaxSize {
		return s.cfg.MaxSize
	}
	return size
}
