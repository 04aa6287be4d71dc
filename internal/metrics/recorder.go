// Package metrics collects latency statistics using HDR histograms.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Recorder records request (or task) latencies and outcome counters.
//
// Key features:
//   - HDR histogram for accurate latency percentiles
//   - Lock-free counter updates for high concurrency
//   - Configurable resolution so the same recorder can track
//     sub-millisecond requests or hour-long node runs
//
// # Thread Safety
//
// Recorder is safe for concurrent use. Counters use atomic operations
// and the histogram is protected by a mutex.
type Recorder struct {
	config Config

	// HDR histograms are not thread-safe, so every access holds histMu
	hist   *hdrhistogram.Histogram
	histMu sync.Mutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64
	totalBytes      atomic.Int64

	activeVUs atomic.Int32

	startTime time.Time
	startMu   sync.RWMutex
}

// Config contains configuration for a Recorder.
type Config struct {
	// Unit is the resolution values are stored in (default: 1µs)
	Unit time.Duration

	// Max is the largest recordable duration (default: 1 hour)
	Max time.Duration

	// SigFigs is the number of significant figures (default: 3)
	SigFigs int
}

// DefaultConfig returns the configuration used for request latencies.
func DefaultConfig() Config {
	return Config{
		Unit:    time.Microsecond,
		Max:     time.Hour,
		SigFigs: 3,
	}
}

// NodeDurationConfig returns a configuration suitable for whole node runs,
// which routinely take longer than the request histogram can hold.
func NodeDurationConfig() Config {
	return Config{
		Unit:    time.Millisecond,
		Max:     7 * 24 * time.Hour,
		SigFigs: 3,
	}
}

// NewRecorder creates a recorder with the default configuration.
func NewRecorder() *Recorder {
	return NewRecorderWithConfig(DefaultConfig())
}

// NewRecorderWithConfig creates a recorder with a custom configuration.
// Zero fields fall back to DefaultConfig.
func NewRecorderWithConfig(config Config) *Recorder {
	defaults := DefaultConfig()
	if config.Unit <= 0 {
		config.Unit = defaults.Unit
	}
	if config.Max <= config.Unit {
		config.Max = defaults.Max
	}
	if config.SigFigs <= 0 || config.SigFigs > 5 {
		config.SigFigs = defaults.SigFigs
	}

	return &Recorder{
		config:    config,
		hist:      hdrhistogram.New(1, int64(config.Max/config.Unit), config.SigFigs),
		startTime: time.Now(),
	}
}

// RecordLatency records one observation.
//
// Parameters:
//   - duration: The observed latency
//   - success: Whether the operation succeeded
//   - bytes: Number of bytes received (0 when not applicable)
func (r *Recorder) RecordLatency(duration time.Duration, success bool, bytes int64) {
	value := int64(duration / r.config.Unit)

	// Clamp to valid range
	if value < 1 {
		value = 1
	}
	if limit := int64(r.config.Max / r.config.Unit); value > limit {
		value = limit
	}

	r.histMu.Lock()
	_ = r.hist.RecordValue(value)
	r.histMu.Unlock()

	r.totalRequests.Add(1)
	r.totalBytes.Add(bytes)
	if success {
		r.successRequests.Add(1)
	} else {
		r.failedRequests.Add(1)
	}
}

// SetActiveVUs updates the active VU count.
func (r *Recorder) SetActiveVUs(count int) {
	r.activeVUs.Store(int32(count))
}

// ActiveVUs returns the current active VU count.
func (r *Recorder) ActiveVUs() int {
	return int(r.activeVUs.Load())
}

// Snapshot returns a point-in-time view of everything recorded so far.
func (r *Recorder) Snapshot() Snapshot {
	r.histMu.Lock()
	latency := r.latencyStatsLocked()
	r.histMu.Unlock()

	r.startMu.RLock()
	start := r.startTime
	r.startMu.RUnlock()

	elapsed := time.Since(start)
	total := r.totalRequests.Load()
	failed := r.failedRequests.Load()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(total) / elapsed.Seconds()
	}

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return Snapshot{
		TotalRequests:   total,
		SuccessRequests: r.successRequests.Load(),
		FailedRequests:  failed,
		TotalBytes:      r.totalBytes.Load(),
		Latency:         latency,
		RPS:             rps,
		ErrorRate:       errorRate,
		ActiveVUs:       r.ActiveVUs(),
		Elapsed:         elapsed,
		StartTime:       start,
	}
}

// latencyStatsLocked must be called with histMu held.
func (r *Recorder) latencyStatsLocked() LatencyStats {
	if r.hist.TotalCount() == 0 {
		return LatencyStats{}
	}

	unit := r.config.Unit
	return LatencyStats{
		Min:    time.Duration(r.hist.Min()) * unit,
		Max:    time.Duration(r.hist.Max()) * unit,
		Mean:   time.Duration(r.hist.Mean() * float64(unit)),
		StdDev: time.Duration(r.hist.StdDev() * float64(unit)),
		P50:    time.Duration(r.hist.ValueAtQuantile(50)) * unit,
		P90:    time.Duration(r.hist.ValueAtQuantile(90)) * unit,
		P95:    time.Duration(r.hist.ValueAtQuantile(95)) * unit,
		P99:    time.Duration(r.hist.ValueAtQuantile(99)) * unit,
		Count:  r.hist.TotalCount(),
	}
}

// Reset clears all recorded values and restarts the clock.
func (r *Recorder) Reset() {
	r.histMu.Lock()
	r.hist.Reset()
	r.histMu.Unlock()

	r.totalRequests.Store(0)
	r.successRequests.Store(0)
	r.failedRequests.Store(0)
	r.totalBytes.Store(0)
	r.activeVUs.Store(0)

	r.startMu.Lock()
	r.startTime = time.Now()
	r.startMu.Unlock()
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests   int64         `json:"totalRequests"`
	SuccessRequests int64         `json:"successRequests"`
	FailedRequests  int64         `json:"failedRequests"`
	TotalBytes      int64         `json:"totalBytes"`
	Latency         LatencyStats  `json:"latency"`
	RPS             float64       `json:"rps"`
	ErrorRate       float64       `json:"errorRate"`
	ActiveVUs       int           `json:"activeVUs"`
	Elapsed         time.Duration `json:"elapsed"`
	StartTime       time.Time     `json:"startTime"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}
