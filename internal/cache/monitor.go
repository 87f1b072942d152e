package cache

import (
	"sync/atomic"
)

// Lookup outcomes reported to the monitor and to metrics
const (
	ResultHit    = "hit"
	ResultMiss   = "miss"
	ResultJoined = "joined"
	ResultStale  = "stale"
)

// Recorder receives one call per lookup outcome, e.g. a Prometheus counter
type Recorder interface {
	RecordCacheLookup(kind, result string)
}

// Monitor counts coalescer outcomes for one fact kind
type Monitor struct {
	kind     string
	recorder Recorder

	hitCount      int64
	missCount     int64
	joinedCount   int64
	staleCount    int64
	failureCount  int64
	evictionCount int64
}

// MonitorStats represents coalescer statistics
type MonitorStats struct {
	Kind          string  `json:"kind"`
	HitCount      int64   `json:"hit_count"`
	MissCount     int64   `json:"miss_count"`
	JoinedCount   int64   `json:"joined_count"`
	StaleCount    int64   `json:"stale_count"`
	FailureCount  int64   `json:"failure_count"`
	EvictionCount int64   `json:"eviction_count"`
	HitRatio      float64 `json:"hit_ratio"`
}

// NewMonitor creates a monitor; recorder may be nil
func NewMonitor(kind string, recorder Recorder) *Monitor {
	return &Monitor{kind: kind, recorder: recorder}
}

func (m *Monitor) record(result string) {
	switch result {
	case ResultHit:
		atomic.AddInt64(&m.hitCount, 1)
	case ResultMiss:
		atomic.AddInt64(&m.missCount, 1)
	case ResultJoined:
		atomic.AddInt64(&m.joinedCount, 1)
	case ResultStale:
		atomic.AddInt64(&m.staleCount, 1)
	}
	if m.recorder != nil {
		m.recorder.RecordCacheLookup(m.kind, result)
	}
}

func (m *Monitor) recordFailure() {
	atomic.AddInt64(&m.failureCount, 1)
}

func (m *Monitor) recordEviction() {
	atomic.AddInt64(&m.evictionCount, 1)
}

// Stats returns a point-in-time copy of the counters
func (m *Monitor) Stats() MonitorStats {
	stats := MonitorStats{
		Kind:          m.kind,
		HitCount:      atomic.LoadInt64(&m.hitCount),
		MissCount:     atomic.LoadInt64(&m.missCount),
		JoinedCount:   atomic.LoadInt64(&m.joinedCount),
		StaleCount:    atomic.LoadInt64(&m.staleCount),
		FailureCount:  atomic.LoadInt64(&m.failureCount),
		EvictionCount: atomic.LoadInt64(&m.evictionCount),
	}
	total := stats.HitCount + stats.MissCount + stats.JoinedCount + stats.StaleCount
	if total > 0 {
		stats.HitRatio = float64(stats.HitCount) / float64(total)
	}
	return stats
}
