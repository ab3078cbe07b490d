package metrics

import (
	"sync"
	"time"

	"ai-relay-be/pkg/relay/envelope"
)

// seriesCapacity bounds the per-worker time series kept in memory.
const seriesCapacity = 60

// Sample is one point in a worker's health time series.
type Sample struct {
	ReportedAt      time.Time `json:"reported_at"`
	TokensPerSecond float64   `json:"tokens_per_second"`
	QueueDepth      int       `json:"queue_depth"`
}

// WorkerStatus is the latest known state of one worker.
type WorkerStatus struct {
	WorkerId        string    `json:"worker_id"`
	TokensPerSecond float64   `json:"tokens_per_second"`
	QueueDepth      int       `json:"queue_depth"`
	UptimeSeconds   int64     `json:"uptime_seconds"`
	ModelName       string    `json:"model_name,omitempty"`
	LastSeen        time.Time `json:"last_seen"`
	Series          []Sample  `json:"series"`
}

// Snapshot is the aggregate view exposed to the administrative surface.
type Snapshot struct {
	Workers     []WorkerStatus `json:"workers"`
	ReportsSeen uint64         `json:"reports_seen"`
	TakenAt     time.Time      `json:"taken_at"`
}

// Collector ingests periodic worker-health reports delivered through the
// transport outside the request/response flow. It is best-effort: losing a
// report has no effect on request/response correctness, and Ingest never
// blocks a receive loop on anything but a short mutex hold.
type Collector struct {
	mu          sync.RWMutex
	workers     map[string]*WorkerStatus
	reportsSeen uint64
}

func NewCollector() *Collector {
	return &Collector{
		workers: make(map[string]*WorkerStatus),
	}
}

// Ingest records a worker report: latest value wins, and the sample is
// appended to the worker's bounded series.
func (c *Collector) Ingest(workerId string, report envelope.MetricsPayload) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.workers[workerId]
	if !ok {
		w = &WorkerStatus{WorkerId: workerId}
		c.workers[workerId] = w
	}

	w.TokensPerSecond = report.TokensPerSecond
	w.QueueDepth = report.QueueDepth
	w.UptimeSeconds = report.UptimeSeconds
	if report.ModelName != "" {
		w.ModelName = report.ModelName
	}
	w.LastSeen = now

	w.Series = append(w.Series, Sample{
		ReportedAt:      now,
		TokensPerSecond: report.TokensPerSecond,
		QueueDepth:      report.QueueDepth,
	})
	if len(w.Series) > seriesCapacity {
		w.Series = w.Series[len(w.Series)-seriesCapacity:]
	}

	c.reportsSeen++
}

// GetSnapshot returns a deep copy so callers never race the collector.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Workers:     make([]WorkerStatus, 0, len(c.workers)),
		ReportsSeen: c.reportsSeen,
		TakenAt:     time.Now(),
	}
	for _, w := range c.workers {
		copied := *w
		copied.Series = append([]Sample(nil), w.Series...)
		snap.Workers = append(snap.Workers, copied)
	}
	return snap
}
