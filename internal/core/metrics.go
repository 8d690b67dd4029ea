package core

const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

// degradedThreshold is the queue fill ratio at which health flips.
const degradedThreshold = 0.8

type Snapshot struct {
	QueueLength       int    `json:"queue_length"`
	RunningCount      int    `json:"running_count"`
	TotalCompleted    int64  `json:"total_completed"`
	TotalFailed       int64  `json:"total_failed"`
	AvgRuntimeMs      int64  `json:"avg_runtime_ms"`
	ActiveIdentifiers int    `json:"active_identifiers"`
	RateLimitDenials  int64  `json:"rate_limit_denials"`
	Health            string `json:"health"`
}

// MetricsCollector assembles a read-only operational snapshot. It is
// purely advisory and never mutates the components it reads.
type MetricsCollector struct {
	store        *JobStore
	limiter      *RateLimiter
	scheduler    *Scheduler
	maxQueueSize int
}

func NewMetricsCollector(store *JobStore, limiter *RateLimiter, scheduler *Scheduler, maxQueueSize int) *MetricsCollector {
	return &MetricsCollector{
		store:        store,
		limiter:      limiter,
		scheduler:    scheduler,
		maxQueueSize: maxQueueSize,
	}
}

func (m *MetricsCollector) Snapshot() Snapshot {
	completed, failed := m.store.Totals()

	snap := Snapshot{
		QueueLength:       m.store.QueuedCount(),
		RunningCount:      m.scheduler.Active(),
		TotalCompleted:    completed,
		TotalFailed:       failed,
		AvgRuntimeMs:      m.store.AvgRuntimeMs(),
		ActiveIdentifiers: m.limiter.ActiveIdentifiers(),
		RateLimitDenials:  m.limiter.Denials(),
	}

	snap.Health = HealthHealthy
	if m.maxQueueSize <= 0 || float64(snap.QueueLength)/float64(m.maxQueueSize) >= degradedThreshold {
		snap.Health = HealthDegraded
	}

	return snap
}
