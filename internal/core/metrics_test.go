package core

import (
	"testing"
	"time"
)

func newTestMetrics(maxQueue int) (*JobStore, *RateLimiter, *MetricsCollector) {
	store := NewJobStore(JobStoreConfig{
		MaxQueueSize:     maxQueue,
		JobExpiration:    time.Hour,
		ConcurrencyLimit: 1,
	})
	limiter := NewRateLimiter(RateLimiterConfig{
		MaxRequestsPerWindow: 1,
		Window:               time.Minute,
	})
	scheduler := NewScheduler(store, NewProcessorRegistry(), SchedulerConfig{ConcurrencyLimit: 1})
	return store, limiter, NewMetricsCollector(store, limiter, scheduler, maxQueue)
}

func TestMetricsSnapshot(t *testing.T) {
	store, limiter, metrics := newTestMetrics(10)

	store.Insert(NewJob("echo", nil, "alice"))
	limiter.CheckAndRecord("alice")
	limiter.CheckAndRecord("alice") // denied

	done := NewJob("echo", nil, "bob")
	store.Insert(done)
	store.Transition(done.ID, JobStatusRunning, nil, "")
	store.Transition(done.ID, JobStatusCompleted, nil, "")

	snap := metrics.Snapshot()

	if snap.QueueLength != 1 {
		t.Errorf("queue length: expected 1, got %d", snap.QueueLength)
	}
	if snap.TotalCompleted != 1 {
		t.Errorf("total completed: expected 1, got %d", snap.TotalCompleted)
	}
	if snap.TotalFailed != 0 {
		t.Errorf("total failed: expected 0, got %d", snap.TotalFailed)
	}
	if snap.ActiveIdentifiers != 1 {
		t.Errorf("active identifiers: expected 1, got %d", snap.ActiveIdentifiers)
	}
	if snap.RateLimitDenials != 1 {
		t.Errorf("denials: expected 1, got %d", snap.RateLimitDenials)
	}
	if snap.Health != HealthHealthy {
		t.Errorf("expected healthy, got %s", snap.Health)
	}
}

func TestMetricsDegradedHealth(t *testing.T) {
	store, _, metrics := newTestMetrics(5)

	// 4/5 = 0.8 crosses the threshold.
	for i := 0; i < 4; i++ {
		if err := store.Insert(NewJob("echo", nil, "alice")); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	if snap := metrics.Snapshot(); snap.Health != HealthDegraded {
		t.Errorf("expected degraded at 80%% fill, got %s", snap.Health)
	}
}

func TestMetricsReadOnly(t *testing.T) {
	store, limiter, metrics := newTestMetrics(10)

	store.Insert(NewJob("echo", nil, "alice"))
	limiter.CheckAndRecord("alice")

	before := metrics.Snapshot()
	for i := 0; i < 5; i++ {
		metrics.Snapshot()
	}
	after := metrics.Snapshot()

	if before != after {
		t.Errorf("snapshot mutated state:\n%+v\n%+v", before, after)
	}
}
