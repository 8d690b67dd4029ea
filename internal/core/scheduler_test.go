package core

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func newTestScheduler(t *testing.T, limit int) (*JobStore, *ProcessorRegistry, *Scheduler) {
	t.Helper()
	store := NewJobStore(JobStoreConfig{
		MaxQueueSize:     100,
		JobExpiration:    time.Hour,
		ConcurrencyLimit: limit,
	})
	registry := NewProcessorRegistry()
	scheduler := NewScheduler(store, registry, SchedulerConfig{ConcurrencyLimit: limit})
	scheduler.Start()
	t.Cleanup(scheduler.Stop)
	return store, registry, scheduler
}

func TestSchedulerConcurrencyCeiling(t *testing.T) {
	store, registry, scheduler := newTestScheduler(t, 2)

	release := make(chan struct{})
	var running, peak int64
	registry.RegisterFunc("block", func(payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error) {
		n := atomic.AddInt64(&running, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt64(&running, -1)
		return nil, nil
	})

	for i := 0; i < 6; i++ {
		if err := store.Insert(NewJob("block", nil, "alice")); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	scheduler.Wake()

	waitFor(t, func() bool { return atomic.LoadInt64(&running) == 2 }, "two jobs running")

	// Give the scheduler a chance to (incorrectly) start more.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt64(&peak); got > 2 {
		t.Fatalf("concurrency ceiling breached: %d running", got)
	}

	close(release)
	waitFor(t, func() bool {
		done, _ := store.Totals()
		return done == 6
	}, "all jobs completed")
}

func TestSchedulerFIFO(t *testing.T) {
	store, registry, scheduler := newTestScheduler(t, 1)

	var mu sync.Mutex
	var order []string
	registry.RegisterFunc("echo", func(payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error) {
		mu.Lock()
		order = append(order, string(payload))
		mu.Unlock()
		return payload, nil
	})

	var want []string
	for _, name := range []string{"a", "b", "c", "d"} {
		job := NewJob("echo", json.RawMessage(`"`+name+`"`), "alice")
		if err := store.Insert(job); err != nil {
			t.Fatalf("insert: %v", err)
		}
		want = append(want, `"`+name+`"`)
	}
	scheduler.Wake()

	waitFor(t, func() bool {
		done, _ := store.Totals()
		return done == 4
	}, "all jobs completed")

	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected FIFO order %v, got %v", want, order)
		}
	}
}

func TestSchedulerNoProcessor(t *testing.T) {
	store, _, scheduler := newTestScheduler(t, 1)

	job := NewJob("unknown", nil, "alice")
	store.Insert(job)
	scheduler.Wake()

	waitFor(t, func() bool {
		got, _ := store.Get(job.ID)
		return got != nil && got.Status == JobStatusFailed
	}, "job failed")

	got, _ := store.Get(job.ID)
	if !strings.Contains(got.Error, "no processor registered") {
		t.Errorf("expected no-processor error, got %q", got.Error)
	}
}

func TestSchedulerFailureIsolation(t *testing.T) {
	store, registry, scheduler := newTestScheduler(t, 1)

	registry.RegisterFunc("panic", func(payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error) {
		panic("boom")
	})
	registry.RegisterFunc("echo", func(payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error) {
		return payload, nil
	})

	bad := NewJob("panic", nil, "alice")
	good := NewJob("echo", json.RawMessage(`"ok"`), "alice")
	store.Insert(bad)
	store.Insert(good)
	scheduler.Wake()

	waitFor(t, func() bool {
		got, _ := store.Get(good.ID)
		return got != nil && got.Status == JobStatusCompleted
	}, "job after panic completed")

	gotBad, _ := store.Get(bad.ID)
	if gotBad.Status != JobStatusFailed {
		t.Errorf("expected panicking job to fail, got %s", gotBad.Status)
	}
	if !strings.Contains(gotBad.Error, "panic") {
		t.Errorf("expected panic recorded, got %q", gotBad.Error)
	}
}

func TestSchedulerProgress(t *testing.T) {
	store, registry, scheduler := newTestScheduler(t, 1)

	reported := make(chan struct{})
	release := make(chan struct{})
	registry.RegisterFunc("slow", func(payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error) {
		progress(42)
		close(reported)
		<-release
		return nil, nil
	})

	job := NewJob("slow", nil, "alice")
	store.Insert(job)
	scheduler.Wake()

	<-reported
	got, _ := store.Get(job.ID)
	if got.Progress != 42 {
		t.Errorf("expected progress 42, got %d", got.Progress)
	}

	close(release)
	waitFor(t, func() bool {
		g, _ := store.Get(job.ID)
		return g.Status == JobStatusCompleted
	}, "job completed")

	got, _ = store.Get(job.ID)
	if got.Progress != 100 {
		t.Errorf("expected progress forced to 100 on completion, got %d", got.Progress)
	}
}

func TestSchedulerSlotHandoff(t *testing.T) {
	store, registry, scheduler := newTestScheduler(t, 1)

	release := make(chan struct{})
	registry.RegisterFunc("block", func(payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error) {
		<-release
		return nil, nil
	})

	first := NewJob("block", nil, "alice")
	store.Insert(first)
	scheduler.Wake()

	waitFor(t, func() bool {
		got, _ := store.Get(first.ID)
		return got.Status == JobStatusRunning
	}, "first job running")

	second := NewJob("block", nil, "bob")
	store.Insert(second)
	scheduler.Wake()

	summary, _ := store.Summarize(second.ID)
	if summary.Status != JobStatusQueued || summary.QueuePosition != 1 {
		t.Fatalf("expected second job queued at position 1, got %s pos %d", summary.Status, summary.QueuePosition)
	}

	close(release)
	waitFor(t, func() bool {
		got, _ := store.Get(second.ID)
		return got.Status == JobStatusCompleted
	}, "second job picked up after slot freed")
}

func TestSchedulerSkipsCancelled(t *testing.T) {
	store, registry, scheduler := newTestScheduler(t, 1)

	registry.RegisterFunc("echo", func(payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error) {
		return payload, nil
	})

	// Cancel before the scheduler ever wakes.
	cancelled := NewJob("echo", nil, "alice")
	live := NewJob("echo", nil, "alice")
	store.Insert(cancelled)
	store.Insert(live)
	store.Cancel(cancelled.ID, "alice")
	scheduler.Wake()

	waitFor(t, func() bool {
		got, _ := store.Get(live.ID)
		return got.Status == JobStatusCompleted
	}, "live job completed")

	got, _ := store.Get(cancelled.ID)
	if got.Status != JobStatusCancelled {
		t.Errorf("cancelled job was resurrected to %s", got.Status)
	}
}
