package history

import (
	"path/filepath"
	"testing"
	"time"

	"backtest-api/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{
		Path:          filepath.Join(t.TempDir(), "history.db"),
		RetentionDays: 7,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func terminalJob(status core.JobStatus, age time.Duration) *core.Job {
	created := time.Now().Add(-age)
	started := created.Add(time.Second)
	completed := started.Add(2 * time.Second)

	return &core.Job{
		ID:          "job-" + string(status) + "-" + created.Format("150405.000000000"),
		Type:        "backtest",
		OwnerID:     "ip:127.0.0.1",
		Status:      status,
		Error:       "",
		CreatedAt:   created,
		StartedAt:   &started,
		CompletedAt: &completed,
	}
}

func TestAppendAndRecent(t *testing.T) {
	store := newTestStore(t)

	store.Append(terminalJob(core.JobStatusCompleted, time.Minute))
	store.Append(terminalJob(core.JobStatusFailed, 2*time.Minute))

	records, err := store.Recent("", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	// Newest first.
	if records[0].Status != string(core.JobStatusCompleted) {
		t.Errorf("expected newest record first, got %s", records[0].Status)
	}
	if records[0].RuntimeMs != 2000 {
		t.Errorf("expected runtime 2000ms, got %d", records[0].RuntimeMs)
	}
}

func TestRecentStatusFilter(t *testing.T) {
	store := newTestStore(t)

	store.Append(terminalJob(core.JobStatusCompleted, time.Minute))
	store.Append(terminalJob(core.JobStatusFailed, 2*time.Minute))

	records, err := store.Recent("failed", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 1 || records[0].Status != "failed" {
		t.Fatalf("expected one failed record, got %+v", records)
	}
}

func TestPrune(t *testing.T) {
	store := newTestStore(t)

	store.Append(terminalJob(core.JobStatusCompleted, time.Minute))
	store.Append(terminalJob(core.JobStatusCompleted, 30*24*time.Hour))

	pruned, err := store.Prune()
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned record, got %d", pruned)
	}

	records, _ := store.Recent("", 10)
	if len(records) != 1 {
		t.Errorf("expected 1 surviving record, got %d", len(records))
	}
}
