package history

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"backtest-api/internal/core"
)

type Config struct {
	Path          string
	RetentionDays int
}

// Store is the sqlite archive of finished jobs. The live job registry
// stays in memory; this table exists for operator auditing only and is
// never read back into the queue.
type Store struct {
	db            *sql.DB
	retentionDays int
	stopCh        chan struct{}
	stopped       sync.Once
}

type Record struct {
	JobID       string     `json:"job_id"`
	Type        string     `json:"type"`
	OwnerID     string     `json:"owner_id"`
	Status      string     `json:"status"`
	Error       string     `json:"error,omitempty"`
	RuntimeMs   int64      `json:"runtime_ms"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func Open(cfg Config) (*Store, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}

	if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS job_history (
			job_id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			runtime_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			completed_at DATETIME
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history table: %w", err)
	}

	return &Store{
		db:            db,
		retentionDays: cfg.RetentionDays,
		stopCh:        make(chan struct{}),
	}, nil
}

// Append records a job that reached a terminal state. Wired to the job
// store as a terminal hook, so errors are logged rather than returned.
func (s *Store) Append(job *core.Job) {
	var runtimeMs int64
	if job.StartedAt != nil && job.CompletedAt != nil {
		runtimeMs = job.CompletedAt.Sub(*job.StartedAt).Milliseconds()
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO job_history (job_id, type, owner_id, status, error, runtime_ms, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Type, job.OwnerID, string(job.Status), job.Error, runtimeMs, job.CreatedAt, job.CompletedAt)
	if err != nil {
		log.Printf("[history] failed to record job %s: %v", job.ID, err)
	}
}

// Recent lists the newest archived jobs, optionally filtered by status.
func (s *Store) Recent(status string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	var rows *sql.Rows
	var err error

	if status != "" {
		rows, err = s.db.Query(`
			SELECT job_id, type, owner_id, status, error, runtime_ms, created_at, completed_at
			FROM job_history WHERE status = ?
			ORDER BY created_at DESC LIMIT ?
		`, status, limit)
	} else {
		rows, err = s.db.Query(`
			SELECT job_id, type, owner_id, status, error, runtime_ms, created_at, completed_at
			FROM job_history
			ORDER BY created_at DESC LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		var completedAt sql.NullTime
		if err := rows.Scan(&rec.JobID, &rec.Type, &rec.OwnerID, &rec.Status, &rec.Error, &rec.RuntimeMs, &rec.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		if completedAt.Valid {
			rec.CompletedAt = &completedAt.Time
		}
		records = append(records, rec)
	}

	return records, nil
}

// Prune deletes records older than the retention window.
func (s *Store) Prune() (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	result, err := s.db.Exec("DELETE FROM job_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return result.RowsAffected()
}

// Start launches the daily retention pruning loop.
func (s *Store) Start() {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				if n, err := s.Prune(); err != nil {
					log.Printf("[history] prune failed: %v", err)
				} else if n > 0 {
					log.Printf("[history] pruned %d records", n)
				}
			}
		}
	}()
}

func (s *Store) Stop() {
	s.stopped.Do(func() {
		close(s.stopCh)
	})
}

func (s *Store) Close() error {
	s.Stop()
	return s.db.Close()
}
