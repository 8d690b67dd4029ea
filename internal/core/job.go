package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// legalTransitions is the full state machine. A job never re-enters
// queued once it has left it.
var legalTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:  {JobStatusRunning, JobStatusCancelled},
	JobStatusRunning: {JobStatusCompleted, JobStatusFailed},
}

func transitionAllowed(from, to JobStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Job struct {
	ID          string
	Type        string
	Payload     json.RawMessage
	OwnerID     string
	Status      JobStatus
	Progress    int
	Result      json.RawMessage
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func NewJob(jobType string, payload json.RawMessage, ownerID string) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Payload:   payload,
		OwnerID:   ownerID,
		Status:    JobStatusQueued,
		CreatedAt: time.Now(),
	}
}

// JobSummary is the read-only projection returned to callers. Queue
// position and wait estimate are derived at read time, never stored.
type JobSummary struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Status          JobStatus       `json:"status"`
	Progress        int             `json:"progress"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	QueuePosition   int             `json:"queue_position,omitempty"`
	EstimatedWaitMs int64           `json:"estimated_wait_ms,omitempty"`
}
