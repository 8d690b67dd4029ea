package core

import (
	"encoding/json"
	"time"
)

// Service is the admission front: rate limit, jitter, enqueue, wake.
// Handlers talk to it instead of wiring the components themselves.
type Service struct {
	limiter   *RateLimiter
	jitter    *JitterController
	store     *JobStore
	scheduler *Scheduler
}

func NewService(limiter *RateLimiter, jitter *JitterController, store *JobStore, scheduler *Scheduler) *Service {
	store.OnTerminal(func(job *Job) {
		limiter.Release(job.OwnerID)
		scheduler.Wake()
	})

	return &Service{
		limiter:   limiter,
		jitter:    jitter,
		store:     store,
		scheduler: scheduler,
	}
}

// Submit runs the full admission path for a new job. The jitter delay
// happens on the caller's goroutine, before the job exists anywhere, so
// it consumes no queue capacity and no worker slot.
func (s *Service) Submit(jobType string, payload json.RawMessage, ownerID string) (*JobSummary, error) {
	if err := s.limiter.CheckAndRecord(ownerID); err != nil {
		return nil, err
	}

	if delay := s.jitter.ComputeDelay(s.store.QueuedCount()); delay > 0 {
		time.Sleep(delay)
	}

	job := NewJob(jobType, payload, ownerID)
	if err := s.store.Insert(job); err != nil {
		// The job never made it in; give the slot back.
		s.limiter.Release(ownerID)
		return nil, err
	}

	s.scheduler.Wake()

	return s.store.Summarize(job.ID)
}

// Status returns the pollable projection of a job.
func (s *Service) Status(id string) (*JobSummary, error) {
	return s.store.Summarize(id)
}

// Cancel cancels a queued job on behalf of its owner. The terminal hook
// handles the limiter bookkeeping.
func (s *Service) Cancel(id, ownerID string) (*JobSummary, error) {
	if _, err := s.store.Cancel(id, ownerID); err != nil {
		return nil, err
	}
	return s.store.Summarize(id)
}
