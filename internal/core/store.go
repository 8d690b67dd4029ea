package core

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

const defaultRuntimeMs = 5000

// runtimeWindow is how many recent completions feed the wait estimate.
const runtimeWindow = 20

type JobStoreConfig struct {
	MaxQueueSize     int
	JobExpiration    time.Duration
	ConcurrencyLimit int
}

// TerminalHook is invoked, outside the store lock, whenever a job
// reaches a terminal state.
type TerminalHook func(job *Job)

// JobStore is the in-memory registry of jobs. It owns every Job record;
// other components only ever see copies.
type JobStore struct {
	cfg JobStoreConfig

	mu      sync.Mutex
	jobs    map[string]*Job
	seq     map[string]uint64
	nextSeq uint64

	runtimes    []int64
	totalDone   int64
	totalFailed int64

	hooks []TerminalHook

	stopCh  chan struct{}
	stopped sync.Once
}

func NewJobStore(cfg JobStoreConfig) *JobStore {
	if cfg.JobExpiration <= 0 {
		cfg.JobExpiration = 30 * time.Minute
	}
	if cfg.ConcurrencyLimit < 1 {
		cfg.ConcurrencyLimit = 1
	}
	return &JobStore{
		cfg:    cfg,
		jobs:   make(map[string]*Job),
		seq:    make(map[string]uint64),
		stopCh: make(chan struct{}),
	}
}

// OnTerminal registers a hook fired after every transition into a
// terminal state. Hooks run outside the store lock.
func (s *JobStore) OnTerminal(h TerminalHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Insert adds a job in queued state. The queue bound applies to queued
// jobs only; running and terminal jobs do not count against it.
func (s *JobStore) Insert(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.Status != JobStatusQueued {
		return fmt.Errorf("job %s inserted with status %s: %w", job.ID, job.Status, ErrInvalidTransition)
	}

	if s.queuedCountLocked() >= s.cfg.MaxQueueSize {
		return ErrQueueFull
	}

	s.nextSeq++
	s.seq[job.ID] = s.nextSeq
	s.jobs[job.ID] = job
	return nil
}

// Get returns a copy of the job.
func (s *JobStore) Get(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

// Summarize returns the read-only projection, including queue position
// and estimated wait for queued jobs.
func (s *JobStore) Summarize(id string) (*JobSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}

	summary := &JobSummary{
		ID:          job.ID,
		Type:        job.Type,
		Status:      job.Status,
		Progress:    job.Progress,
		Result:      job.Result,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}

	if job.Status == JobStatusQueued {
		pos := s.queuePositionLocked(id)
		summary.QueuePosition = pos
		summary.EstimatedWaitMs = int64(pos) * s.avgRuntimeMsLocked() / int64(s.cfg.ConcurrencyLimit)
	}

	return summary, nil
}

// Transition atomically applies a status change plus its associated
// fields. An illegal transition is a programmer error and leaves the
// job untouched.
func (s *JobStore) Transition(id string, to JobStatus, result json.RawMessage, errMsg string) (*Job, error) {
	s.mu.Lock()

	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrJobNotFound
	}

	if !transitionAllowed(job.Status, to) {
		from := job.Status
		s.mu.Unlock()
		log.Printf("[store] illegal transition %s -> %s for job %s", from, to, id)
		return nil, fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}

	cp := s.transitionLocked(job, to, result, errMsg)
	hooks := s.hooks
	s.mu.Unlock()

	if to.Terminal() {
		for _, h := range hooks {
			h(cp)
		}
	}

	return cp, nil
}

// transitionLocked applies an already-validated status change. Callers
// hold s.mu and fire terminal hooks themselves, after unlocking.
func (s *JobStore) transitionLocked(job *Job, to JobStatus, result json.RawMessage, errMsg string) *Job {
	now := time.Now()
	switch to {
	case JobStatusRunning:
		job.StartedAt = &now
	case JobStatusCompleted:
		job.CompletedAt = &now
		job.Result = result
		job.Progress = 100
		s.totalDone++
		if job.StartedAt != nil {
			s.recordRuntimeLocked(now.Sub(*job.StartedAt).Milliseconds())
		}
	case JobStatusFailed:
		job.CompletedAt = &now
		job.Error = errMsg
		s.totalFailed++
	case JobStatusCancelled:
		job.CompletedAt = &now
	}
	job.Status = to

	cp := *job
	return &cp
}

// Cancel transitions a queued job to cancelled after checking that the
// caller owns it. The checks and the transition happen under one lock
// so a concurrent dispatch to running cannot slip between them; a lost
// race surfaces as ErrJobNotQueued, never as an invalid transition.
func (s *JobStore) Cancel(id, ownerID string) (*Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrJobNotFound
	}
	if job.OwnerID != ownerID {
		s.mu.Unlock()
		return nil, ErrNotOwner
	}
	if job.Status != JobStatusQueued {
		s.mu.Unlock()
		return nil, ErrJobNotQueued
	}

	cp := s.transitionLocked(job, JobStatusCancelled, nil, "")
	hooks := s.hooks
	s.mu.Unlock()

	for _, h := range hooks {
		h(cp)
	}

	return cp, nil
}

// SetProgress updates a running job's progress, clamped to [0,100].
func (s *JobStore) SetProgress(id string, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != JobStatusRunning {
		return
	}
	job.Progress = percent
}

// NextQueued returns a copy of the oldest queued job, or nil.
func (s *JobStore) NextQueued() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *Job
	var oldestSeq uint64
	for id, job := range s.jobs {
		if job.Status != JobStatusQueued {
			continue
		}
		if oldest == nil || s.seq[id] < oldestSeq {
			oldest = job
			oldestSeq = s.seq[id]
		}
	}
	if oldest == nil {
		return nil
	}
	cp := *oldest
	return &cp
}

func (s *JobStore) QueuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queuedCountLocked()
}

// Totals returns lifetime completed and failed counts.
func (s *JobStore) Totals() (completed, failed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalDone, s.totalFailed
}

// AvgRuntimeMs averages the most recent completed runtimes, with a
// fixed default until real history exists.
func (s *JobStore) AvgRuntimeMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avgRuntimeMsLocked()
}

// EvictExpired drops terminal jobs whose completion age exceeds the
// expiration. Queued and running jobs are never evicted.
func (s *JobStore) EvictExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if !job.Status.Terminal() || job.CompletedAt == nil {
			continue
		}
		if now.Sub(*job.CompletedAt) >= s.cfg.JobExpiration {
			delete(s.jobs, id)
			delete(s.seq, id)
			removed++
		}
	}
	return removed
}

// Start launches the periodic eviction loop.
func (s *JobStore) Start() {
	interval := s.cfg.JobExpiration / 4
	if interval < time.Second {
		interval = time.Second
	}
	if interval > time.Minute {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				if removed := s.EvictExpired(time.Now()); removed > 0 {
					log.Printf("[store] evicted %d expired jobs", removed)
				}
			}
		}
	}()
}

func (s *JobStore) Stop() {
	s.stopped.Do(func() {
		close(s.stopCh)
	})
}

func (s *JobStore) queuedCountLocked() int {
	n := 0
	for _, job := range s.jobs {
		if job.Status == JobStatusQueued {
			n++
		}
	}
	return n
}

func (s *JobStore) queuePositionLocked(id string) int {
	target, ok := s.seq[id]
	if !ok {
		return 0
	}
	pos := 1
	for otherID, job := range s.jobs {
		if job.Status == JobStatusQueued && s.seq[otherID] < target {
			pos++
		}
	}
	return pos
}

func (s *JobStore) recordRuntimeLocked(ms int64) {
	s.runtimes = append(s.runtimes, ms)
	if len(s.runtimes) > runtimeWindow {
		s.runtimes = s.runtimes[len(s.runtimes)-runtimeWindow:]
	}
}

func (s *JobStore) avgRuntimeMsLocked() int64 {
	if len(s.runtimes) == 0 {
		return defaultRuntimeMs
	}
	var sum int64
	for _, ms := range s.runtimes {
		sum += ms
	}
	return sum / int64(len(s.runtimes))
}
