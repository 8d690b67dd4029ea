package core

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

type SchedulerConfig struct {
	ConcurrencyLimit int
}

// Scheduler drains the queue: whenever a slot is free it starts the
// oldest queued job on the processor registered for its type. The
// active counter is the single concurrency ceiling for the whole
// system.
type Scheduler struct {
	cfg      SchedulerConfig
	store    *JobStore
	registry *ProcessorRegistry

	mu     sync.Mutex
	active int

	wakeCh  chan struct{}
	stopCh  chan struct{}
	stopped sync.Once
}

func NewScheduler(store *JobStore, registry *ProcessorRegistry, cfg SchedulerConfig) *Scheduler {
	if cfg.ConcurrencyLimit < 1 {
		cfg.ConcurrencyLimit = 1
	}
	return &Scheduler{
		cfg:      cfg,
		store:    store,
		registry: registry,
		wakeCh:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	go s.loop()
}

func (s *Scheduler) Stop() {
	s.stopped.Do(func() {
		close(s.stopCh)
	})
}

// Wake nudges the dispatch loop. Safe to call from any goroutine;
// redundant wakeups coalesce.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Active returns the number of jobs currently executing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Scheduler) loop() {
	// Ticker is a backstop; normal operation is driven by Wake.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-s.wakeCh:
			s.dispatch()
		case <-ticker.C:
			s.dispatch()
		}
	}
}

// dispatch fills free slots with queued jobs, oldest first. It never
// blocks: jobs run on their own goroutines.
func (s *Scheduler) dispatch() {
	for {
		s.mu.Lock()
		if s.active >= s.cfg.ConcurrencyLimit {
			s.mu.Unlock()
			return
		}

		job := s.store.NextQueued()
		if job == nil {
			s.mu.Unlock()
			return
		}

		started, err := s.store.Transition(job.ID, JobStatusRunning, nil, "")
		if err != nil {
			// Lost a race with a cancel; try the next queued job.
			s.mu.Unlock()
			continue
		}

		s.active++
		s.mu.Unlock()

		go s.run(started)
	}
}

func (s *Scheduler) run(job *Job) {
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
		s.Wake()
	}()

	processor, ok := s.registry.Get(job.Type)
	if !ok {
		err := fmt.Errorf("%w for type %q", ErrNoProcessor, job.Type)
		log.Printf("[scheduler] job %s: %v", job.ID, err)
		s.store.Transition(job.ID, JobStatusFailed, nil, err.Error())
		return
	}

	result, err := s.execute(job, processor)
	if err != nil {
		log.Printf("[scheduler] job %s failed: %v", job.ID, err)
		s.store.Transition(job.ID, JobStatusFailed, nil, err.Error())
		return
	}

	s.store.Transition(job.ID, JobStatusCompleted, result, "")
}

// execute runs the processor with panic isolation: one misbehaving
// processor must not take the scheduler down.
func (s *Scheduler) execute(job *Job, p Processor) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()

	progress := func(percent int) {
		s.store.SetProgress(job.ID, percent)
	}

	return p.Execute(job.Payload, progress)
}
