package core

import (
	"log"
	"math"
	"sync"
	"time"
)

type RateLimiterConfig struct {
	MaxRequestsPerWindow int
	Window               time.Duration
	MaxConcurrentPerUser int
	CleanupInterval      time.Duration
}

type limitRecord struct {
	windowStart  time.Time
	requestCount int
	concurrent   int
}

// RateLimiter tracks per-identifier admission attempts in a fixed time
// window plus in-flight job counts. Denial is the intended response for
// a caller that is over budget, not a fault.
type RateLimiter struct {
	cfg     RateLimiterConfig
	mu      sync.Mutex
	records map[string]*limitRecord
	denials int64
	stopCh  chan struct{}
	stopped sync.Once
}

func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	return &RateLimiter{
		cfg:     cfg,
		records: make(map[string]*limitRecord),
		stopCh:  make(chan struct{}),
	}
}

// CheckAndRecord admits or denies a submission attempt for identifier.
// On success the attempt is counted and the identifier's in-flight job
// count is incremented; the caller must Release once the job reaches a
// terminal state.
func (rl *RateLimiter) CheckAndRecord(identifier string) error {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.records[identifier]
	if !ok {
		rec = &limitRecord{windowStart: now}
		rl.records[identifier] = rec
	}

	if now.Sub(rec.windowStart) >= rl.cfg.Window {
		rec.windowStart = now
		rec.requestCount = 0
	}

	retryAfter := rl.retryAfterSeconds(rec, now)

	if rl.cfg.MaxConcurrentPerUser > 0 && rec.concurrent >= rl.cfg.MaxConcurrentPerUser {
		rl.denials++
		return &DenialError{Err: ErrConcurrencyExceeded, RetryAfter: retryAfter}
	}

	if rl.cfg.MaxRequestsPerWindow > 0 && rec.requestCount >= rl.cfg.MaxRequestsPerWindow {
		rl.denials++
		return &DenialError{Err: ErrRateLimitExceeded, RetryAfter: retryAfter}
	}

	rec.requestCount++
	rec.concurrent++
	return nil
}

// Release decrements the identifier's in-flight count. Called on every
// transition out of queued/running except queued -> running.
func (rl *RateLimiter) Release(identifier string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.records[identifier]
	if !ok {
		return
	}
	if rec.concurrent > 0 {
		rec.concurrent--
	}
}

func (rl *RateLimiter) retryAfterSeconds(rec *limitRecord, now time.Time) int {
	remaining := rl.cfg.Window - now.Sub(rec.windowStart)
	secs := int(math.Ceil(remaining.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// ActiveIdentifiers counts identifiers with a live record.
func (rl *RateLimiter) ActiveIdentifiers() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.records)
}

// Denials returns the total number of denied admission attempts.
func (rl *RateLimiter) Denials() int64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.denials
}

// Start launches the idle-record cleanup loop.
func (rl *RateLimiter) Start() {
	go func() {
		ticker := time.NewTicker(rl.cfg.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-rl.stopCh:
				return
			case <-ticker.C:
				removed := rl.cleanup(time.Now())
				if removed > 0 {
					log.Printf("[limiter] dropped %d idle records", removed)
				}
			}
		}
	}()
}

func (rl *RateLimiter) Stop() {
	rl.stopped.Do(func() {
		close(rl.stopCh)
	})
}

func (rl *RateLimiter) cleanup(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for id, rec := range rl.records {
		if rec.concurrent == 0 && now.Sub(rec.windowStart) >= 2*rl.cfg.Window {
			delete(rl.records, id)
			removed++
		}
	}
	return removed
}
