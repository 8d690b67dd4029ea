package core

import (
	"math/rand/v2"
	"time"
)

type JitterConfig struct {
	Enabled   bool
	MaxDelay  time.Duration
	DepthStep time.Duration
}

// JitterController staggers admissions after a burst: a uniform random
// delay plus a term that grows with current queue depth. The delay is
// applied before enqueue, so it never holds a worker slot.
type JitterController struct {
	cfg JitterConfig
}

func NewJitterController(cfg JitterConfig) *JitterController {
	return &JitterController{cfg: cfg}
}

// ComputeDelay returns the delay to apply before enqueueing, given the
// current number of queued jobs. Zero when disabled.
func (j *JitterController) ComputeDelay(queueDepth int) time.Duration {
	if !j.cfg.Enabled || j.cfg.MaxDelay <= 0 {
		return 0
	}

	delay := rand.N(j.cfg.MaxDelay + 1)

	if j.cfg.DepthStep > 0 && queueDepth > 0 {
		depth := queueDepth
		if depth > 10 {
			depth = 10
		}
		delay += time.Duration(depth) * j.cfg.DepthStep
	}

	return delay
}
