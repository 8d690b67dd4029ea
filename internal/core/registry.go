package core

import (
	"encoding/json"
	"sync"
)

// ProgressFunc reports execution progress in percent. Values outside
// [0,100] are clamped by the store.
type ProgressFunc func(percent int)

// Processor executes one job type. Implementations receive the raw
// payload and may call progress zero or more times.
type Processor interface {
	Execute(payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error)
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error)

func (f ProcessorFunc) Execute(payload json.RawMessage, progress ProgressFunc) (json.RawMessage, error) {
	return f(payload, progress)
}

// ProcessorRegistry maps job type strings to processors. Feature code
// registers its processors during startup.
type ProcessorRegistry struct {
	mu         sync.RWMutex
	processors map[string]Processor
}

func NewProcessorRegistry() *ProcessorRegistry {
	return &ProcessorRegistry{
		processors: make(map[string]Processor),
	}
}

func (r *ProcessorRegistry) Register(jobType string, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[jobType] = p
}

func (r *ProcessorRegistry) RegisterFunc(jobType string, f ProcessorFunc) {
	r.Register(jobType, f)
}

func (r *ProcessorRegistry) Get(jobType string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[jobType]
	return p, ok
}

func (r *ProcessorRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.processors))
	for t := range r.processors {
		types = append(types, t)
	}
	return types
}
