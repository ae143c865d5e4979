package generation

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// RunRegistry tracks the cancel funcs of runs executing in this process.
type RunRegistry struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*runHandle
}

type runHandle struct {
	cancel  context.CancelFunc
	skipped bool
}

func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: map[uuid.UUID]*runHandle{}}
}

func (r *RunRegistry) register(taskID uuid.UUID, cancel context.CancelFunc) *runHandle {
	h := &runHandle{cancel: cancel}
	r.mu.Lock()
	r.runs[taskID] = h
	r.mu.Unlock()
	return h
}

func (r *RunRegistry) release(taskID uuid.UUID, h *runHandle) {
	r.mu.Lock()
	if r.runs[taskID] == h {
		delete(r.runs, taskID)
	}
	r.mu.Unlock()
}

// Mark flags a live run as skipped before its task row is failed, so the
// run's own failure path knows the error event is its to publish. It
// reports whether the run is live in this process.
func (r *RunRegistry) Mark(taskID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.runs[taskID]
	if ok {
		h.skipped = true
	}
	return ok
}

// Cancel stops the run's context. It does not wait for the run to return.
func (r *RunRegistry) Cancel(taskID uuid.UUID) {
	r.mu.Lock()
	h, ok := r.runs[taskID]
	r.mu.Unlock()
	if ok {
		h.cancel()
	}
}

func (r *RunRegistry) wasSkipped(h *runHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return h.skipped
}

func (r *RunRegistry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
