package server

import (
	"context"
	"sync"
)

// CancelRegistry is a process-wide set of task IDs whose cancellation has
// been requested. The engine checks it on every yield boundary; a running
// handler additionally gets its context canceled.
type CancelRegistry struct {
	mu      sync.Mutex
	ids     map[string]struct{}
	running map[string]context.CancelFunc
}

// NewCancelRegistry creates an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{
		ids:     make(map[string]struct{}),
		running: make(map[string]context.CancelFunc),
	}
}

// Add marks the task as canceled and signals its running handler, if any.
func (r *CancelRegistry) Add(taskID string) {
	r.mu.Lock()
	cancel := r.running[taskID]
	r.ids[taskID] = struct{}{}
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Remove clears the cancellation mark for a task.
func (r *CancelRegistry) Remove(taskID string) {
	r.mu.Lock()
	delete(r.ids, taskID)
	r.mu.Unlock()
}

// Contains reports whether the task is marked for cancellation.
func (r *CancelRegistry) Contains(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ids[taskID]
	return ok
}

// Track registers a running handler's cancel function and returns whether
// the task is already marked, in which case the caller should not start.
func (r *CancelRegistry) Track(taskID string, cancel context.CancelFunc) (alreadyCanceled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[taskID]; ok {
		return true
	}
	r.running[taskID] = cancel
	return false
}

// Untrack removes the task's running handler registration.
func (r *CancelRegistry) Untrack(taskID string) {
	r.mu.Lock()
	delete(r.running, taskID)
	r.mu.Unlock()
}

// IsRunning reports whether a handler is currently tracked for the task.
func (r *CancelRegistry) IsRunning(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[taskID]
	return ok
}
