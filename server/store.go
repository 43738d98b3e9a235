package server

import (
	"context"
	"sync"

	"github.com/meshwork-ai/a2a-go/a2a"
)

// TaskStore persists tasks and their full message history. Save replaces
// both atomically; implementations must serialize writes per task ID.
// Push notification configs are held per task, separate from the task
// record itself.
type TaskStore interface {
	// Load returns the task and its full history, or a2a.ErrTaskNotFound.
	Load(ctx context.Context, taskID string) (*a2a.Task, []a2a.Message, error)
	// Save atomically replaces the task record and its history.
	Save(ctx context.Context, task *a2a.Task, history []a2a.Message) error
	// SetPushConfig stores the push notification config for a task.
	SetPushConfig(ctx context.Context, taskID string, config *a2a.PushNotificationConfig) error
	// PushConfig returns the push notification config for a task, or nil.
	PushConfig(ctx context.Context, taskID string) (*a2a.PushNotificationConfig, error)
}

type taskRecord struct {
	task    a2a.Task
	history []a2a.Message
}

// InMemoryTaskStore keeps tasks in a map. Suitable for tests and
// single-process deployments.
type InMemoryTaskStore struct {
	mu          sync.RWMutex
	tasks       map[string]taskRecord
	pushConfigs map[string]a2a.PushNotificationConfig
}

// NewInMemoryTaskStore creates an empty in-memory task store.
func NewInMemoryTaskStore() *InMemoryTaskStore {
	return &InMemoryTaskStore{
		tasks:       make(map[string]taskRecord),
		pushConfigs: make(map[string]a2a.PushNotificationConfig),
	}
}

// Load implements TaskStore.
func (s *InMemoryTaskStore) Load(ctx context.Context, taskID string) (*a2a.Task, []a2a.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tasks[taskID]
	if !ok {
		return nil, nil, a2a.ErrTaskNotFound(taskID)
	}
	task := copyTask(rec.task)
	history := make([]a2a.Message, len(rec.history))
	copy(history, rec.history)
	return &task, history, nil
}

// Save implements TaskStore.
func (s *InMemoryTaskStore) Save(ctx context.Context, task *a2a.Task, history []a2a.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := copyTask(*task)
	storedHistory := make([]a2a.Message, len(history))
	copy(storedHistory, history)
	s.tasks[task.ID] = taskRecord{task: stored, history: storedHistory}
	return nil
}

// SetPushConfig implements TaskStore.
func (s *InMemoryTaskStore) SetPushConfig(ctx context.Context, taskID string, config *a2a.PushNotificationConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if config == nil {
		delete(s.pushConfigs, taskID)
		return nil
	}
	s.pushConfigs[taskID] = *config
	return nil
}

// PushConfig implements TaskStore.
func (s *InMemoryTaskStore) PushConfig(ctx context.Context, taskID string) (*a2a.PushNotificationConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	config, ok := s.pushConfigs[taskID]
	if !ok {
		return nil, nil
	}
	c := config
	return &c, nil
}

// copyTask makes a shallow-safe copy: the slices are duplicated so a
// caller's later mutations don't leak into the store.
func copyTask(t a2a.Task) a2a.Task {
	if t.Artifacts != nil {
		artifacts := make([]a2a.Artifact, len(t.Artifacts))
		copy(artifacts, t.Artifacts)
		t.Artifacts = artifacts
	}
	if t.History != nil {
		history := make([]a2a.Message, len(t.History))
		copy(history, t.History)
		t.History = history
	}
	return t
}
