package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/meshwork-ai/a2a-go/a2a"
)

// FileTaskStore persists each task as <dir>/<taskId>.json with its history
// in <dir>/<taskId>.history.json. Writes go through a temp file and rename
// so a crash never leaves a partial record.
type FileTaskStore struct {
	dir string

	mu          sync.Mutex
	pushConfigs map[string]a2a.PushNotificationConfig
}

// NewFileTaskStore creates the directory if needed and returns the store.
func NewFileTaskStore(dir string) (*FileTaskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create task store directory: %w", err)
	}
	return &FileTaskStore{
		dir:         dir,
		pushConfigs: make(map[string]a2a.PushNotificationConfig),
	}, nil
}

// validateTaskID rejects IDs that could escape the store directory.
func validateTaskID(taskID string) error {
	if taskID == "" {
		return fmt.Errorf("empty task id")
	}
	if strings.ContainsAny(taskID, `/\`) || strings.Contains(taskID, "..") {
		return fmt.Errorf("task id %q contains path elements", taskID)
	}
	return nil
}

func (s *FileTaskStore) taskPath(taskID string) string {
	return filepath.Join(s.dir, taskID+".json")
}

func (s *FileTaskStore) historyPath(taskID string) string {
	return filepath.Join(s.dir, taskID+".history.json")
}

// Load implements TaskStore.
func (s *FileTaskStore) Load(ctx context.Context, taskID string) (*a2a.Task, []a2a.Message, error) {
	if err := validateTaskID(taskID); err != nil {
		return nil, nil, a2a.ErrInvalidParams(err.Error())
	}

	data, err := os.ReadFile(s.taskPath(taskID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, a2a.ErrTaskNotFound(taskID)
	}
	if err != nil {
		return nil, nil, a2a.ErrInternalError(err)
	}
	var task a2a.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, nil, a2a.WrapErrorf(err, a2a.CodeInternalError, "corrupt task record: %s", taskID)
	}

	var history []a2a.Message
	historyData, err := os.ReadFile(s.historyPath(taskID))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// No history yet.
	case err != nil:
		return nil, nil, a2a.ErrInternalError(err)
	default:
		if err := json.Unmarshal(historyData, &history); err != nil {
			return nil, nil, a2a.WrapErrorf(err, a2a.CodeInternalError, "corrupt task history: %s", taskID)
		}
	}
	return &task, history, nil
}

// Save implements TaskStore.
func (s *FileTaskStore) Save(ctx context.Context, task *a2a.Task, history []a2a.Message) error {
	if err := validateTaskID(task.ID); err != nil {
		return a2a.ErrInvalidParams(err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeAtomic(s.taskPath(task.ID), task); err != nil {
		return a2a.ErrInternalError(err)
	}
	if history == nil {
		history = []a2a.Message{}
	}
	if err := writeAtomic(s.historyPath(task.ID), history); err != nil {
		return a2a.ErrInternalError(err)
	}
	return nil
}

// SetPushConfig implements TaskStore. Push configs hold webhook
// credentials, so they stay in memory rather than on disk.
func (s *FileTaskStore) SetPushConfig(ctx context.Context, taskID string, config *a2a.PushNotificationConfig) error {
	if err := validateTaskID(taskID); err != nil {
		return a2a.ErrInvalidParams(err.Error())
	}
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
func (s *FileTaskStore) PushConfig(ctx context.Context, taskID string) (*a2a.PushNotificationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	config, ok := s.pushConfigs[taskID]
	if !ok {
		return nil, nil
	}
	c := config
	return &c, nil
}

func writeAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
