package server

import (
	"sync"

	"go.uber.org/zap"
)

// DefaultSubscriberQueueSize bounds each task subscriber's event queue.
const DefaultSubscriberQueueSize = 1024

// TaskEvent is one fan-out unit: either a status update or an artifact
// update payload. Final marks the last event of the task's stream.
type TaskEvent struct {
	Result any
	Final  bool
}

// TaskSubscriber is one attached SSE consumer for a task.
type TaskSubscriber struct {
	taskID string
	events chan TaskEvent

	mu     sync.Mutex
	closed bool
}

// Events returns the subscriber's event channel. It is closed after the
// final event or when the subscriber is dropped.
func (s *TaskSubscriber) Events() <-chan TaskEvent {
	return s.events
}

func (s *TaskSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// Hub fans task events out to per-task subscriber sets. Publishing never
// blocks: a subscriber that falls behind its queue bound is dropped.
type Hub struct {
	mu        sync.Mutex
	subs      map[string]map[*TaskSubscriber]struct{}
	queueSize int
	logger    *zap.Logger
}

// NewHub creates a hub with the given per-subscriber queue bound.
func NewHub(queueSize int, logger *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultSubscriberQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:      make(map[string]map[*TaskSubscriber]struct{}),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Subscribe attaches a new subscriber to the task's stream.
func (h *Hub) Subscribe(taskID string) *TaskSubscriber {
	sub := &TaskSubscriber{
		taskID: taskID,
		events: make(chan TaskEvent, h.queueSize),
	}
	h.mu.Lock()
	set, ok := h.subs[taskID]
	if !ok {
		set = make(map[*TaskSubscriber]struct{})
		h.subs[taskID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe detaches the subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *TaskSubscriber) {
	h.mu.Lock()
	if set, ok := h.subs[sub.taskID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.taskID)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Publish delivers the event to every subscriber of the task. A final
// event closes and deregisters the whole subscriber set.
func (h *Hub) Publish(taskID string, event TaskEvent) {
	h.mu.Lock()
	set := h.subs[taskID]
	subs := make([]*TaskSubscriber, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	if event.Final {
		delete(h.subs, taskID)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.events <- event:
		default:
			h.logger.Warn("dropping slow task subscriber", zap.String("taskID", taskID))
			h.Unsubscribe(sub)
			continue
		}
		if event.Final {
			sub.close()
		}
	}
}

// SubscriberCount returns the number of subscribers attached to a task.
func (h *Hub) SubscriberCount(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[taskID])
}
