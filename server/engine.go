package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshwork-ai/a2a-go/a2a"
)

// YieldUpdate is one update produced by a task handler. Implementations
// are StatusUpdate and ArtifactUpdate.
type YieldUpdate interface {
	isYieldUpdate()
}

// StatusUpdate moves the task to a new state, optionally carrying an
// agent message that is appended to history.
type StatusUpdate struct {
	State   a2a.TaskState
	Message *a2a.Message
}

func (StatusUpdate) isYieldUpdate() {}

// ArtifactUpdate attaches or extends an artifact. It never changes state.
type ArtifactUpdate struct {
	Artifact a2a.Artifact
}

func (ArtifactUpdate) isYieldUpdate() {}

// TaskContext is the handler's view of the task it is driving.
type TaskContext struct {
	Task        a2a.Task
	UserMessage a2a.Message
	History     []a2a.Message
}

// TaskHandler produces the updates for one task run. The returned channel
// is consumed until closed; the handler must observe ctx on its own
// suspension points.
type TaskHandler func(ctx context.Context, tc TaskContext) (<-chan YieldUpdate, error)

// Engine drives the task lifecycle: it applies user message rules, runs
// the handler, persists every change before emitting it, and converts
// handler failures and cancellations into terminal states.
type Engine struct {
	store    TaskStore
	handler  TaskHandler
	hub      *Hub
	cancels  *CancelRegistry
	notifier *PushNotifier
	logger   *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine wires an engine from its collaborators. notifier may be nil.
func NewEngine(store TaskStore, handler TaskHandler, hub *Hub, cancels *CancelRegistry, notifier *PushNotifier, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:    store,
		handler:  handler,
		hub:      hub,
		cancels:  cancels,
		notifier: notifier,
		logger:   logger.Named("engine"),
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// taskLock returns the per-task write lock, creating it on first use.
func (e *Engine) taskLock(taskID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[taskID] = l
	}
	return l
}

// stamp returns a server-assigned timestamp that never moves backwards
// relative to the task's previous status.
func (e *Engine) stamp(prev time.Time) time.Time {
	now := e.now()
	if now.Before(prev) {
		return prev
	}
	return now
}

// SendTask handles tasks/send: upsert, run the handler to completion, and
// return the final task with the requested history view.
func (e *Engine) SendTask(ctx context.Context, params *a2a.TaskSendParams) (*a2a.Task, error) {
	task, history, err := e.upsert(ctx, params)
	if err != nil {
		return nil, err
	}
	if params.PushNotification != nil {
		if err := e.store.SetPushConfig(ctx, task.ID, params.PushNotification); err != nil {
			return nil, err
		}
	}

	e.runTask(ctx, task, history, params.Message)

	final, finalHistory, err := e.store.Load(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	return taskView(final, finalHistory, params.HistoryLength), nil
}

// SendTaskSubscribe handles tasks/sendSubscribe: upsert, attach a
// subscriber, and run the handler in the background.
func (e *Engine) SendTaskSubscribe(ctx context.Context, params *a2a.TaskSendParams) (*TaskSubscriber, error) {
	task, history, err := e.upsert(ctx, params)
	if err != nil {
		return nil, err
	}
	if params.PushNotification != nil {
		if err := e.store.SetPushConfig(ctx, task.ID, params.PushNotification); err != nil {
			return nil, err
		}
	}

	sub := e.hub.Subscribe(task.ID)
	go e.runTask(context.Background(), task, history, params.Message)
	return sub, nil
}

// GetTask handles tasks/get.
func (e *Engine) GetTask(ctx context.Context, params *a2a.TaskQueryParams) (*a2a.Task, error) {
	task, history, err := e.store.Load(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	return taskView(task, history, params.HistoryLength), nil
}

// CancelTask handles tasks/cancel. Canceling a terminal task is a no-op
// that returns the task unchanged. Otherwise the task is marked in the
// registry first, then the canceled state is persisted; a running handler
// is stopped at its next yield boundary and emits the final stream frame.
func (e *Engine) CancelTask(ctx context.Context, params *a2a.TaskIdParams) (*a2a.Task, error) {
	lock := e.taskLock(params.ID)
	lock.Lock()
	defer lock.Unlock()

	task, history, err := e.store.Load(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	if task.Status.State.IsTerminal() {
		return taskView(task, history, nil), nil
	}

	handlerRunning := e.cancels.IsRunning(task.ID)
	e.cancels.Add(task.ID)

	task.Status = a2a.TaskStatus{
		State:     a2a.TaskStateCanceled,
		Timestamp: e.stamp(task.Status.Timestamp),
	}
	if err := e.store.Save(ctx, task, history); err != nil {
		return nil, err
	}

	// With a live handler the run loop emits the final frame at its next
	// yield boundary; otherwise nobody else will.
	if !handlerRunning {
		e.publishStatus(ctx, task, true)
		e.cancels.Remove(task.ID)
	}
	return taskView(task, history, nil), nil
}

// Resubscribe handles tasks/resubscribe: attach to the live stream, or for
// a terminal task emit one final status frame and close.
func (e *Engine) Resubscribe(ctx context.Context, params *a2a.TaskIdParams) (*TaskSubscriber, error) {
	lock := e.taskLock(params.ID)
	lock.Lock()
	defer lock.Unlock()

	task, _, err := e.store.Load(ctx, params.ID)
	if err != nil {
		return nil, err
	}

	sub := e.hub.Subscribe(task.ID)
	if task.Status.State.IsTerminal() {
		sub.events <- TaskEvent{
			Result: &a2a.TaskStatusUpdateEvent{ID: task.ID, Status: task.Status, Final: true},
			Final:  true,
		}
		e.hub.Unsubscribe(sub)
	}
	return sub, nil
}

// SetPushConfig handles tasks/pushNotification/set.
func (e *Engine) SetPushConfig(ctx context.Context, params *a2a.TaskPushNotificationConfig) (*a2a.TaskPushNotificationConfig, error) {
	if _, _, err := e.store.Load(ctx, params.ID); err != nil {
		return nil, err
	}
	if err := e.store.SetPushConfig(ctx, params.ID, &params.PushNotificationConfig); err != nil {
		return nil, err
	}
	return params, nil
}

// GetPushConfig handles tasks/pushNotification/get.
func (e *Engine) GetPushConfig(ctx context.Context, params *a2a.TaskIdParams) (*a2a.TaskPushNotificationConfig, error) {
	if _, _, err := e.store.Load(ctx, params.ID); err != nil {
		return nil, err
	}
	config, err := e.store.PushConfig(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	if config == nil {
		// No config registered; the result is null.
		return nil, nil
	}
	return &a2a.TaskPushNotificationConfig{ID: params.ID, PushNotificationConfig: *config}, nil
}

// upsert applies the incoming user message rules and persists the result:
// a new task starts in submitted; a terminal task resets to submitted; an
// input-required task moves to working; the message is always appended.
func (e *Engine) upsert(ctx context.Context, params *a2a.TaskSendParams) (*a2a.Task, []a2a.Message, error) {
	lock := e.taskLock(params.ID)
	lock.Lock()
	defer lock.Unlock()

	task, history, err := e.store.Load(ctx, params.ID)
	if aerr := a2a.AsError(err); err != nil && aerr.Code != a2a.CodeTaskNotFound {
		return nil, nil, err
	}

	if task == nil {
		task = &a2a.Task{
			ID:        params.ID,
			SessionID: params.SessionID,
			Metadata:  params.Metadata,
			Status: a2a.TaskStatus{
				State:     a2a.TaskStateSubmitted,
				Timestamp: e.now(),
			},
		}
	} else {
		switch {
		case task.Status.State.IsTerminal():
			task.Status = a2a.TaskStatus{
				State:     a2a.TaskStateSubmitted,
				Timestamp: e.stamp(task.Status.Timestamp),
			}
			e.cancels.Remove(task.ID)
		case task.Status.State == a2a.TaskStateInputRequired:
			task.Status = a2a.TaskStatus{
				State:     a2a.TaskStateWorking,
				Timestamp: e.stamp(task.Status.Timestamp),
			}
		}
	}
	history = append(history, params.Message)

	if err := e.store.Save(ctx, task, history); err != nil {
		return nil, nil, err
	}
	return task, history, nil
}

// runTask drives one handler run to its end: consuming yields, persisting
// and publishing each, and converting failures, cancellations, and
// non-terminal completion into the proper terminal behaviour.
func (e *Engine) runTask(ctx context.Context, task *a2a.Task, history []a2a.Message, userMessage a2a.Message) {
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if e.cancels.Track(task.ID, cancel) {
		e.forceCanceled(ctx, task, history)
		return
	}
	defer e.cancels.Untrack(task.ID)

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("task handler panicked",
				zap.String("taskID", task.ID), zap.Any("panic", r))
			e.failTask(ctx, task, history, fmt.Errorf("handler panic: %v", r))
		}
	}()

	snapshot := copyTask(*task)
	snapshot.History = append([]a2a.Message(nil), history...)
	updates, err := e.handler(hctx, TaskContext{
		Task:        snapshot,
		UserMessage: userMessage,
		History:     snapshot.History,
	})
	if err != nil {
		e.failTask(ctx, task, history, err)
		return
	}

	for {
		// Yield boundary: cancellation wins over the next update.
		if e.cancels.Contains(task.ID) {
			e.forceCanceled(ctx, task, history)
			return
		}

		update, ok := <-updates
		if !ok {
			break
		}

		switch u := update.(type) {
		case StatusUpdate:
			history = e.applyStatus(ctx, task, history, u)
			if task.Status.State.IsTerminal() || task.Status.State == a2a.TaskStateInputRequired {
				return
			}
		case ArtifactUpdate:
			e.applyArtifact(ctx, task, history, u.Artifact)
		default:
			e.failTask(ctx, task, history, fmt.Errorf("handler yielded unknown update type %T", update))
			return
		}
	}

	// Handler finished without reaching a terminal state.
	if e.cancels.Contains(task.ID) {
		e.forceCanceled(ctx, task, history)
		return
	}
	if !task.Status.State.IsTerminal() && task.Status.State != a2a.TaskStateInputRequired {
		e.applyStatus(ctx, task, history, StatusUpdate{State: a2a.TaskStateCompleted})
	}
}

// applyStatus persists the new status (appending any agent message to
// history) and then emits the matching event.
func (e *Engine) applyStatus(ctx context.Context, task *a2a.Task, history []a2a.Message, update StatusUpdate) []a2a.Message {
	lock := e.taskLock(task.ID)
	lock.Lock()

	// A cancel that landed after the run loop's last boundary check must
	// not be overwritten by an update the handler already had in flight.
	if e.cancels.Contains(task.ID) {
		lock.Unlock()
		e.forceCanceled(ctx, task, history)
		return history
	}

	task.Status = a2a.TaskStatus{
		State:     update.State,
		Message:   update.Message,
		Timestamp: e.stamp(task.Status.Timestamp),
	}
	if update.Message != nil && update.Message.Role == a2a.RoleAgent {
		history = append(history, *update.Message)
	}
	if err := e.store.Save(ctx, task, history); err != nil {
		e.logger.Error("failed to persist task status",
			zap.String("taskID", task.ID), zap.Error(err))
	}
	lock.Unlock()

	final := update.State.IsTerminal() || update.State == a2a.TaskStateInputRequired
	e.publishStatus(ctx, task, final)
	return history
}

// applyArtifact merges the artifact into the task, persists, and emits the
// post-merge artifact.
func (e *Engine) applyArtifact(ctx context.Context, task *a2a.Task, history []a2a.Message, artifact a2a.Artifact) {
	lock := e.taskLock(task.ID)
	lock.Lock()
	merged := mergeArtifact(task, artifact)
	if err := e.store.Save(ctx, task, history); err != nil {
		e.logger.Error("failed to persist task artifact",
			zap.String("taskID", task.ID), zap.Error(err))
	}
	lock.Unlock()

	event := &a2a.TaskArtifactUpdateEvent{ID: task.ID, Artifact: merged}
	e.hub.Publish(task.ID, TaskEvent{Result: event})
	if e.notifier != nil {
		e.notifier.Notify(ctx, task.ID, event)
	}
}

func (e *Engine) publishStatus(ctx context.Context, task *a2a.Task, final bool) {
	event := &a2a.TaskStatusUpdateEvent{ID: task.ID, Status: task.Status, Final: final}
	e.hub.Publish(task.ID, TaskEvent{Result: event, Final: final})
	if e.notifier != nil {
		e.notifier.Notify(ctx, task.ID, event)
	}
}

func (e *Engine) forceCanceled(ctx context.Context, task *a2a.Task, history []a2a.Message) {
	lock := e.taskLock(task.ID)
	lock.Lock()
	if task.Status.State != a2a.TaskStateCanceled {
		task.Status = a2a.TaskStatus{
			State:     a2a.TaskStateCanceled,
			Timestamp: e.stamp(task.Status.Timestamp),
		}
		if err := e.store.Save(ctx, task, history); err != nil {
			e.logger.Error("failed to persist canceled state",
				zap.String("taskID", task.ID), zap.Error(err))
		}
	}
	lock.Unlock()

	e.publishStatus(ctx, task, true)
	e.cancels.Remove(task.ID)
}

func (e *Engine) failTask(ctx context.Context, task *a2a.Task, history []a2a.Message, cause error) {
	e.logger.Warn("task failed", zap.String("taskID", task.ID), zap.Error(cause))
	message := a2a.Message{
		Role:  a2a.RoleAgent,
		Parts: []a2a.Part{a2a.NewTextPart(cause.Error())},
	}
	e.applyStatus(ctx, task, history, StatusUpdate{
		State:   a2a.TaskStateFailed,
		Message: &message,
	})
}

// mergeArtifact applies the artifact update rules: match by index, then by
// name, else append; append=true extends parts and merges metadata, while
// the default replaces the matched artifact wholesale. It returns the
// artifact as stored after the merge.
func mergeArtifact(task *a2a.Task, incoming a2a.Artifact) a2a.Artifact {
	matched := -1
	if incoming.Index != nil {
		for i, existing := range task.Artifacts {
			if existing.Index != nil && *existing.Index == *incoming.Index {
				matched = i
				break
			}
		}
	}
	if matched < 0 && incoming.Name != nil {
		for i, existing := range task.Artifacts {
			if existing.Name != nil && *existing.Name == *incoming.Name {
				matched = i
				break
			}
		}
	}

	result := incoming
	switch {
	case matched < 0:
		task.Artifacts = append(task.Artifacts, incoming)
	case incoming.Append != nil && *incoming.Append:
		merged := task.Artifacts[matched]
		merged.Parts = append(append([]a2a.Part(nil), merged.Parts...), incoming.Parts...)
		if incoming.Metadata != nil {
			if merged.Metadata == nil {
				merged.Metadata = make(map[string]any, len(incoming.Metadata))
			} else {
				copied := make(map[string]any, len(merged.Metadata)+len(incoming.Metadata))
				for k, v := range merged.Metadata {
					copied[k] = v
				}
				merged.Metadata = copied
			}
			for k, v := range incoming.Metadata {
				merged.Metadata[k] = v
			}
		}
		if incoming.Description != nil {
			merged.Description = incoming.Description
		}
		if incoming.LastChunk != nil {
			merged.LastChunk = incoming.LastChunk
		}
		task.Artifacts[matched] = merged
		result = merged
	default:
		task.Artifacts[matched] = incoming
	}

	for _, a := range task.Artifacts {
		if a.Index != nil {
			sort.SliceStable(task.Artifacts, func(i, j int) bool {
				return indexOf(task.Artifacts[i]) < indexOf(task.Artifacts[j])
			})
			break
		}
	}
	return result
}

func indexOf(a a2a.Artifact) int {
	if a.Index == nil {
		return int(^uint(0) >> 1)
	}
	return *a.Index
}

// taskView shapes a task for a response: history is omitted unless the
// caller asked for a positive number of trailing messages.
func taskView(task *a2a.Task, history []a2a.Message, historyLength *int) *a2a.Task {
	view := copyTask(*task)
	view.History = nil
	if historyLength != nil && *historyLength > 0 {
		n := *historyLength
		if n > len(history) {
			n = len(history)
		}
		view.History = append([]a2a.Message(nil), history[len(history)-n:]...)
	}
	return &view
}
