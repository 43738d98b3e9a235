package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meshwork-ai/a2a-go/a2a"
)

func newTestEngine(t *testing.T, handler TaskHandler) (*Engine, *InMemoryTaskStore, *Hub) {
	t.Helper()
	store := NewInMemoryTaskStore()
	hub := NewHub(64, zaptest.NewLogger(t))
	engine := NewEngine(store, handler, hub, NewCancelRegistry(), nil, zaptest.NewLogger(t))
	return engine, store, hub
}

// scriptedHandler yields a fixed sequence of updates and closes.
func scriptedHandler(updates ...YieldUpdate) TaskHandler {
	return func(ctx context.Context, tc TaskContext) (<-chan YieldUpdate, error) {
		ch := make(chan YieldUpdate, len(updates))
		for _, u := range updates {
			ch <- u
		}
		close(ch)
		return ch, nil
	}
}

func userMessage(text string) a2a.Message {
	return a2a.Message{Role: a2a.RoleUser, Parts: []a2a.Part{a2a.NewTextPart(text)}}
}

func sendParams(id, text string) *a2a.TaskSendParams {
	return &a2a.TaskSendParams{ID: id, Message: userMessage(text)}
}

func agentMessage(text string) *a2a.Message {
	return &a2a.Message{Role: a2a.RoleAgent, Parts: []a2a.Part{a2a.NewTextPart(text)}}
}

func TestSendTaskCompletes(t *testing.T) {
	engine, store, _ := newTestEngine(t, scriptedHandler(
		StatusUpdate{State: a2a.TaskStateWorking},
		StatusUpdate{State: a2a.TaskStateCompleted, Message: agentMessage("done")},
	))

	task, err := engine.SendTask(context.Background(), sendParams("t1", "hello"))
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, task.Status.State)
	assert.Nil(t, task.History, "history is omitted unless requested")
	require.NotNil(t, task.Status.Message)

	_, history, err := store.Load(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, a2a.RoleUser, history[0].Role)
	assert.Equal(t, a2a.RoleAgent, history[1].Role)
}

func TestSendTaskHistoryLength(t *testing.T) {
	engine, _, _ := newTestEngine(t, scriptedHandler(
		StatusUpdate{State: a2a.TaskStateCompleted, Message: agentMessage("reply")},
	))

	n := 1
	params := sendParams("t1", "hello")
	params.HistoryLength = &n
	task, err := engine.SendTask(context.Background(), params)
	require.NoError(t, err)
	require.Len(t, task.History, 1)
	assert.Equal(t, a2a.RoleAgent, task.History[0].Role)

	// A larger window than the history clamps to what exists.
	n = 50
	got, err := engine.GetTask(context.Background(), &a2a.TaskQueryParams{ID: "t1", HistoryLength: &n})
	require.NoError(t, err)
	assert.Len(t, got.History, 2)

	// Zero omits history entirely.
	n = 0
	got, err = engine.GetTask(context.Background(), &a2a.TaskQueryParams{ID: "t1", HistoryLength: &n})
	require.NoError(t, err)
	assert.Nil(t, got.History)
}

func TestSendTaskForcedCompletion(t *testing.T) {
	engine, _, _ := newTestEngine(t, scriptedHandler(
		StatusUpdate{State: a2a.TaskStateWorking},
	))

	task, err := engine.SendTask(context.Background(), sendParams("t1", "hi"))
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, task.Status.State)
}

func TestSendTaskInputRequiredNotForced(t *testing.T) {
	engine, _, _ := newTestEngine(t, scriptedHandler(
		StatusUpdate{State: a2a.TaskStateWorking},
		StatusUpdate{State: a2a.TaskStateInputRequired, Message: agentMessage("which city?")},
	))

	task, err := engine.SendTask(context.Background(), sendParams("t1", "weather please"))
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateInputRequired, task.Status.State)
}

func TestSendTaskResumesFromInputRequired(t *testing.T) {
	var seenStates []a2a.TaskState
	handler := func(ctx context.Context, tc TaskContext) (<-chan YieldUpdate, error) {
		seenStates = append(seenStates, tc.Task.Status.State)
		ch := make(chan YieldUpdate, 1)
		if len(seenStates) == 1 {
			ch <- StatusUpdate{State: a2a.TaskStateInputRequired}
		} else {
			ch <- StatusUpdate{State: a2a.TaskStateCompleted}
		}
		close(ch)
		return ch, nil
	}
	engine, _, _ := newTestEngine(t, handler)

	task, err := engine.SendTask(context.Background(), sendParams("t1", "first"))
	require.NoError(t, err)
	require.Equal(t, a2a.TaskStateInputRequired, task.Status.State)

	task, err = engine.SendTask(context.Background(), sendParams("t1", "second"))
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, task.Status.State)

	// The resumed run starts from working, not submitted.
	require.Len(t, seenStates, 2)
	assert.Equal(t, a2a.TaskStateWorking, seenStates[1])
}

func TestSendTaskTerminalReset(t *testing.T) {
	engine, store, _ := newTestEngine(t, scriptedHandler(
		StatusUpdate{State: a2a.TaskStateCompleted},
	))

	_, err := engine.SendTask(context.Background(), sendParams("t1", "one"))
	require.NoError(t, err)

	task, err := engine.SendTask(context.Background(), sendParams("t1", "two"))
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, task.Status.State)

	_, history, err := store.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, history, 2, "history survives the terminal reset")
}

func TestSendTaskHandlerError(t *testing.T) {
	handler := func(ctx context.Context, tc TaskContext) (<-chan YieldUpdate, error) {
		return nil, errors.New("backend unavailable")
	}
	engine, _, _ := newTestEngine(t, handler)

	task, err := engine.SendTask(context.Background(), sendParams("t1", "hi"))
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateFailed, task.Status.State)
	require.NotNil(t, task.Status.Message)
	text := task.Status.Message.Parts[0].(a2a.TextPart).Text
	assert.Contains(t, text, "backend unavailable")
}

func TestSendTaskHandlerPanic(t *testing.T) {
	handler := func(ctx context.Context, tc TaskContext) (<-chan YieldUpdate, error) {
		ch := make(chan YieldUpdate)
		close(ch)
		panic("boom")
	}
	engine, _, _ := newTestEngine(t, handler)

	task, err := engine.SendTask(context.Background(), sendParams("t1", "hi"))
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateFailed, task.Status.State)
	require.NotNil(t, task.Status.Message)
	text := task.Status.Message.Parts[0].(a2a.TextPart).Text
	assert.Contains(t, text, "boom")
}

func TestTimestampsNeverMoveBackwards(t *testing.T) {
	engine, _, _ := newTestEngine(t, scriptedHandler(
		StatusUpdate{State: a2a.TaskStateWorking},
		StatusUpdate{State: a2a.TaskStateCompleted},
	))

	base := time.Now()
	clock := []time.Time{base, base.Add(-time.Hour), base.Add(-2 * time.Hour)}
	var calls int
	engine.now = func() time.Time {
		i := calls
		if i >= len(clock) {
			i = len(clock) - 1
		}
		calls++
		return clock[i]
	}

	task, err := engine.SendTask(context.Background(), sendParams("t1", "hi"))
	require.NoError(t, err)
	assert.False(t, task.Status.Timestamp.Before(base),
		"a clock that jumped backwards must not move the status timestamp back")
}

func TestGetTaskNotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t, scriptedHandler())
	_, err := engine.GetTask(context.Background(), &a2a.TaskQueryParams{ID: "missing"})
	require.Error(t, err)
	assert.Equal(t, a2a.CodeTaskNotFound, a2a.AsError(err).Code)
}

func TestCancelTerminalTaskIsNoop(t *testing.T) {
	engine, _, _ := newTestEngine(t, scriptedHandler(
		StatusUpdate{State: a2a.TaskStateCompleted},
	))

	_, err := engine.SendTask(context.Background(), sendParams("t1", "hi"))
	require.NoError(t, err)

	task, err := engine.CancelTask(context.Background(), &a2a.TaskIdParams{ID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, task.Status.State)
	assert.False(t, engine.cancels.Contains("t1"))
}

func TestCancelIdleTaskPublishesFinalFrame(t *testing.T) {
	engine, store, hub := newTestEngine(t, scriptedHandler())

	require.NoError(t, store.Save(context.Background(), &a2a.Task{
		ID:     "t1",
		Status: a2a.TaskStatus{State: a2a.TaskStateInputRequired, Timestamp: time.Now()},
	}, []a2a.Message{userMessage("hi")}))

	sub := hub.Subscribe("t1")

	task, err := engine.CancelTask(context.Background(), &a2a.TaskIdParams{ID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCanceled, task.Status.State)
	assert.False(t, engine.cancels.Contains("t1"), "mark is cleared once the final frame is out")

	event := <-sub.Events()
	require.True(t, event.Final)
	status := event.Result.(*a2a.TaskStatusUpdateEvent)
	assert.Equal(t, a2a.TaskStateCanceled, status.Status.State)
	_, open := <-sub.Events()
	assert.False(t, open, "stream closes after the final frame")
}

func TestCancelRunningHandler(t *testing.T) {
	started := make(chan struct{})
	handler := func(ctx context.Context, tc TaskContext) (<-chan YieldUpdate, error) {
		ch := make(chan YieldUpdate, 1)
		ch <- StatusUpdate{State: a2a.TaskStateWorking}
		go func() {
			close(started)
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	}
	engine, store, _ := newTestEngine(t, handler)

	sub, err := engine.SendTaskSubscribe(context.Background(), sendParams("t1", "long job"))
	require.NoError(t, err)

	event := <-sub.Events()
	working := event.Result.(*a2a.TaskStatusUpdateEvent)
	require.Equal(t, a2a.TaskStateWorking, working.Status.State)
	<-started

	task, err := engine.CancelTask(context.Background(), &a2a.TaskIdParams{ID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCanceled, task.Status.State)

	var final *a2a.TaskStatusUpdateEvent
	for event := range sub.Events() {
		if status, ok := event.Result.(*a2a.TaskStatusUpdateEvent); ok {
			final = status
		}
	}
	require.NotNil(t, final)
	assert.Equal(t, a2a.TaskStateCanceled, final.Status.State)
	assert.True(t, final.Final)

	persisted, _, err := store.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCanceled, persisted.Status.State)
}

func TestSendTaskSubscribeStreamsUpdates(t *testing.T) {
	index := 0
	name := "report"
	engine, _, _ := newTestEngine(t, scriptedHandler(
		StatusUpdate{State: a2a.TaskStateWorking},
		ArtifactUpdate{Artifact: a2a.Artifact{
			Name:  &name,
			Index: &index,
			Parts: []a2a.Part{a2a.NewTextPart("chunk one")},
		}},
		StatusUpdate{State: a2a.TaskStateCompleted},
	))

	sub, err := engine.SendTaskSubscribe(context.Background(), sendParams("t1", "go"))
	require.NoError(t, err)

	var kinds []string
	var final bool
	for event := range sub.Events() {
		switch event.Result.(type) {
		case *a2a.TaskStatusUpdateEvent:
			kinds = append(kinds, "status")
		case *a2a.TaskArtifactUpdateEvent:
			kinds = append(kinds, "artifact")
		}
		final = event.Final
	}
	assert.Equal(t, []string{"status", "artifact", "status"}, kinds)
	assert.True(t, final, "last event carries the final flag")
}

func TestCancelWinsOverBufferedTerminalUpdate(t *testing.T) {
	release := make(chan struct{})
	handler := func(ctx context.Context, tc TaskContext) (<-chan YieldUpdate, error) {
		ch := make(chan YieldUpdate, 2)
		ch <- StatusUpdate{State: a2a.TaskStateWorking}
		go func() {
			<-release
			ch <- StatusUpdate{State: a2a.TaskStateCompleted}
			close(ch)
		}()
		return ch, nil
	}
	engine, store, _ := newTestEngine(t, handler)

	sub, err := engine.SendTaskSubscribe(context.Background(), sendParams("t1", "long job"))
	require.NoError(t, err)

	event := <-sub.Events()
	working := event.Result.(*a2a.TaskStatusUpdateEvent)
	require.Equal(t, a2a.TaskStateWorking, working.Status.State)

	task, err := engine.CancelTask(context.Background(), &a2a.TaskIdParams{ID: "t1"})
	require.NoError(t, err)
	require.Equal(t, a2a.TaskStateCanceled, task.Status.State)

	// The handler now delivers a completed update it already had in flight.
	close(release)

	var final *a2a.TaskStatusUpdateEvent
	for event := range sub.Events() {
		if status, ok := event.Result.(*a2a.TaskStatusUpdateEvent); ok {
			final = status
		}
	}
	require.NotNil(t, final)
	assert.Equal(t, a2a.TaskStateCanceled, final.Status.State)
	assert.True(t, final.Final)

	persisted, _, err := store.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCanceled, persisted.Status.State,
		"the buffered completed update must not overwrite the canceled state")
	assert.False(t, engine.cancels.Contains("t1"), "mark is cleared once the final frame is out")
}

func TestStreamedArtifactFramesCarryMergedArtifact(t *testing.T) {
	engine, _, _ := newTestEngine(t, scriptedHandler(
		StatusUpdate{State: a2a.TaskStateWorking},
		ArtifactUpdate{Artifact: a2a.Artifact{
			Name:  strPtr("r.txt"),
			Index: intPtr(0),
			Parts: []a2a.Part{a2a.NewTextPart("AB")},
		}},
		ArtifactUpdate{Artifact: a2a.Artifact{
			Index:  intPtr(0),
			Append: boolPtr(true),
			Parts:  []a2a.Part{a2a.NewTextPart("CD")},
		}},
		StatusUpdate{State: a2a.TaskStateCompleted},
	))

	sub, err := engine.SendTaskSubscribe(context.Background(), sendParams("t1", "go"))
	require.NoError(t, err)

	var artifacts []a2a.Artifact
	for event := range sub.Events() {
		if update, ok := event.Result.(*a2a.TaskArtifactUpdateEvent); ok {
			artifacts = append(artifacts, update.Artifact)
		}
	}
	require.Len(t, artifacts, 2)

	// The append frame carries the artifact as merged, not the bare chunk.
	merged := artifacts[1]
	require.NotNil(t, merged.Name)
	assert.Equal(t, "r.txt", *merged.Name)
	require.Len(t, merged.Parts, 2)
	assert.Equal(t, "AB", merged.Parts[0].(a2a.TextPart).Text)
	assert.Equal(t, "CD", merged.Parts[1].(a2a.TextPart).Text)
}

func TestResubscribeTerminalTask(t *testing.T) {
	engine, _, _ := newTestEngine(t, scriptedHandler(
		StatusUpdate{State: a2a.TaskStateCompleted},
	))

	_, err := engine.SendTask(context.Background(), sendParams("t1", "hi"))
	require.NoError(t, err)

	sub, err := engine.Resubscribe(context.Background(), &a2a.TaskIdParams{ID: "t1"})
	require.NoError(t, err)

	event := <-sub.Events()
	require.True(t, event.Final)
	status := event.Result.(*a2a.TaskStatusUpdateEvent)
	assert.Equal(t, a2a.TaskStateCompleted, status.Status.State)
	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestPushConfigRoundTrip(t *testing.T) {
	engine, _, _ := newTestEngine(t, scriptedHandler(
		StatusUpdate{State: a2a.TaskStateCompleted},
	))
	_, err := engine.SendTask(context.Background(), sendParams("t1", "hi"))
	require.NoError(t, err)

	got, err := engine.GetPushConfig(context.Background(), &a2a.TaskIdParams{ID: "t1"})
	require.NoError(t, err)
	assert.Nil(t, got, "no config registered yet")

	set, err := engine.SetPushConfig(context.Background(), &a2a.TaskPushNotificationConfig{
		ID:                     "t1",
		PushNotificationConfig: a2a.PushNotificationConfig{URL: "https://example.com/hook"},
	})
	require.NoError(t, err)
	require.NotNil(t, set)

	got, err = engine.GetPushConfig(context.Background(), &a2a.TaskIdParams{ID: "t1"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://example.com/hook", got.PushNotificationConfig.URL)

	_, err = engine.SetPushConfig(context.Background(), &a2a.TaskPushNotificationConfig{
		ID:                     "missing",
		PushNotificationConfig: a2a.PushNotificationConfig{URL: "https://example.com/hook"},
	})
	require.Error(t, err)
	assert.Equal(t, a2a.CodeTaskNotFound, a2a.AsError(err).Code)
}

func intPtr(v int) *int       { return &v }
func boolPtr(v bool) *bool    { return &v }
func strPtr(v string) *string { return &v }

func TestMergeArtifactAppendByName(t *testing.T) {
	task := &a2a.Task{ID: "t1"}
	mergeArtifact(task, a2a.Artifact{
		Name:  strPtr("report"),
		Parts: []a2a.Part{a2a.NewTextPart("one")},
	})
	mergeArtifact(task, a2a.Artifact{
		Name:   strPtr("report"),
		Append: boolPtr(true),
		Parts:  []a2a.Part{a2a.NewTextPart("two")},
	})

	require.Len(t, task.Artifacts, 1)
	require.Len(t, task.Artifacts[0].Parts, 2)
	assert.Equal(t, "one", task.Artifacts[0].Parts[0].(a2a.TextPart).Text)
	assert.Equal(t, "two", task.Artifacts[0].Parts[1].(a2a.TextPart).Text)
}

func TestMergeArtifactReplaceByIndex(t *testing.T) {
	task := &a2a.Task{ID: "t1"}
	mergeArtifact(task, a2a.Artifact{
		Index: intPtr(0),
		Parts: []a2a.Part{a2a.NewTextPart("draft")},
	})
	mergeArtifact(task, a2a.Artifact{
		Index: intPtr(0),
		Parts: []a2a.Part{a2a.NewTextPart("final")},
	})

	require.Len(t, task.Artifacts, 1)
	require.Len(t, task.Artifacts[0].Parts, 1)
	assert.Equal(t, "final", task.Artifacts[0].Parts[0].(a2a.TextPart).Text)
}

func TestMergeArtifactDistinctAppends(t *testing.T) {
	task := &a2a.Task{ID: "t1"}
	mergeArtifact(task, a2a.Artifact{Index: intPtr(1), Parts: []a2a.Part{a2a.NewTextPart("b")}})
	mergeArtifact(task, a2a.Artifact{Index: intPtr(0), Parts: []a2a.Part{a2a.NewTextPart("a")}})

	require.Len(t, task.Artifacts, 2)
	assert.Equal(t, 0, *task.Artifacts[0].Index, "artifacts are ordered by index")
	assert.Equal(t, 1, *task.Artifacts[1].Index)
}

func TestMergeArtifactAppendMergesMetadata(t *testing.T) {
	task := &a2a.Task{ID: "t1"}
	mergeArtifact(task, a2a.Artifact{
		Name:     strPtr("report"),
		Parts:    []a2a.Part{a2a.NewTextPart("one")},
		Metadata: map[string]any{"format": "text", "rev": 1},
	})
	mergeArtifact(task, a2a.Artifact{
		Name:      strPtr("report"),
		Append:    boolPtr(true),
		LastChunk: boolPtr(true),
		Parts:     []a2a.Part{a2a.NewTextPart("two")},
		Metadata:  map[string]any{"rev": 2},
	})

	require.Len(t, task.Artifacts, 1)
	merged := task.Artifacts[0]
	assert.Equal(t, "text", merged.Metadata["format"])
	assert.Equal(t, 2, merged.Metadata["rev"])
	require.NotNil(t, merged.LastChunk)
	assert.True(t, *merged.LastChunk)
}
