package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwork-ai/a2a-go/a2a"
)

func sampleTask(id string) *a2a.Task {
	return &a2a.Task{
		ID: id,
		Status: a2a.TaskStatus{
			State:     a2a.TaskStateWorking,
			Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		},
		Artifacts: []a2a.Artifact{
			{Name: strPtr("out"), Parts: []a2a.Part{a2a.NewTextPart("partial")}},
		},
	}
}

func TestInMemoryStoreRoundTrip(t *testing.T) {
	store := NewInMemoryTaskStore()
	ctx := context.Background()

	_, _, err := store.Load(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, a2a.CodeTaskNotFound, a2a.AsError(err).Code)

	task := sampleTask("t1")
	history := []a2a.Message{userMessage("hello")}
	require.NoError(t, store.Save(ctx, task, history))

	loaded, loadedHistory, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, task.ID, loaded.ID)
	assert.Equal(t, a2a.TaskStateWorking, loaded.Status.State)
	require.Len(t, loadedHistory, 1)
}

func TestInMemoryStoreCopiesOnLoad(t *testing.T) {
	store := NewInMemoryTaskStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleTask("t1"), nil))

	loaded, _, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	loaded.Artifacts[0].Name = strPtr("mutated")
	loaded.Status.State = a2a.TaskStateFailed

	fresh, _, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "out", *fresh.Artifacts[0].Name)
	assert.Equal(t, a2a.TaskStateWorking, fresh.Status.State)
}

func TestInMemoryStorePushConfig(t *testing.T) {
	store := NewInMemoryTaskStore()
	ctx := context.Background()

	config, err := store.PushConfig(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, config)

	require.NoError(t, store.SetPushConfig(ctx, "t1", &a2a.PushNotificationConfig{URL: "https://example.com/hook"}))
	config, err = store.PushConfig(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, config)
	assert.Equal(t, "https://example.com/hook", config.URL)

	require.NoError(t, store.SetPushConfig(ctx, "t1", nil))
	config, err = store.PushConfig(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, config)
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileTaskStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = store.Load(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, a2a.CodeTaskNotFound, a2a.AsError(err).Code)

	task := sampleTask("t1")
	history := []a2a.Message{userMessage("hello"), *agentMessage("hi there")}
	require.NoError(t, store.Save(ctx, task, history))

	loaded, loadedHistory, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", loaded.ID)
	assert.Equal(t, a2a.TaskStateWorking, loaded.Status.State)
	require.Len(t, loaded.Artifacts, 1)
	assert.Equal(t, "partial", loaded.Artifacts[0].Parts[0].(a2a.TextPart).Text)
	require.Len(t, loadedHistory, 2)
	assert.Equal(t, a2a.RoleAgent, loadedHistory[1].Role)
}

func TestFileStoreOverwrite(t *testing.T) {
	store, err := NewFileTaskStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	task := sampleTask("t1")
	require.NoError(t, store.Save(ctx, task, nil))

	task.Status.State = a2a.TaskStateCompleted
	require.NoError(t, store.Save(ctx, task, []a2a.Message{userMessage("hi")}))

	loaded, history, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, loaded.Status.State)
	assert.Len(t, history, 1)
}

func TestFileStoreRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileTaskStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"", "../escape", "a/b", `a\b`, ".."} {
		err := store.Save(ctx, &a2a.Task{ID: id}, nil)
		require.Error(t, err, "id %q", id)
		assert.Equal(t, a2a.CodeInvalidParams, a2a.AsError(err).Code)

		_, _, err = store.Load(ctx, id)
		require.Error(t, err, "id %q", id)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing escaped into the store directory")
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileTaskStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(context.Background(), sampleTask("t1"), []a2a.Message{userMessage("hi")}))

	matches, err := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}
