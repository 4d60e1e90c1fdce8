package store

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keejkrej/mupattern-engine/internal/logger"
	"github.com/keejkrej/mupattern-engine/internal/models"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func newTestStore(t *testing.T) (*TaskStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.json")
	s, err := NewTaskStore(path)
	require.NoError(t, err)
	return s, path
}

func sampleTask(id string, createdAt time.Time) models.Task {
	return models.Task{
		ID:        id,
		Kind:      models.TaskKindCrop,
		Status:    models.TaskStatusQueued,
		CreatedAt: createdAt,
		Request:   json.RawMessage(`{"input":"/data/Pos7","position":7}`),
		Logs:      []string{"opened /data/Pos7"},
		ProgressEvents: []models.ProgressEvent{
			{Progress: 0.1, Message: "loading", Timestamp: createdAt},
		},
	}
}

func TestInsertThenListRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task := sampleTask("t1", created)

	require.NoError(t, s.Insert(task))

	tasks := s.List()
	require.Len(t, tasks, 1)
	got := tasks[0]
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, task.Kind, got.Kind)
	assert.Equal(t, task.Status, got.Status)
	assert.JSONEq(t, string(task.Request), string(got.Request))
	assert.Equal(t, task.Logs, got.Logs)
	assert.Equal(t, task.ProgressEvents, got.ProgressEvents)
	assert.Nil(t, got.Result)
}

func TestInsertDuplicateIDFails(t *testing.T) {
	s, _ := newTestStore(t)
	created := time.Now().UTC()

	require.NoError(t, s.Insert(sampleTask("t1", created)))
	err := s.Insert(sampleTask("t1", created))
	assert.Error(t, err)
}

func TestListOrdersByCreatedAtDescending(t *testing.T) {
	s, _ := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Insert(sampleTask("old", base)))
	require.NoError(t, s.Insert(sampleTask("new", base.Add(time.Hour))))
	require.NoError(t, s.Insert(sampleTask("mid", base.Add(time.Minute))))

	tasks := s.List()
	require.Len(t, tasks, 3)
	assert.Equal(t, "new", tasks[0].ID)
	assert.Equal(t, "mid", tasks[1].ID)
	assert.Equal(t, "old", tasks[2].ID)
}

func TestUpdateAppliesPartialFields(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Insert(sampleTask("t1", time.Now().UTC())))

	failed := models.TaskStatusFailed
	finished := time.Now().UTC()
	errText := "error: bad bbox"
	s.Update("t1", TaskUpdate{Status: &failed, FinishedAt: &finished, Error: &errText})

	got, ok := s.Get("t1")
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusFailed, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))
	assert.Equal(t, errText, got.Error)
	// untouched fields survive
	assert.Equal(t, models.TaskKindCrop, got.Kind)
	assert.Len(t, got.ProgressEvents, 1)
}

func TestUpdateUnknownIDIsNoOp(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Insert(sampleTask("t1", time.Now().UTC())))

	running := models.TaskStatusRunning
	s.Update("missing", TaskUpdate{Status: &running})

	tasks := s.List()
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].ID)
	assert.Equal(t, models.TaskStatusQueued, tasks[0].Status)
}

func TestAppendProgressKeepsOrder(t *testing.T) {
	s, _ := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task := sampleTask("t1", base)
	task.ProgressEvents = nil
	require.NoError(t, s.Insert(task))

	for i := 1; i <= 3; i++ {
		s.AppendProgress("t1", models.ProgressEvent{
			Progress:  float64(i) / 3,
			Message:   "step",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	got, ok := s.Get("t1")
	require.True(t, ok)
	require.Len(t, got.ProgressEvents, 3)
	for i := 1; i < len(got.ProgressEvents); i++ {
		assert.False(t, got.ProgressEvents[i].Timestamp.Before(got.ProgressEvents[i-1].Timestamp))
	}
}

func TestDeleteCompletedKeepsActiveTasks(t *testing.T) {
	s, _ := newTestStore(t)
	now := time.Now().UTC()

	for _, tc := range []struct {
		id     string
		status models.TaskStatus
	}{
		{"queued", models.TaskStatusQueued},
		{"running", models.TaskStatusRunning},
		{"succeeded", models.TaskStatusSucceeded},
		{"failed", models.TaskStatusFailed},
	} {
		task := sampleTask(tc.id, now)
		task.Status = tc.status
		require.NoError(t, s.Insert(task))
	}

	removed := s.DeleteCompleted()
	assert.Equal(t, 2, removed)

	ids := map[string]bool{}
	for _, task := range s.List() {
		ids[task.ID] = true
	}
	assert.Equal(t, map[string]bool{"queued": true, "running": true}, ids)
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	s, err := NewTaskStore(path)
	require.NoError(t, err)

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task := sampleTask("t1", created)
	require.NoError(t, s.Insert(task))

	succeeded := models.TaskStatusSucceeded
	s.Update("t1", TaskUpdate{Status: &succeeded, Result: json.RawMessage(`{"output":"/data/crops.zarr"}`)})

	reopened, err := NewTaskStore(path)
	require.NoError(t, err)

	got, ok := reopened.Get("t1")
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusSucceeded, got.Status)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.JSONEq(t, string(task.Request), string(got.Request))
	assert.JSONEq(t, `{"output":"/data/crops.zarr"}`, string(got.Result))
	assert.Equal(t, task.Logs, got.Logs)
	require.Len(t, got.ProgressEvents, 1)
	assert.Equal(t, 0.1, got.ProgressEvents[0].Progress)
}

func TestPersistenceLeavesNoTempFiles(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, s.Insert(sampleTask("t1", time.Now().UTC())))

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".tasks-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestPersistenceFailureKeepsMemoryAuthoritative(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "tasks.json")
	s, err := NewTaskStore(path)
	require.NoError(t, err)

	// parent directory missing: persistence fails, the mutation still lands
	require.NoError(t, s.Insert(sampleTask("t1", time.Now().UTC())))

	_, ok := s.Get("t1")
	assert.True(t, ok)
}
