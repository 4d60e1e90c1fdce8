// Package store persists task records. The whole store lives in memory and
// is re-serialized to disk on every mutation, so the canonical file is never
// observed half-written by another process.
package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/keejkrej/mupattern-engine/internal/logger"
	"github.com/keejkrej/mupattern-engine/internal/models"
)

// TaskStore holds every task ever created, backed by a JSON snapshot file.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[string]models.Task
	path  string
}

// NewTaskStore creates a store backed by the given snapshot path, loading
// the previous snapshot when one exists.
func NewTaskStore(path string) (*TaskStore, error) {
	s := &TaskStore{
		tasks: make(map[string]models.Task),
		path:  path,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// TaskUpdate is a partial update; nil fields are left untouched.
type TaskUpdate struct {
	Status     *models.TaskStatus
	StartedAt  *time.Time
	FinishedAt *time.Time
	Error      *string
	Result     json.RawMessage
	Logs       []string
}

func (u TaskUpdate) empty() bool {
	return u.Status == nil && u.StartedAt == nil && u.FinishedAt == nil &&
		u.Error == nil && u.Result == nil && u.Logs == nil
}

// Insert adds a new record. A duplicate id is a programmer error and is
// surfaced rather than handled.
func (s *TaskStore) Insert(task models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	s.tasks[task.ID] = task.Clone()
	s.persistLocked()
	return nil
}

// Update applies a partial update. An unknown id is a no-op, logged so the
// dropped write is at least visible.
func (s *TaskStore) Update(id string, upd TaskUpdate) {
	if upd.empty() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		logger.Warn("Update for unknown task %s dropped", id)
		return
	}

	if upd.Status != nil {
		task.Status = *upd.Status
	}
	if upd.StartedAt != nil {
		task.StartedAt = upd.StartedAt
	}
	if upd.FinishedAt != nil {
		task.FinishedAt = upd.FinishedAt
	}
	if upd.Error != nil {
		task.Error = *upd.Error
	}
	if upd.Result != nil {
		task.Result = append(json.RawMessage(nil), upd.Result...)
	}
	if upd.Logs != nil {
		task.Logs = append([]string(nil), upd.Logs...)
	}

	s.tasks[id] = task
	s.persistLocked()
}

// AppendProgress appends one progress event to a task's history.
func (s *TaskStore) AppendProgress(id string, event models.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		logger.Warn("Progress event for unknown task %s dropped", id)
		return
	}

	task.ProgressEvents = append(task.ProgressEvents, event)
	s.tasks[id] = task
	s.persistLocked()
}

// Get retrieves a task by id.
func (s *TaskStore) Get(id string) (models.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	return task.Clone(), true
}

// List returns every record, newest first.
func (s *TaskStore) List() []models.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *TaskStore) listLocked() []models.Task {
	out := make([]models.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// DeleteCompleted removes every record that is neither running nor queued
// and returns how many were removed.
func (s *TaskStore) DeleteCompleted() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, t := range s.tasks {
		if t.Status != models.TaskStatusRunning && t.Status != models.TaskStatusQueued {
			delete(s.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		s.persistLocked()
	}
	return removed
}

func (s *TaskStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read task store: %w", err)
	}

	var tasks []models.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return fmt.Errorf("failed to unmarshal task store: %w", err)
	}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return nil
}

// persistLocked writes the full snapshot: marshal everything, write a fresh
// temp file, copy it over the canonical path, remove the temp. Copying
// instead of renaming tolerates the canonical file being open elsewhere.
// Failures are logged and the in-memory state stays authoritative.
func (s *TaskStore) persistLocked() {
	data, err := json.MarshalIndent(s.listLocked(), "", "  ")
	if err != nil {
		logger.Error("Failed to marshal task store: %v", err)
		return
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tasks-*.json")
	if err != nil {
		logger.Error("Failed to create temporary task store file: %v", err)
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		logger.Error("Failed to write temporary task store file: %v", err)
		return
	}
	if err := tmp.Close(); err != nil {
		logger.Error("Failed to close temporary task store file: %v", err)
		return
	}

	if err := copyFile(tmpPath, s.path); err != nil {
		logger.Error("Failed to persist task store: %v", err)
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
