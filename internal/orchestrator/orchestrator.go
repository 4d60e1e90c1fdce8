// Package orchestrator drives task execution: it records a task, runs the
// worker process, streams progress into the store and to subscribers, and
// finalizes the record.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keejkrej/mupattern-engine/internal/logger"
	"github.com/keejkrej/mupattern-engine/internal/models"
	"github.com/keejkrej/mupattern-engine/internal/progress"
	"github.com/keejkrej/mupattern-engine/internal/runner"
	"github.com/keejkrej/mupattern-engine/internal/store"
)

// WorkerRunner runs one worker invocation to completion.
type WorkerRunner interface {
	Run(args []string, onProgress progress.Callback) runner.Result
}

// subscriberBuffer bounds a subscriber channel; a subscriber that falls this
// far behind starts losing events rather than stalling the worker pipe.
const subscriberBuffer = 64

// Orchestrator owns the task lifecycle. Any number of tasks may run
// concurrently; there is no admission control and no way to cancel a task
// once its worker has spawned.
type Orchestrator struct {
	store  *store.TaskStore
	runner WorkerRunner

	mu   sync.Mutex
	subs map[string][]chan models.ProgressEvent
	done map[string]chan struct{}

	// beforeRun, when set, is called after the queued record is inserted and
	// before the task flips to running. Tests use it to pin the queued phase.
	beforeRun func(id string)
}

// New creates an orchestrator on top of a task store and a worker runner.
func New(st *store.TaskStore, r WorkerRunner) *Orchestrator {
	return &Orchestrator{
		store:  st,
		runner: r,
		subs:   make(map[string][]chan models.ProgressEvent),
		done:   make(map[string]chan struct{}),
	}
}

// Submit records a new task and starts its worker in the background,
// returning the task id immediately.
func (o *Orchestrator) Submit(req models.TaskRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task request: %w", err)
	}

	task := models.Task{
		ID:             uuid.NewString(),
		Kind:           req.Kind(),
		Status:         models.TaskStatusQueued,
		CreatedAt:      time.Now().UTC(),
		Request:        payload,
		Logs:           []string{},
		ProgressEvents: []models.ProgressEvent{},
	}
	if err := o.store.Insert(task); err != nil {
		return "", err
	}

	done := make(chan struct{})
	o.mu.Lock()
	o.done[task.ID] = done
	o.mu.Unlock()

	logger.Info("Submitted %s task %s", task.Kind, task.ID)
	go o.run(task.ID, req, done)
	return task.ID, nil
}

func (o *Orchestrator) run(id string, req models.TaskRequest, done chan struct{}) {
	defer o.finalize(id, done)

	if o.beforeRun != nil {
		o.beforeRun(id)
	}

	started := time.Now().UTC()
	running := models.TaskStatusRunning
	o.store.Update(id, store.TaskUpdate{Status: &running, StartedAt: &started})

	// Progress events are persisted by a detached drain so persistence never
	// blocks the relay to subscribers; the channel keeps store appends in
	// emission order.
	events := make(chan models.ProgressEvent, subscriberBuffer)
	var drained sync.WaitGroup
	drained.Add(1)
	go func() {
		defer drained.Done()
		for ev := range events {
			o.store.AppendProgress(id, ev)
		}
	}()

	result := o.runner.Run(req.Args(), func(p float64, msg string) {
		ev := models.ProgressEvent{Progress: p, Message: msg, Timestamp: time.Now().UTC()}
		o.relay(id, ev)
		events <- ev
	})

	close(events)
	drained.Wait()

	finished := time.Now().UTC()
	if result.OK {
		succeeded := models.TaskStatusSucceeded
		resultPayload, err := json.Marshal(models.TaskResult{Output: req.OutputPath()})
		if err != nil {
			logger.Error("Failed to marshal result for task %s: %v", id, err)
		}
		o.store.Update(id, store.TaskUpdate{
			Status:     &succeeded,
			FinishedAt: &finished,
			Result:     resultPayload,
			Logs:       result.Logs,
		})
		logger.Info("Task %s succeeded", id)
	} else {
		failed := models.TaskStatusFailed
		errText := result.Error
		o.store.Update(id, store.TaskUpdate{
			Status:     &failed,
			FinishedAt: &finished,
			Error:      &errText,
			Logs:       result.Logs,
		})
		logger.Error("Task %s failed: %s", id, result.Error)
	}
}

func (o *Orchestrator) relay(id string, ev models.ProgressEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.subs[id] {
		select {
		case ch <- ev:
		default:
			logger.Debug("Dropping progress event for slow subscriber of task %s", id)
		}
	}
}

// finalize closes the task's subscriber channels and marks it done in one
// critical section, so a concurrent Subscribe either sees the task finished
// or is granted a channel that finalize will close.
func (o *Orchestrator) finalize(id string, done chan struct{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.subs[id] {
		close(ch)
	}
	delete(o.subs, id)
	close(done)
}

// Subscribe returns a stream of progress events for a task. The channel is
// closed once the task reaches a terminal state. Returns false when the
// task is unknown or already finished.
func (o *Orchestrator) Subscribe(id string) (<-chan models.ProgressEvent, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	done, ok := o.done[id]
	if !ok {
		return nil, false
	}
	select {
	case <-done:
		return nil, false
	default:
	}

	ch := make(chan models.ProgressEvent, subscriberBuffer)
	o.subs[id] = append(o.subs[id], ch)
	return ch, true
}

// Wait returns a channel that closes once the task has been finalized. For
// an unknown id the returned channel is already closed.
func (o *Orchestrator) Wait(id string) <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()

	if done, ok := o.done[id]; ok {
		return done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Get retrieves one task record.
func (o *Orchestrator) Get(id string) (models.Task, bool) {
	return o.store.Get(id)
}

// List returns every task record, newest first.
func (o *Orchestrator) List() []models.Task {
	return o.store.List()
}

// DeleteCompleted removes every task that is neither running nor queued.
func (o *Orchestrator) DeleteCompleted() int {
	return o.store.DeleteCompleted()
}
