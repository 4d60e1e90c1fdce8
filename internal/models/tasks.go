package models

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	// TaskStatusCanceled is a valid terminal state in the schema but no code
	// path produces it yet; there is no cancel operation.
	TaskStatusCanceled TaskStatus = "canceled"
)

// Terminal reports whether a status can no longer change.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed || s == TaskStatusCanceled
}

type TaskKind string

const (
	TaskKindCrop       TaskKind = "crop"
	TaskKindConvert    TaskKind = "convert"
	TaskKindExpression TaskKind = "expression"
	TaskKindMovie      TaskKind = "movie"
)

// ProgressEvent is one recognized line of the worker's progress protocol.
type ProgressEvent struct {
	Progress  float64   `json:"progress"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is the persisted record of one worker execution.
//
// Status only moves forward: queued -> running -> succeeded/failed.
// Result is set iff the task succeeded, Error iff it failed.
type Task struct {
	ID             string          `json:"id"`
	Kind           TaskKind        `json:"kind"`
	Status         TaskStatus      `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at"`
	FinishedAt     *time.Time      `json:"finished_at"`
	Request        json.RawMessage `json:"request"`
	Result         json.RawMessage `json:"result"`
	Error          string          `json:"error,omitempty"`
	Logs           []string        `json:"logs"`
	ProgressEvents []ProgressEvent `json:"progress_events"`
}

// Clone returns a deep copy so store callers cannot mutate records in place.
func (t Task) Clone() Task {
	out := t
	if t.StartedAt != nil {
		started := *t.StartedAt
		out.StartedAt = &started
	}
	if t.FinishedAt != nil {
		finished := *t.FinishedAt
		out.FinishedAt = &finished
	}
	out.Request = append(json.RawMessage(nil), t.Request...)
	if t.Result != nil {
		out.Result = append(json.RawMessage(nil), t.Result...)
	}
	out.Logs = append([]string(nil), t.Logs...)
	out.ProgressEvents = append([]ProgressEvent(nil), t.ProgressEvents...)
	return out
}

// TaskResult is the opaque payload stored on a succeeded task.
type TaskResult struct {
	Output string `json:"output"`
}
