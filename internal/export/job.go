package export

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether the state machine allows s -> to.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is a point-in-time snapshot of a tracked export.
type Job struct {
	ID          string    `json:"id"`
	PluginID    string    `json:"pluginId"`
	Status      Status    `json:"status"`
	Settings    Settings  `json:"settings"`
	Progress    float64   `json:"progress"`
	Stage       Stage     `json:"stage,omitempty"`
	Message     string    `json:"message,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	StartedAt   time.Time `json:"startedAt,omitzero"`
	CompletedAt time.Time `json:"completedAt,omitzero"`
	Result      *Result   `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// job is the registry's mutable record; fields are guarded by Registry.mu.
type job struct {
	Job
	plugin Plugin
	ectx   *Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (j *job) transition(to Status, now time.Time) error {
	if !j.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	switch to {
	case StatusRunning:
		j.StartedAt = now
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = now
	}
	return nil
}

// finish fires the caller's terminal callback once and releases waiters.
func (j *job) finish(result *Result, err error) {
	j.once.Do(func() {
		if err != nil {
			if j.ectx.OnError != nil {
				j.ectx.OnError(err)
			}
		} else if j.ectx.OnComplete != nil {
			j.ectx.OnComplete(result)
		}
		close(j.done)
	})
}

func (j *job) snapshot() Job {
	return j.Job
}
