// Package task holds the unit of work the bot executes and the
// manager and scheduler that run them. A task is a named sequence of
// controller goals with retry, pause and cancellation built in.
package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afk2auto/afkbot/internal/control"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"

	// StatusScheduled is reported for work still held by the scheduler
	// as an unfired entry. The task itself is built when the entry
	// fires and enters the lifecycle at StatusPending.
	StatusScheduled Status = "scheduled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Priority orders pending tasks when the manager runs in fair mode.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
)

// ErrCancelled is returned from a task run that was cancelled.
var ErrCancelled = errors.New("task cancelled")

// Task is one unit of automation: an ordered list of goals driven to
// completion by a controller. Progress through the goal list survives
// pause/resume, so a resumed task picks up at the goal it was on.
type Task struct {
	id       string
	name     string
	kind     string
	priority Priority
	goals    []control.Goal
	policy   RetryPolicy
	prologue func(context.Context) error

	mu        sync.Mutex
	status    Status
	goalIndex int
	attempts  int
	lastErr   error
	paused    bool
	resumeCh  chan struct{}
	cancelled bool
	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time
}

// Info is an immutable snapshot of a task's state.
type Info struct {
	ID        string
	Name      string
	Kind      string
	Priority  Priority
	Status    Status
	GoalIndex int
	GoalCount int
	Attempts  int
	Err       error
	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time
}

// New creates a pending task with a fresh id.
func New(name, kind string, priority Priority, goals []control.Goal, policy RetryPolicy) *Task {
	return &Task{
		id:        uuid.NewString(),
		name:      name,
		kind:      kind,
		priority:  priority,
		goals:     goals,
		policy:    policy,
		status:    StatusPending,
		createdAt: time.Now(),
	}
}

// WithPrologue sets a function run before the goals on every attempt
// that starts from the first goal. The wake task uses it to launch
// the game process, which is not expressible as a screen command.
func (t *Task) WithPrologue(fn func(context.Context) error) *Task {
	t.prologue = fn
	return t
}

// ID returns the task's unique id.
func (t *Task) ID() string { return t.id }

// Name returns the task's display name.
func (t *Task) Name() string { return t.name }

// Kind returns the task's kind label.
func (t *Task) Kind() string { return t.kind }

// Priority returns the task's scheduling priority.
func (t *Task) Priority() Priority { return t.priority }

// Status returns the current lifecycle state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Snapshot returns a copy of the task's observable state.
func (t *Task) Snapshot() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Info{
		ID:        t.id,
		Name:      t.name,
		Kind:      t.kind,
		Priority:  t.priority,
		Status:    t.status,
		GoalIndex: t.goalIndex,
		GoalCount: len(t.goals),
		Attempts:  t.attempts,
		Err:       t.lastErr,
		CreatedAt: t.createdAt,
		StartedAt: t.startedAt,
		EndedAt:   t.endedAt,
	}
}

// Pause requests the task block at its next checkpoint. Only a
// running task can be paused.
func (t *Task) Pause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusRunning || t.paused {
		return false
	}
	t.paused = true
	t.resumeCh = make(chan struct{})
	t.status = StatusPaused
	return true
}

// Resume unblocks a paused task.
func (t *Task) Resume() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.paused {
		return false
	}
	t.paused = false
	t.status = StatusRunning
	close(t.resumeCh)
	t.resumeCh = nil
	return true
}

// Cancel marks the task cancelled. A running task notices at its next
// checkpoint; a pending task is simply never started. finished reports
// whether this call itself ended the task, which only happens for
// tasks still pending.
func (t *Task) Cancel() (ok, finished bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() || t.cancelled {
		return false, false
	}
	t.cancelled = true
	if t.paused {
		// Wake the gate so cancellation is not stuck behind a pause.
		t.paused = false
		close(t.resumeCh)
		t.resumeCh = nil
	}
	if t.status == StatusPending {
		t.finish(StatusCancelled, ErrCancelled)
		return true, true
	}
	return true, false
}

// gate is the cooperative checkpoint called by the controller at the
// top of every decide-act cycle. It blocks while paused and reports
// cancellation.
func (t *Task) gate(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.cancelled {
			t.mu.Unlock()
			return ErrCancelled
		}
		if !t.paused {
			t.mu.Unlock()
			return nil
		}
		ch := t.resumeCh
		t.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// run drives the task's goals through the controller with retry. One
// attempt covers the remaining goals; a failed attempt resumes from
// the goal it failed on, not from the beginning.
func (t *Task) run(ctx context.Context, controller *control.Controller) error {
	t.mu.Lock()
	if t.cancelled {
		t.mu.Unlock()
		return ErrCancelled
	}
	t.status = StatusRunning
	t.startedAt = time.Now()
	t.mu.Unlock()

	err := Attempt(ctx, t.policy, func(ctx context.Context, attempt int) error {
		t.mu.Lock()
		t.attempts = attempt
		start := t.goalIndex
		t.mu.Unlock()

		if start == 0 && t.prologue != nil {
			if err := t.prologue(ctx); err != nil {
				return err
			}
		}

		for i := start; i < len(t.goals); i++ {
			if err := controller.Run(ctx, t.goals[i], t.gate); err != nil {
				if errors.Is(err, ErrCancelled) {
					return Permanent(err)
				}
				return err
			}
			t.mu.Lock()
			t.goalIndex = i + 1
			t.mu.Unlock()
		}
		return nil
	})

	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		err = ErrCancelled
	}
	return err
}

// finish records a terminal status. Caller must hold t.mu.
func (t *Task) finish(status Status, err error) {
	t.status = status
	t.lastErr = err
	t.endedAt = time.Now()
}

// markFinished records a terminal status unless the task already
// finished elsewhere, reporting whether this call applied it.
func (t *Task) markFinished(status Status, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return false
	}
	t.finish(status, err)
	return true
}
