package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/afk2auto/afkbot/internal/control"
	"github.com/afk2auto/afkbot/internal/events"
	"github.com/afk2auto/afkbot/internal/history"
	"github.com/afk2auto/afkbot/internal/logging"
)

// Mode selects how the manager orders pending tasks.
type Mode int

const (
	// ModeSerial runs tasks strictly in submission order.
	ModeSerial Mode = iota
	// ModeFair prefers higher priority but dispatches from the oldest
	// pending task every fourth pick so low priority work cannot
	// starve.
	ModeFair
)

// fairWindow is the dispatch period of the anti-starvation pick.
const fairWindow = 4

// Stats summarizes manager activity.
type Stats struct {
	Submitted int64
	Completed int64
	Failed    int64
	Cancelled int64
	Pending   int
	Running   int
}

// Manager owns task execution. A single run loop goroutine holds the
// right to drive the device, so at most one task is Running at any
// time; everything else queues.
type Manager struct {
	controller *control.Controller
	bus        events.Bus
	store      *history.Store
	logger     *logging.Logger
	mode       Mode

	mu       sync.Mutex
	tasks    map[string]*Task
	queue    []*Task
	running  *Task
	stats    Stats
	fairTick int

	wake chan struct{}
}

// NewManager creates a manager. bus and store may be nil; events and
// history are then simply not recorded.
func NewManager(controller *control.Controller, bus events.Bus, store *history.Store, logger *logging.Logger, mode Mode) *Manager {
	return &Manager{
		controller: controller,
		bus:        bus,
		store:      store,
		logger:     logger,
		mode:       mode,
		tasks:      make(map[string]*Task),
		wake:       make(chan struct{}, 1),
	}
}

// Submit queues a task and returns its id.
func (m *Manager) Submit(t *Task) string {
	m.mu.Lock()
	m.tasks[t.ID()] = t
	m.queue = append(m.queue, t)
	m.stats.Submitted++
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type:      events.EventTypeTaskSubmitted,
			Source:    "manager",
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"task_id":  t.ID(),
				"name":     t.Name(),
				"kind":     t.Kind(),
				"priority": int(t.Priority()),
			},
		})
	}
	m.signal()
	return t.ID()
}

// Cancel cancels a task by id. Pending tasks finish immediately as
// cancelled; the running task stops at its next checkpoint.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	ok, finished := t.Cancel()
	if !ok {
		return fmt.Errorf("task %s already finished", id)
	}
	// A pending task is terminal right away and never reaches execute,
	// so it is counted here. A running task is counted when its run
	// returns.
	if finished {
		m.bumpStat(func(s *Stats) { s.Cancelled++ })
		m.publishTransition(t, string(StatusPending), string(StatusCancelled))
		if m.bus != nil {
			m.bus.Publish(events.Event{
				Type:      events.EventTypeTaskCancelled,
				Source:    "manager",
				Timestamp: time.Now(),
				Data: map[string]interface{}{
					"task_id": t.ID(),
					"name":    t.Name(),
				},
			})
		}
	}
	return nil
}

// Pause pauses the named task at its next checkpoint.
func (m *Manager) Pause(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	if !t.Pause() {
		return fmt.Errorf("task %s is not running", id)
	}
	m.publishTransition(t, string(StatusRunning), string(StatusPaused))
	return nil
}

// Resume unblocks a paused task.
func (m *Manager) Resume(id string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	if !t.Resume() {
		return fmt.Errorf("task %s is not paused", id)
	}
	m.publishTransition(t, string(StatusPaused), string(StatusRunning))
	return nil
}

// Get returns a snapshot of the named task.
func (m *Manager) Get(id string) (Info, bool) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return Info{}, false
	}
	return t.Snapshot(), true
}

// List returns snapshots of every known task in submission order.
func (m *Manager) List() []Info {
	m.mu.Lock()
	all := make([]*Task, 0, len(m.tasks))
	for _, t := range m.queue {
		all = append(all, t)
	}
	if m.running != nil {
		all = append(all, m.running)
	}
	seen := make(map[string]bool, len(all))
	for _, t := range all {
		seen[t.ID()] = true
	}
	for _, t := range m.tasks {
		if !seen[t.ID()] {
			all = append(all, t)
		}
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(all))
	for _, t := range all {
		infos = append(infos, t.Snapshot())
	}
	return infos
}

// Stats returns a snapshot of manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Pending = len(m.queue)
	if m.running != nil {
		s.Running = 1
	}
	return s
}

// ClearFinished drops terminal tasks from the registry and returns
// how many were removed.
func (m *Manager) ClearFinished() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, t := range m.tasks {
		if t.Status().Terminal() {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}

// RunLoop dispatches queued tasks one at a time until ctx is
// cancelled. It is the only goroutine that touches the device.
func (m *Manager) RunLoop(ctx context.Context) error {
	for {
		t := m.next()
		if t == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.wake:
				continue
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		m.execute(ctx, t)
	}
}

// next pops the next runnable task, skipping tasks cancelled while
// queued. Returns nil when the queue is empty.
func (m *Manager) next() *Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.queue) > 0 {
		var idx int
		switch m.mode {
		case ModeFair:
			idx = m.pickFair()
		default:
			idx = 0
		}
		t := m.queue[idx]
		m.queue = append(m.queue[:idx], m.queue[idx+1:]...)

		if t.Status().Terminal() {
			continue
		}
		m.running = t
		return t
	}
	return nil
}

// pickFair chooses the oldest highest-priority task, except every
// fourth dispatch takes the oldest task outright. Caller holds m.mu.
func (m *Manager) pickFair() int {
	m.fairTick++
	if m.fairTick%fairWindow == 0 {
		return 0
	}
	best := 0
	for i, t := range m.queue {
		if t.Priority() > m.queue[best].Priority() {
			best = i
		}
	}
	return best
}

func (m *Manager) execute(ctx context.Context, t *Task) {
	defer func() {
		m.mu.Lock()
		m.running = nil
		m.mu.Unlock()
	}()

	m.publishTransition(t, string(StatusPending), string(StatusRunning))
	if m.logger != nil {
		m.logger.Infof("task %s (%s) started", t.Name(), t.ID())
	}

	var execID int64
	if m.store != nil {
		id, err := m.store.RecordStart(t.ID(), t.Name(), t.Kind(), time.Now())
		if err != nil {
			if m.logger != nil {
				m.logger.Warnf("history record failed: %v", err)
			}
		} else {
			execID = id
		}
	}

	err := t.run(ctx, m.controller)
	info := t.Snapshot()

	var status Status
	switch {
	case err == nil:
		status = StatusCompleted
	case errors.Is(err, ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		status = StatusCancelled
	default:
		status = StatusFailed
	}
	if !t.markFinished(status, err) {
		// Finished by Cancel while still queued; already counted there.
		return
	}
	switch status {
	case StatusCompleted:
		m.bumpStat(func(s *Stats) { s.Completed++ })
	case StatusCancelled:
		m.bumpStat(func(s *Stats) { s.Cancelled++ })
	default:
		m.bumpStat(func(s *Stats) { s.Failed++ })
	}

	m.publishTransition(t, string(StatusRunning), string(status))
	if m.bus != nil {
		switch status {
		case StatusCompleted:
			m.bus.Publish(events.Event{
				Type:      events.EventTypeTaskCompleted,
				Source:    "manager",
				Timestamp: time.Now(),
				Data: map[string]interface{}{
					"task_id": t.ID(),
					"name":    t.Name(),
				},
			})
		case StatusFailed:
			m.bus.Publish(events.NewTaskFailedEvent(t.ID(), t.Name(), err.Error(), info.Attempts))
		case StatusCancelled:
			m.bus.Publish(events.Event{
				Type:      events.EventTypeTaskCancelled,
				Source:    "manager",
				Timestamp: time.Now(),
				Data: map[string]interface{}{
					"task_id": t.ID(),
					"name":    t.Name(),
				},
			})
		}
	}

	if m.store != nil && execID != 0 {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		if recErr := m.store.RecordFinish(execID, string(status), info.Attempts, errMsg, time.Now()); recErr != nil {
			if m.logger != nil {
				m.logger.Warnf("history record failed: %v", recErr)
			}
		}
	}

	if m.logger != nil {
		switch status {
		case StatusCompleted:
			m.logger.Infof("task %s (%s) completed", t.Name(), t.ID())
		case StatusFailed:
			m.logger.Error(fmt.Sprintf("task %s (%s) failed", t.Name(), t.ID()), err)
		case StatusCancelled:
			m.logger.Infof("task %s (%s) cancelled", t.Name(), t.ID())
		}
	}
}

func (m *Manager) publishTransition(t *Task, from, to string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.NewTaskStatusChangedEvent(t.ID(), t.Name(), from, to))
}

func (m *Manager) bumpStat(fn func(*Stats)) {
	m.mu.Lock()
	fn(&m.stats)
	m.mu.Unlock()
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
