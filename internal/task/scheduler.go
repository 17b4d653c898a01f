package task

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afk2auto/afkbot/internal/events"
	"github.com/afk2auto/afkbot/internal/logging"
)

// Factory builds a fresh task each time an entry fires. Entries hold
// factories rather than tasks because a task is single-use.
type Factory func() *Task

// Entry is one schedule line: a factory plus when it next fires.
// Interval zero makes the entry one-shot.
type Entry struct {
	ID       string
	Name     string
	NextRun  time.Time
	Interval time.Duration
	Build    Factory
}

// EntryInfo is a snapshot of a schedule entry. Status is always
// StatusScheduled; the built task moves through the usual lifecycle
// once the entry fires.
type EntryInfo struct {
	ID       string
	Name     string
	Status   Status
	NextRun  time.Time
	Interval time.Duration
}

// Scheduler submits tasks to a manager when their entries come due.
// A tick that finds an entry more than one interval overdue fires it
// once and realigns it; missed occurrences are never replayed as a
// burst.
type Scheduler struct {
	manager *Manager
	bus     events.Bus
	logger  *logging.Logger
	tick    time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
}

// NewScheduler creates a scheduler feeding the given manager.
func NewScheduler(manager *Manager, bus events.Bus, logger *logging.Logger, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	return &Scheduler{
		manager: manager,
		bus:     bus,
		logger:  logger,
		tick:    tick,
		now:     time.Now,
		entries: make(map[string]*Entry),
	}
}

// ScheduleOnce registers a one-shot entry firing at the given time.
func (s *Scheduler) ScheduleOnce(name string, at time.Time, build Factory) string {
	return s.add(&Entry{
		ID:      uuid.NewString(),
		Name:    name,
		NextRun: at,
		Build:   build,
	})
}

// ScheduleEvery registers a recurring entry. The first run happens one
// interval from now.
func (s *Scheduler) ScheduleEvery(name string, interval time.Duration, build Factory) string {
	return s.add(&Entry{
		ID:       uuid.NewString(),
		Name:     name,
		NextRun:  s.now().Add(interval),
		Interval: interval,
		Build:    build,
	})
}

// ScheduleDaily registers an entry recurring every 24h, first firing
// at the next occurrence of the given wall-clock hour and minute.
func (s *Scheduler) ScheduleDaily(name string, hour, minute int, build Factory) string {
	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return s.add(&Entry{
		ID:       uuid.NewString(),
		Name:     name,
		NextRun:  next,
		Interval: 24 * time.Hour,
		Build:    build,
	})
}

func (s *Scheduler) add(e *Entry) string {
	s.mu.Lock()
	s.entries[e.ID] = e
	s.mu.Unlock()
	if s.logger != nil {
		s.logger.Infof("scheduled %s, next run %s", e.Name, e.NextRun.Format(time.RFC3339))
	}
	return e.ID
}

// Remove drops a schedule entry.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	return true
}

// Entries returns snapshots of all registered entries.
func (s *Scheduler) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, EntryInfo{
			ID:       e.ID,
			Name:     e.Name,
			Status:   StatusScheduled,
			NextRun:  e.NextRun,
			Interval: e.Interval,
		})
	}
	return out
}

// RunLoop ticks until ctx is cancelled, firing due entries.
func (s *Scheduler) RunLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.fire(s.now())
		}
	}
}

// fire submits every due entry. An entry overdue by at least two
// intervals fires exactly once as a catch-up and its next run is
// realigned to now plus one interval.
func (s *Scheduler) fire(now time.Time) {
	s.mu.Lock()
	due := make([]*Entry, 0)
	for _, e := range s.entries {
		if !e.NextRun.After(now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		catchup := e.Interval > 0 && now.Sub(e.NextRun) >= 2*e.Interval

		t := e.Build()
		id := s.manager.Submit(t)

		if s.bus != nil {
			s.bus.Publish(events.NewEntryFiredEvent(e.ID, id, catchup))
		}
		if s.logger != nil {
			if catchup {
				s.logger.Warnf("entry %s overdue, firing once as catch-up", e.Name)
			} else {
				s.logger.Infof("entry %s fired task %s", e.Name, id)
			}
		}

		s.mu.Lock()
		if e.Interval <= 0 {
			delete(s.entries, e.ID)
		} else if catchup {
			e.NextRun = now.Add(e.Interval)
		} else {
			e.NextRun = e.NextRun.Add(e.Interval)
			// A scheduler stopped for less than two intervals still
			// steps forward from the planned time, keeping the cadence.
			if !e.NextRun.After(now) {
				e.NextRun = now.Add(e.Interval)
			}
		}
		s.mu.Unlock()
	}
}

// SetClock replaces the time source, used by tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	if now == nil {
		panic("scheduler: nil clock")
	}
	s.now = now
}
