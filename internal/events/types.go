package events

import "time"

// EventType identifies a category of system event
type EventType string

const (
	// Task lifecycle events
	EventTypeTaskSubmitted     EventType = "task.submitted"
	EventTypeTaskStatusChanged EventType = "task.status_changed"
	EventTypeTaskCompleted     EventType = "task.completed"
	EventTypeTaskFailed        EventType = "task.failed"
	EventTypeTaskCancelled     EventType = "task.cancelled"

	// Scheduler events
	EventTypeEntryFired   EventType = "scheduler.entry_fired"
	EventTypeEntryCatchup EventType = "scheduler.entry_catchup"

	// Recognition and device events
	EventTypeSceneChanged EventType = "scene.changed"
	EventTypeDeviceError  EventType = "device.error"
)

// Event carries one occurrence with its metadata
type Event struct {
	Type      EventType
	Source    string
	Timestamp time.Time
	Data      map[string]interface{}
}

// Handler processes a single event
type Handler func(Event)

// SubscriptionID uniquely identifies a subscription
type SubscriptionID int64

// Bus is the status-change channel the task manager publishes to;
// subscribers (CLI, logger) receive events without the core depending on them
type Bus interface {
	Subscribe(eventType EventType, handler Handler) SubscriptionID
	Unsubscribe(id SubscriptionID)
	Publish(event Event)
	Stop()
}

// NewTaskStatusChangedEvent reports a task status transition
func NewTaskStatusChangedEvent(taskID, name string, from, to string) Event {
	return Event{
		Type:      EventTypeTaskStatusChanged,
		Source:    "manager",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"task_id": taskID,
			"name":    name,
			"from":    from,
			"to":      to,
		},
	}
}

// NewTaskFailedEvent reports a terminal task failure with its cause
func NewTaskFailedEvent(taskID, name, cause string, attempts int) Event {
	return Event{
		Type:      EventTypeTaskFailed,
		Source:    "manager",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"task_id":  taskID,
			"name":     name,
			"cause":    cause,
			"attempts": attempts,
		},
	}
}

// NewEntryFiredEvent reports a schedule entry materializing a task
func NewEntryFiredEvent(entryID, taskID string, catchup bool) Event {
	typ := EventTypeEntryFired
	if catchup {
		typ = EventTypeEntryCatchup
	}
	return Event{
		Type:      typ,
		Source:    "scheduler",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"entry_id": entryID,
			"task_id":  taskID,
		},
	}
}

// NewSceneChangedEvent reports a classification transition
func NewSceneChangedEvent(from, to string) Event {
	return Event{
		Type:      EventTypeSceneChanged,
		Source:    "controller",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	}
}

// NewDeviceErrorEvent reports a device channel failure
func NewDeviceErrorEvent(op string, err error) Event {
	return Event{
		Type:      EventTypeDeviceError,
		Source:    "device",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"op":    op,
			"error": err.Error(),
		},
	}
}
