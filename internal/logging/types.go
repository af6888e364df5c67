package logging

import "time"

// #region event-kind
// EventKind classifies a trial lifecycle event.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventReported  EventKind = "reported"
	EventPruned    EventKind = "pruned"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventStale     EventKind = "stale"
)

// #endregion event-kind

// #region event-entry
// EventEntry is a single row in the trial_events table.
type EventEntry struct {
	StudyName   string
	TrialNumber int
	Kind        EventKind
	Step        int    // 0 when the event is not tied to a step
	DetailJSON  string // decision inputs, e.g. params or the error text
	Reason      string
	CreatedAt   time.Time
}

// #endregion event-entry
