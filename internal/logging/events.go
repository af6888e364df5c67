package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region schema
const eventsSchema = `
CREATE TABLE IF NOT EXISTS trial_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	study_name    TEXT NOT NULL,
	trial_number  INTEGER NOT NULL,
	kind          TEXT NOT NULL,
	step          INTEGER,
	detail_json   TEXT,
	reason        TEXT,
	created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trial_events_trial ON trial_events(study_name, trial_number);
`

// #endregion schema

// #region event-log
// EventLog records why trials moved through their lifecycle. It shares the
// study database so the audit trail survives with the trials it describes.
type EventLog struct {
	db *sql.DB
}

// NewEventLog creates the trial_events table if needed.
func NewEventLog(db *sql.DB) (*EventLog, error) {
	if _, err := db.Exec(eventsSchema); err != nil {
		return nil, fmt.Errorf("migrate events: %w", err)
	}
	return &EventLog{db: db}, nil
}

// Log writes entry; see LogEvent.
func (l *EventLog) Log(entry EventEntry) error {
	return LogEvent(l.db, entry)
}

// Events returns the events of one trial in insertion order.
func (l *EventLog) Events(studyName string, number int) ([]EventEntry, error) {
	return ListEvents(l.db, studyName, number)
}

// #endregion event-log

// #region log-event
// LogEvent writes an entry to the trial_events table.
func LogEvent(db *sql.DB, entry EventEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var step interface{}
	if entry.Step > 0 {
		step = entry.Step
	}

	_, err := db.Exec(
		`INSERT INTO trial_events (study_name, trial_number, kind, step, detail_json, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.StudyName,
		entry.TrialNumber,
		string(entry.Kind),
		step,
		nullIfEmpty(entry.DetailJSON),
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// #endregion log-event

// #region list-events
// ListEvents reads the events of one trial in insertion order.
func ListEvents(db *sql.DB, studyName string, number int) ([]EventEntry, error) {
	rows, err := db.Query(
		`SELECT kind, step, detail_json, reason, created_at
		 FROM trial_events WHERE study_name = ? AND trial_number = ? ORDER BY id`,
		studyName, number,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []EventEntry
	for rows.Next() {
		var (
			kind      string
			step      sql.NullInt64
			detail    sql.NullString
			reason    sql.NullString
			createdAt string
		)
		if err := rows.Scan(&kind, &step, &detail, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e := EventEntry{
			StudyName:   studyName,
			TrialNumber: number,
			Kind:        EventKind(kind),
			Step:        int(step.Int64),
			DetailJSON:  detail.String,
			Reason:      reason.String,
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-events

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
