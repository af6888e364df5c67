package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/danielpatrickdp/hpsearch/internal/trial"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS studies (
	study_id    INTEGER PRIMARY KEY AUTOINCREMENT,
	study_name  TEXT NOT NULL UNIQUE,
	direction   TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trials (
	trial_id      INTEGER PRIMARY KEY AUTOINCREMENT,
	study_id      INTEGER NOT NULL,
	number        INTEGER NOT NULL,
	run_id        TEXT NOT NULL UNIQUE,
	state         TEXT NOT NULL,
	value         REAL,
	started_at    TEXT NOT NULL,
	completed_at  TEXT,
	heartbeat_at  TEXT NOT NULL,
	UNIQUE (study_id, number),
	FOREIGN KEY (study_id) REFERENCES studies(study_id)
);

CREATE TABLE IF NOT EXISTS trial_params (
	trial_id     INTEGER NOT NULL,
	param_name   TEXT NOT NULL,
	param_value  REAL NOT NULL,
	PRIMARY KEY (trial_id, param_name),
	FOREIGN KEY (trial_id) REFERENCES trials(trial_id)
);

CREATE TABLE IF NOT EXISTS trial_intermediate_values (
	trial_id  INTEGER NOT NULL,
	step      INTEGER NOT NULL,
	value     REAL,
	PRIMARY KEY (trial_id, step),
	FOREIGN KEY (trial_id) REFERENCES trials(trial_id)
);

CREATE INDEX IF NOT EXISTS idx_trials_study_state ON trials(study_id, state);
`

// timeFormat is fixed width so stored timestamps compare lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// #endregion schema

// #region store-struct
// Store persists studies and trials in a single SQLite file. Several
// processes may open the same file; SQLite serializes their writes.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens (or creates) the SQLite database at dbPath and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// Every write transaction below starts with a write statement, so the write
// lock is taken up front and never upgraded from a read snapshot.

// #region studies
// CreateOrLoadStudy returns the study called name, creating it with dir if it
// does not exist. Loading an existing study with another direction fails.
func (s *Store) CreateOrLoadStudy(ctx context.Context, name string, dir trial.Direction) (trial.Study, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return trial.Study{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO studies (study_name, direction, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(study_name) DO NOTHING`,
		name, string(dir), formatTime(time.Now()),
	)
	if err != nil {
		return trial.Study{}, fmt.Errorf("insert study: %w", err)
	}

	st, err := scanStudy(tx.QueryRowContext(ctx,
		`SELECT study_id, study_name, direction, created_at FROM studies WHERE study_name = ?`, name))
	if err != nil {
		return trial.Study{}, err
	}
	if err := tx.Commit(); err != nil {
		return trial.Study{}, fmt.Errorf("commit: %w", err)
	}
	if st.Direction != dir {
		return st, fmt.Errorf("%w: %q is %s, requested %s", ErrDirectionMismatch, name, st.Direction, dir)
	}
	return st, nil
}

// GetStudy loads an existing study by name.
func (s *Store) GetStudy(ctx context.Context, name string) (trial.Study, error) {
	return scanStudy(s.db.QueryRowContext(ctx,
		`SELECT study_id, study_name, direction, created_at FROM studies WHERE study_name = ?`, name))
}

// ListStudies returns every study with its trial counts per state.
func (s *Store) ListStudies(ctx context.Context) ([]StudySummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.study_id, s.study_name, s.direction, s.created_at, t.state, COUNT(t.trial_id)
		 FROM studies s LEFT JOIN trials t ON t.study_id = s.study_id
		 GROUP BY s.study_id, t.state
		 ORDER BY s.study_id`)
	if err != nil {
		return nil, fmt.Errorf("list studies: %w", err)
	}
	defer rows.Close()

	var out []StudySummary
	for rows.Next() {
		var (
			st        trial.Study
			dir       string
			createdAt string
			state     sql.NullString
			count     int
		)
		if err := rows.Scan(&st.ID, &st.Name, &dir, &createdAt, &state, &count); err != nil {
			return nil, fmt.Errorf("scan study: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].ID != st.ID {
			st.Direction = trial.Direction(dir)
			st.CreatedAt = parseTime(createdAt)
			out = append(out, StudySummary{Study: st, Counts: map[trial.State]int{}})
		}
		if state.Valid {
			out[len(out)-1].Counts[trial.State(state.String)] = count
		}
	}
	return out, rows.Err()
}

func scanStudy(row *sql.Row) (trial.Study, error) {
	var (
		st        trial.Study
		dir       string
		createdAt string
	)
	err := row.Scan(&st.ID, &st.Name, &dir, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return trial.Study{}, ErrStudyNotFound
	}
	if err != nil {
		return trial.Study{}, fmt.Errorf("get study: %w", err)
	}
	st.Direction = trial.Direction(dir)
	st.CreatedAt = parseTime(createdAt)
	return st, nil
}

// #endregion studies

// #region create-trial
// CreateTrial appends a RUNNING trial with its parameters in one transaction.
// The trial number is allocated inside the insert, so concurrent writers
// never collide and numbers are never reused.
func (s *Store) CreateTrial(ctx context.Context, studyName string, params trial.Params) (trial.Record, error) {
	now := time.Now().UTC()
	runID := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return trial.Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO trials (study_id, number, run_id, state, started_at, heartbeat_at)
		 SELECT s.study_id,
		        COALESCE((SELECT MAX(number) FROM trials WHERE study_id = s.study_id), 0) + 1,
		        ?, ?, ?, ?
		 FROM studies s WHERE s.study_name = ?`,
		runID, string(trial.StateRunning), formatTime(now), formatTime(now), studyName,
	)
	if err != nil {
		return trial.Record{}, fmt.Errorf("insert trial: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return trial.Record{}, fmt.Errorf("%w: %s", ErrStudyNotFound, studyName)
	}
	trialID, err := res.LastInsertId()
	if err != nil {
		return trial.Record{}, fmt.Errorf("trial id: %w", err)
	}

	var number int
	if err := tx.QueryRowContext(ctx, `SELECT number FROM trials WHERE trial_id = ?`, trialID).Scan(&number); err != nil {
		return trial.Record{}, fmt.Errorf("read number: %w", err)
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO trial_params (trial_id, param_name, param_value) VALUES (?, ?, ?)`,
			trialID, name, params[name],
		)
		if err != nil {
			return trial.Record{}, fmt.Errorf("insert param %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return trial.Record{}, fmt.Errorf("commit: %w", err)
	}

	return trial.Record{
		ID:          trialID,
		StudyName:   studyName,
		Number:      number,
		RunID:       runID,
		State:       trial.StateRunning,
		Params:      params.Clone(),
		StartedAt:   now,
		HeartbeatAt: now,
	}, nil
}

// #endregion create-trial

// #region record-intermediate
// RecordIntermediate stores value at step for a RUNNING trial. Re-reporting a
// step overwrites it; reporting a step lower than one already stored fails
// with ErrStepOrder.
func (s *Store) RecordIntermediate(ctx context.Context, trialID int64, step int, value float64) error {
	now := formatTime(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO trial_intermediate_values (trial_id, step, value)
		 SELECT ?, ?, ?
		 WHERE EXISTS (SELECT 1 FROM trials WHERE trial_id = ? AND state = ?)
		   AND NOT EXISTS (SELECT 1 FROM trial_intermediate_values WHERE trial_id = ? AND step > ?)
		 ON CONFLICT(trial_id, step) DO UPDATE SET value = excluded.value`,
		trialID, step, nullIfNaN(value),
		trialID, string(trial.StateRunning),
		trialID, step,
	)
	if err != nil {
		return fmt.Errorf("insert intermediate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		state, err := trialState(ctx, tx, trialID)
		if err != nil {
			return err
		}
		if state.IsTerminal() {
			return fmt.Errorf("%w: trial %d is %s", ErrTrialFinished, trialID, state)
		}
		return fmt.Errorf("%w: trial %d step %d", ErrStepOrder, trialID, step)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE trials SET heartbeat_at = ? WHERE trial_id = ?`, now, trialID); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return tx.Commit()
}

// #endregion record-intermediate

// #region finalize-trial
// FinalizeTrial moves a RUNNING trial to a terminal state. Terminal records
// are write-once: finalizing twice fails with ErrTrialFinished.
func (s *Store) FinalizeTrial(ctx context.Context, trialID int64, state trial.State, value *float64) error {
	if !state.IsTerminal() {
		return fmt.Errorf("finalize trial %d: %s is not a terminal state", trialID, state)
	}

	var v interface{}
	if value != nil {
		v = nullIfNaN(*value)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE trials SET state = ?, value = ?, completed_at = ?
		 WHERE trial_id = ? AND state = ?`,
		string(state), v, formatTime(time.Now()), trialID, string(trial.StateRunning),
	)
	if err != nil {
		return fmt.Errorf("finalize trial %d: %w", trialID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		current, err := trialState(ctx, tx, trialID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: trial %d is %s", ErrTrialFinished, trialID, current)
	}
	return tx.Commit()
}

func trialState(ctx context.Context, tx *sql.Tx, trialID int64) (trial.State, error) {
	var state string
	err := tx.QueryRowContext(ctx, `SELECT state FROM trials WHERE trial_id = ?`, trialID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: id %d", ErrTrialNotFound, trialID)
	}
	if err != nil {
		return "", fmt.Errorf("trial state: %w", err)
	}
	return trial.State(state), nil
}

// #endregion finalize-trial

// #region fail-stale
// FailStaleTrials marks RUNNING trials of the study whose last heartbeat is
// older than olderThan as FAILED and returns their numbers.
func (s *Store) FailStaleTrials(ctx context.Context, studyName string, olderThan time.Duration) ([]int, error) {
	now := time.Now()
	cutoff := formatTime(now.Add(-olderThan))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`UPDATE trials SET state = ?, completed_at = ?
		 WHERE state = ? AND heartbeat_at < ?
		   AND study_id = (SELECT study_id FROM studies WHERE study_name = ?)
		 RETURNING number`,
		string(trial.StateFailed), formatTime(now), string(trial.StateRunning), cutoff, studyName,
	)
	if err != nil {
		return nil, fmt.Errorf("fail stale trials: %w", err)
	}
	var numbers []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale trial: %w", err)
		}
		numbers = append(numbers, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Ints(numbers)
	return numbers, tx.Commit()
}

// #endregion fail-stale

// #region load-history
// LoadHistory returns every trial of the study ordered by number, with params
// and intermediate values, read from a single snapshot.
func (s *Store) LoadHistory(ctx context.Context, studyName string) ([]trial.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT t.trial_id, t.number, t.run_id, t.state, t.value, t.started_at, t.completed_at, t.heartbeat_at
		 FROM trials t JOIN studies s ON s.study_id = t.study_id
		 WHERE s.study_name = ?
		 ORDER BY t.number`, studyName)
	if err != nil {
		return nil, fmt.Errorf("load trials: %w", err)
	}
	records, err := scanTrials(rows, studyName)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return records, nil
	}

	byID := make(map[int64]*trial.Record, len(records))
	for i := range records {
		byID[records[i].ID] = &records[i]
	}
	if err := loadParams(ctx, tx, studyName, byID); err != nil {
		return nil, err
	}
	if err := loadReports(ctx, tx, studyName, byID); err != nil {
		return nil, err
	}
	return records, nil
}

// GetTrial loads a single trial by number.
func (s *Store) GetTrial(ctx context.Context, studyName string, number int) (trial.Record, error) {
	records, err := s.LoadHistory(ctx, studyName)
	if err != nil {
		return trial.Record{}, err
	}
	for _, r := range records {
		if r.Number == number {
			return r, nil
		}
	}
	return trial.Record{}, fmt.Errorf("%w: %s #%d", ErrTrialNotFound, studyName, number)
}

func scanTrials(rows *sql.Rows, studyName string) ([]trial.Record, error) {
	defer rows.Close()
	var records []trial.Record
	for rows.Next() {
		var (
			rec         trial.Record
			state       string
			value       sql.NullFloat64
			startedAt   string
			completedAt sql.NullString
			heartbeatAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Number, &rec.RunID, &state, &value, &startedAt, &completedAt, &heartbeatAt); err != nil {
			return nil, fmt.Errorf("scan trial: %w", err)
		}
		rec.StudyName = studyName
		rec.State = trial.State(state)
		if value.Valid {
			v := value.Float64
			rec.Value = &v
		}
		rec.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			rec.CompletedAt = parseTime(completedAt.String)
		}
		rec.HeartbeatAt = parseTime(heartbeatAt)
		rec.Params = trial.Params{}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func loadParams(ctx context.Context, tx *sql.Tx, studyName string, byID map[int64]*trial.Record) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT p.trial_id, p.param_name, p.param_value
		 FROM trial_params p
		 JOIN trials t ON t.trial_id = p.trial_id
		 JOIN studies s ON s.study_id = t.study_id
		 WHERE s.study_name = ?`, studyName)
	if err != nil {
		return fmt.Errorf("load params: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id    int64
			name  string
			value float64
		)
		if err := rows.Scan(&id, &name, &value); err != nil {
			return fmt.Errorf("scan param: %w", err)
		}
		if rec, ok := byID[id]; ok {
			rec.Params[name] = value
		}
	}
	return rows.Err()
}

func loadReports(ctx context.Context, tx *sql.Tx, studyName string, byID map[int64]*trial.Record) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT v.trial_id, v.step, v.value
		 FROM trial_intermediate_values v
		 JOIN trials t ON t.trial_id = v.trial_id
		 JOIN studies s ON s.study_id = t.study_id
		 WHERE s.study_name = ?
		 ORDER BY v.trial_id, v.step`, studyName)
	if err != nil {
		return fmt.Errorf("load intermediate values: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id    int64
			step  int
			value sql.NullFloat64
		)
		if err := rows.Scan(&id, &step, &value); err != nil {
			return fmt.Errorf("scan intermediate value: %w", err)
		}
		rep := trial.Report{Step: step, Value: math.NaN()}
		if value.Valid {
			rep.Value = value.Float64
		}
		if rec, ok := byID[id]; ok {
			rec.Reports = append(rec.Reports, rep)
		}
	}
	return rows.Err()
}

// #endregion load-history

// #region helpers
func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func nullIfNaN(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

// #endregion helpers
