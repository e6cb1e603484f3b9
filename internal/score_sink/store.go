// Package score_sink persists scored runs to SQLite. It stores detector outputs
// only; the learned graph is never written.
package score_sink

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	ad "github.com/jtomasevic/synapse-cad/pkg/anomaly_detector"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id       TEXT PRIMARY KEY,
	detector_id  TEXT NOT NULL,
	series       TEXT NOT NULL,
	source       TEXT,
	config_json  TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	finished_at  TEXT,
	samples      INTEGER NOT NULL DEFAULT 0,
	anomalies    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS anomaly_scores (
	run_id     TEXT NOT NULL,
	step       INTEGER NOT NULL,
	timestamp  TEXT,
	value      REAL NOT NULL,
	score      REAL NOT NULL,
	raw_score  REAL NOT NULL,
	anomalous  INTEGER NOT NULL,
	PRIMARY KEY (run_id, step),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`
// #endregion schema

type Store struct {
	db *sql.DB
}

type Run struct {
	ID         string
	DetectorID string
	Series     string
	Source     string
	Config     ad.Config
	StartedAt  time.Time
	FinishedAt time.Time
	Samples    int
	Anomalies  int
}

// Sample is one scored row of a run.
type Sample struct {
	Step      int
	Timestamp string
	Value     float64
	Score     float64
	RawScore  float64
	Anomalous bool
}

// #region constructor
// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer; batch workers share the store
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}
// #endregion constructor

func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun registers a run for the detector d and returns its id.
func (s *Store) StartRun(d *ad.Detector, source string) (string, error) {
	cfgJSON, err := json.Marshal(d.Config())
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	id := uuid.New().String()
	_, err = s.db.Exec(
		`INSERT INTO runs (run_id, detector_id, series, source, config_json, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, d.ID().String(), d.Series(), nullIfEmpty(source), string(cfgJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// Record appends samples to a run in a single transaction.
func (s *Store) Record(runID string, samples []Sample) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO anomaly_scores (run_id, step, timestamp, value, score, raw_score, anomalous)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	anomalies := 0
	for _, smp := range samples {
		if _, err := stmt.Exec(runID, smp.Step, nullIfEmpty(smp.Timestamp), smp.Value, smp.Score, smp.RawScore, boolToInt(smp.Anomalous)); err != nil {
			return fmt.Errorf("insert step %d: %w", smp.Step, err)
		}
		if smp.Anomalous {
			anomalies++
		}
	}
	if _, err := tx.Exec(
		`UPDATE runs SET samples = samples + ?, anomalies = anomalies + ? WHERE run_id = ?`,
		len(samples), anomalies, runID,
	); err != nil {
		return fmt.Errorf("update run counters: %w", err)
	}
	return tx.Commit()
}

func (s *Store) FinishRun(runID string) error {
	res, err := s.db.Exec(
		`UPDATE runs SET finished_at = ? WHERE run_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: unknown run %s", runID)
	}
	return nil
}

func (s *Store) GetRun(runID string) (Run, error) {
	var (
		r          Run
		source     sql.NullString
		cfgJSON    string
		startedAt  string
		finishedAt sql.NullString
	)
	err := s.db.QueryRow(
		`SELECT run_id, detector_id, series, source, config_json, started_at, finished_at, samples, anomalies
		 FROM runs WHERE run_id = ?`, runID,
	).Scan(&r.ID, &r.DetectorID, &r.Series, &source, &cfgJSON, &startedAt, &finishedAt, &r.Samples, &r.Anomalies)
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	r.Source = source.String
	if err := json.Unmarshal([]byte(cfgJSON), &r.Config); err != nil {
		return Run{}, fmt.Errorf("decode run config: %w", err)
	}
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if finishedAt.Valid {
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt.String); err != nil {
			return Run{}, fmt.Errorf("parse finished_at: %w", err)
		}
	}
	return r, nil
}

// Runs lists every run, oldest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`SELECT run_id FROM runs ORDER BY started_at, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runs := make([]Run, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetRun(id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// Anomalies returns the anomalous samples of a run in step order.
func (s *Store) Anomalies(runID string) ([]Sample, error) {
	rows, err := s.db.Query(
		`SELECT step, timestamp, value, score, raw_score, anomalous
		 FROM anomaly_scores WHERE run_id = ? AND anomalous = 1 ORDER BY step`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var (
			smp       Sample
			ts        sql.NullString
			anomalous int
		)
		if err := rows.Scan(&smp.Step, &ts, &smp.Value, &smp.Score, &smp.RawScore, &anomalous); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		smp.Timestamp = ts.String
		smp.Anomalous = anomalous == 1
		out = append(out, smp)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
