package db

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"churnrisk/pipeline"
)

var database *sql.DB

// InitDB opens the SQLite run log, creating the file and schema when missing.
func InitDB(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return err
	}
	// sqlite allows one writer; serialize through a single connection.
	conn.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS scoring_runs (
        id TEXT PRIMARY KEY,
        mode TEXT NOT NULL,
        rows INTEGER NOT NULL,
        low_count INTEGER DEFAULT 0,
        medium_count INTEGER DEFAULT 0,
        high_count INTEGER DEFAULT 0,
        substitutions INTEGER DEFAULT 0,
        duration_ms REAL DEFAULT 0,
        error_kind TEXT DEFAULT '',
        error TEXT DEFAULT '',
        started_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_scoring_runs_started ON scoring_runs(started_at);
    `
	if _, err := conn.Exec(query); err != nil {
		conn.Close()
		return err
	}

	if database != nil {
		database.Close()
	}
	database = conn
	return nil
}

// Close releases the run log.
func Close() error {
	if database == nil {
		return nil
	}
	err := database.Close()
	database = nil
	return err
}

// SaveRun records the counts of one scoring run. Record values are never
// stored.
func SaveRun(run pipeline.RunSummary) error {
	if database == nil {
		return errors.New("database not initialized")
	}
	_, err := database.Exec(`
        INSERT OR REPLACE INTO scoring_runs (
            id, mode, rows, low_count, medium_count, high_count,
            substitutions, duration_ms, error_kind, error, started_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.Mode,
		run.Rows,
		run.Labels[pipeline.RiskLow],
		run.Labels[pipeline.RiskMedium],
		run.Labels[pipeline.RiskHigh],
		run.Substitutions,
		float64(run.Duration)/float64(time.Millisecond),
		run.ErrorKind,
		run.Error,
		run.StartedAt.UTC(),
	)
	return err
}

// RecentRuns returns up to limit runs, newest first.
func RecentRuns(limit int) ([]pipeline.RunSummary, error) {
	if database == nil {
		return nil, errors.New("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := database.Query(`
        SELECT id, mode, rows, low_count, medium_count, high_count,
               substitutions, duration_ms, error_kind, error, started_at
        FROM scoring_runs
        ORDER BY started_at DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]pipeline.RunSummary, 0)
	for rows.Next() {
		var (
			run               pipeline.RunSummary
			low, medium, high int
			durationMS        float64
		)
		if err := rows.Scan(&run.ID, &run.Mode, &run.Rows, &low, &medium, &high,
			&run.Substitutions, &durationMS, &run.ErrorKind, &run.Error, &run.StartedAt); err != nil {
			return nil, err
		}
		run.Labels = pipeline.LabelCounts{pipeline.RiskLow: low, pipeline.RiskMedium: medium, pipeline.RiskHigh: high}
		run.Duration = time.Duration(durationMS * float64(time.Millisecond))
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunRecorder persists every run it observes. A write failure is logged and
// never reaches the caller of the pipeline.
type RunRecorder struct {
	logger *zap.Logger
}

func NewRunRecorder(logger *zap.Logger) *RunRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunRecorder{logger: logger}
}

func (r *RunRecorder) ObserveRun(run pipeline.RunSummary) {
	if err := SaveRun(run); err != nil {
		r.logger.Warn("failed to record scoring run", zap.String("run_id", run.ID), zap.Error(err))
	}
}

