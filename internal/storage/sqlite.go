package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"gonum.org/v1/gonum/mat"

	"github.com/hyperjump/chosei/internal/models"
)

// SQLiteStorage implements RunStore using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ RunStore = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		params TEXT NOT NULL,
		stopped_early INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);

	CREATE TABLE IF NOT EXISTS epoch_matrices (
		run_id TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		matrix BLOB NOT NULL,
		PRIMARY KEY (run_id, epoch),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS epoch_records (
		run_id TEXT NOT NULL,
		epoch INTEGER NOT NULL,
		split TEXT NOT NULL,
		loss REAL NOT NULL,
		accuracy REAL NOT NULL,
		standard_error REAL NOT NULL,
		PRIMARY KEY (run_id, epoch, split),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_epoch_records_accuracy ON epoch_records(accuracy);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveRun inserts the run, one matrix per epoch and every record in a transaction.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run RunSummary, records []models.EpochRecord) error {
	params, err := json.Marshal(run.Params)
	if err != nil {
		return err
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, params, stopped_early, created_at) VALUES (?, ?, ?, ?)`,
		run.ID, string(params), run.StoppedEarly, run.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}

	matrixStmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO epoch_matrices (run_id, epoch, matrix) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer matrixStmt.Close()
	recordStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO epoch_records (run_id, epoch, split, loss, accuracy, standard_error)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer recordStmt.Close()

	for _, rec := range records {
		if rec.RunID != run.ID {
			return fmt.Errorf("record for run %s saved under run %s", rec.RunID, run.ID)
		}
		if rec.Matrix != nil {
			blob, err := rec.Matrix.MarshalBinary()
			if err != nil {
				return err
			}
			if _, err := matrixStmt.ExecContext(ctx, run.ID, rec.Epoch, blob); err != nil {
				return err
			}
		}
		if _, err := recordStmt.ExecContext(ctx,
			run.ID, rec.Epoch, string(rec.Split), rec.Loss, rec.Accuracy, rec.StandardError,
		); err != nil {
			return fmt.Errorf("failed to insert record epoch %d %s: %w", rec.Epoch, rec.Split, err)
		}
	}
	return tx.Commit()
}

const runSummaryQuery = `
	SELECT r.id, r.params, r.stopped_early, r.created_at,
	       COALESCE(MAX(e.epoch), 0), COALESCE(MAX(e.accuracy), 0)
	FROM runs r LEFT JOIN epoch_records e ON e.run_id = r.id`

func scanRunSummary(scan func(dest ...any) error) (*RunSummary, error) {
	var run RunSummary
	var params string
	if err := scan(&run.ID, &params, &run.StoppedEarly, &run.CreatedAt, &run.Epochs, &run.BestAccuracy); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return nil, fmt.Errorf("run %s: invalid params: %w", run.ID, err)
	}
	return &run, nil
}

// ListRuns returns every run, newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, runSummaryQuery+` GROUP BY r.id ORDER BY r.created_at DESC, r.rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		run, err := scanRunSummary(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun returns a run by ID.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*RunSummary, error) {
	row := s.db.QueryRowContext(ctx, runSummaryQuery+` WHERE r.id = ? GROUP BY r.id`, id)
	run, err := scanRunSummary(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run, err
}

// GetRecords returns the records of a run ordered by epoch, train before test.
func (s *SQLiteStorage) GetRecords(ctx context.Context, runID string, withMatrices bool) ([]models.EpochRecord, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT epoch, split, loss, accuracy, standard_error
		 FROM epoch_records WHERE run_id = ?
		 ORDER BY epoch, CASE split WHEN 'train' THEN 0 ELSE 1 END`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.EpochRecord
	for rows.Next() {
		rec := models.EpochRecord{RunID: runID, Params: run.Params}
		var split string
		if err := rows.Scan(&rec.Epoch, &split, &rec.Loss, &rec.Accuracy, &rec.StandardError); err != nil {
			return nil, err
		}
		rec.Split = models.Split(split)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !withMatrices {
		return records, nil
	}

	byEpoch := make(map[int]*mat.Dense)
	for i := range records {
		m, ok := byEpoch[records[i].Epoch]
		if !ok {
			m, err = s.matrix(ctx, runID, records[i].Epoch)
			if err != nil {
				return nil, err
			}
			byEpoch[records[i].Epoch] = m
		}
		records[i].Matrix = m
	}
	return records, nil
}

func (s *SQLiteStorage) matrix(ctx context.Context, runID string, epoch int) (*mat.Dense, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT matrix FROM epoch_matrices WHERE run_id = ? AND epoch = ?`, runID, epoch,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m mat.Dense
	if err := m.UnmarshalBinary(blob); err != nil {
		return nil, fmt.Errorf("run %s epoch %d: invalid matrix: %w", runID, epoch, err)
	}
	return &m, nil
}

// BestRecord returns the most accurate stored record with its matrix.
func (s *SQLiteStorage) BestRecord(ctx context.Context, split models.Split) (*models.EpochRecord, error) {
	var rec models.EpochRecord
	var splitText, params string
	err := s.db.QueryRowContext(ctx,
		`SELECT e.run_id, e.epoch, e.split, e.loss, e.accuracy, e.standard_error, r.params
		 FROM epoch_records e JOIN runs r ON r.id = e.run_id
		 WHERE ? = '' OR e.split = ?
		 ORDER BY e.accuracy DESC, e.rowid ASC LIMIT 1`,
		string(split), string(split),
	).Scan(&rec.RunID, &rec.Epoch, &splitText, &rec.Loss, &rec.Accuracy, &rec.StandardError, &params)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("best record: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	rec.Split = models.Split(splitText)
	if err := json.Unmarshal([]byte(params), &rec.Params); err != nil {
		return nil, err
	}
	if rec.Matrix, err = s.matrix(ctx, rec.RunID, rec.Epoch); err != nil {
		return nil, err
	}
	return &rec, nil
}

// CountRuns returns the total number of runs.
func (s *SQLiteStorage) CountRuns(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
