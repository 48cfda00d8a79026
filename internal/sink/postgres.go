package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/andreiashu/coordclean"
)

// Postgres stores flag tables and verdicts, keyed by run ID.
type Postgres struct {
	db  *sql.DB
	log *logrus.Logger
}

// Open opens a connection pool for the given DSN.
func Open(dsn string, log *logrus.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	return AttachDB(db, log), nil
}

// AttachDB wraps an existing pool.
func AttachDB(db *sql.DB, log *logrus.Logger) *Postgres {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Postgres{db: db, log: log}
}

// Close closes the pool.
func (p *Postgres) Close() error { return p.db.Close() }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS coordclean_records (
		run_id    TEXT NOT NULL,
		record_id TEXT NOT NULL,
		passed    BOOLEAN NOT NULL,
		error     TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS coordclean_flags (
		run_id    TEXT NOT NULL,
		record_id TEXT NOT NULL,
		test      TEXT NOT NULL,
		flagged   BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS coordclean_verdicts (
		run_id      TEXT NOT NULL,
		partition   TEXT NOT NULL,
		test        TEXT NOT NULL,
		status      TEXT NOT NULL,
		flagged     BOOLEAN NOT NULL,
		diagnostics JSONB NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, partition, test)
	)`,
}

// EnsureSchema creates the result tables when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// WriteFlagTable bulk-loads a flag table with COPY inside one transaction.
func (p *Postgres) WriteFlagTable(ctx context.Context, runID string, t *coordclean.FlagTable) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = copyRows(ctx, tx, pq.CopyIn("coordclean_records", "run_id", "record_id", "passed", "error"), func(stmt *sql.Stmt) error {
		for _, r := range t.Rows {
			errText := ""
			if r.Err != nil {
				errText = r.Err.Error()
			}
			if _, err := stmt.ExecContext(ctx, runID, r.ID, r.Passed(), errText); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("copy records: %w", err)
	}

	err = copyRows(ctx, tx, pq.CopyIn("coordclean_flags", "run_id", "record_id", "test", "flagged"), func(stmt *sql.Stmt) error {
		for _, r := range t.Rows {
			for _, name := range t.Tests {
				v, ok := r.Flags[name]
				if !ok {
					continue
				}
				if _, err := stmt.ExecContext(ctx, runID, r.ID, string(name), v); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("copy flags: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	p.log.WithFields(logrus.Fields{"run": runID, "records": len(t.Rows)}).Info("stored flag table")
	return nil
}

// copyRows prepares a COPY statement, feeds it rows and flushes it.
func copyRows(ctx context.Context, tx *sql.Tx, query string, feed func(*sql.Stmt) error) error {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	if err := feed(stmt); err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx)
	return err
}

const upsertVerdict = `INSERT INTO coordclean_verdicts
	(run_id, partition, test, status, flagged, diagnostics, error)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (run_id, partition, test) DO UPDATE SET
		status = EXCLUDED.status,
		flagged = EXCLUDED.flagged,
		diagnostics = EXCLUDED.diagnostics,
		error = EXCLUDED.error`

// WriteVerdicts upserts bias verdicts.
func (p *Postgres) WriteVerdicts(ctx context.Context, runID string, verdicts []coordclean.Verdict) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, v := range verdicts {
		diag, mErr := json.Marshal(finiteDiagnostics(v.Diagnostics))
		if mErr != nil {
			return fmt.Errorf("encode diagnostics: %w", mErr)
		}
		errText := ""
		if v.Err != nil {
			errText = v.Err.Error()
		}
		if _, err = tx.ExecContext(ctx, upsertVerdict,
			runID, v.Partition, string(v.Test), v.Status.String(), v.Flagged, string(diag), errText); err != nil {
			return fmt.Errorf("store verdict %s/%s: %w", v.Partition, v.Test, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// finiteDiagnostics drops values JSON cannot represent.
func finiteDiagnostics(d map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(d))
	for k, v := range d {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	return out
}
