// Package store persists profz reports in a sqlite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"k8s.io/klog/v2"

	"github.com/zoobzio/profz"
)

// ErrNotFound is returned when a report does not exist.
var ErrNotFound = errors.New("report not found")

const createDDL = `
CREATE TABLE IF NOT EXISTS reports (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	started_at   INTEGER NOT NULL,
	duration_ns  INTEGER NOT NULL,
	force_closed INTEGER NOT NULL DEFAULT 0,
	tree_json    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS report_totals (
	report_id TEXT NOT NULL,
	name      TEXT NOT NULL,
	count     INTEGER NOT NULL,
	seconds   REAL NOT NULL,
	PRIMARY KEY (report_id, name),
	FOREIGN KEY (report_id) REFERENCES reports(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS reports_started_at ON reports(started_at);
`

// Store saves and loads reports.
// Safe for concurrent use by multiple goroutines.
type Store struct {
	db *sqlx.DB
}

type reportRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	TreeJSON    string `db:"tree_json"`
	StartedAt   int64  `db:"started_at"`
	DurationNs  int64  `db:"duration_ns"`
	ForceClosed int    `db:"force_closed"`
}

type totalRow struct {
	Name    string  `db:"name"`
	Count   int     `db:"count"`
	Seconds float64 `db:"seconds"`
}

// Summary describes a stored report without its tree.
type Summary struct {
	Start    time.Time
	ID       string
	Name     string
	Duration time.Duration
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?cache=shared&mode=rwc&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes a report and its flat totals in one transaction.
// Saving an ID that already exists replaces it.
func (s *Store) Save(ctx context.Context, r profz.Report) error {
	tree, err := json.Marshal(r.Tree)
	if err != nil {
		return fmt.Errorf("encode tree: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after Commit.

	if _, err := tx.ExecContext(ctx, `DELETE FROM report_totals WHERE report_id = ?`, r.ID); err != nil {
		return fmt.Errorf("clear totals %s: %w", r.ID, err)
	}
	_, err = tx.NamedExecContext(ctx,
		`INSERT OR REPLACE INTO reports(id, name, started_at, duration_ns, force_closed, tree_json)
		 VALUES(:id, :name, :started_at, :duration_ns, :force_closed, :tree_json)`,
		reportRow{
			ID:          r.ID,
			Name:        r.Name,
			StartedAt:   r.Start.UnixNano(),
			DurationNs:  int64(r.Duration),
			ForceClosed: r.ForceClosed,
			TreeJSON:    string(tree),
		})
	if err != nil {
		return fmt.Errorf("insert report %s: %w", r.ID, err)
	}

	insert, err := tx.PreparexContext(ctx, `INSERT INTO report_totals(report_id, name, count, seconds) VALUES(?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare totals: %w", err)
	}
	defer insert.Close()

	for _, t := range r.Totals() {
		if _, err := insert.ExecContext(ctx, r.ID, t.Name, t.Count, t.Time); err != nil {
			return fmt.Errorf("insert total %s/%s: %w", r.ID, t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", r.ID, err)
	}
	klog.V(3).InfoS("Saved report", "id", r.ID, "name", r.Name, "totals", len(r.Flat))
	return nil
}

// Load reads the report with the given ID.
func (s *Store) Load(ctx context.Context, id string) (profz.Report, error) {
	var row reportRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM reports WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return profz.Report{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return profz.Report{}, fmt.Errorf("load %s: %w", id, err)
	}
	return s.hydrate(ctx, row)
}

// Latest reads the most recently started report.
func (s *Store) Latest(ctx context.Context) (profz.Report, error) {
	var row reportRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM reports ORDER BY started_at DESC, id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return profz.Report{}, ErrNotFound
	}
	if err != nil {
		return profz.Report{}, fmt.Errorf("load latest: %w", err)
	}
	return s.hydrate(ctx, row)
}

func (s *Store) hydrate(ctx context.Context, row reportRow) (profz.Report, error) {
	r := profz.Report{
		ID:          row.ID,
		Name:        row.Name,
		Start:       time.Unix(0, row.StartedAt).UTC(),
		Duration:    time.Duration(row.DurationNs),
		ForceClosed: row.ForceClosed,
	}
	if err := json.Unmarshal([]byte(row.TreeJSON), &r.Tree); err != nil {
		return profz.Report{}, fmt.Errorf("decode tree %s: %w", row.ID, err)
	}

	var totals []totalRow
	if err := s.db.SelectContext(ctx, &totals,
		`SELECT name, count, seconds FROM report_totals WHERE report_id = ?`, row.ID); err != nil {
		return profz.Report{}, fmt.Errorf("load totals %s: %w", row.ID, err)
	}
	r.Flat = make(map[profz.Key]profz.Total, len(totals))
	for _, t := range totals {
		r.Flat[t.Name] = profz.Total{Name: t.Name, Count: t.Count, Time: t.Seconds}
	}
	return r, nil
}

// List returns up to limit report summaries, newest first.
// A limit <= 0 returns every report.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []reportRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, name, started_at, duration_ns, force_closed, '' AS tree_json
		 FROM reports ORDER BY started_at DESC, id DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}

	out := make([]Summary, 0, len(rows))
	for _, row := range rows {
		out = append(out, Summary{
			ID:       row.ID,
			Name:     row.Name,
			Start:    time.Unix(0, row.StartedAt).UTC(),
			Duration: time.Duration(row.DurationNs),
		})
	}
	return out, nil
}

// Totals rolls the flat totals of every stored report up by name,
// ordered by time descending.
func (s *Store) Totals(ctx context.Context) ([]profz.Total, error) {
	var rows []totalRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT name, SUM(count) AS count, SUM(seconds) AS seconds
		 FROM report_totals GROUP BY name ORDER BY seconds DESC, name ASC`); err != nil {
		return nil, fmt.Errorf("sum totals: %w", err)
	}

	out := make([]profz.Total, 0, len(rows))
	for _, row := range rows {
		out = append(out, profz.Total{Name: row.Name, Count: row.Count, Time: row.Seconds})
	}
	return out, nil
}

// Delete removes a report and its totals.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after Commit.

	if _, err := tx.ExecContext(ctx, `DELETE FROM report_totals WHERE report_id = ?`, id); err != nil {
		return fmt.Errorf("delete totals %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// Handler returns a report handler that saves every report, logging failures.
// Register it with Profiler.OnReportAsync when a worker pool is enabled,
// otherwise with Profiler.OnReport.
func (s *Store) Handler() profz.ReportHandler {
	return func(r profz.Report) {
		if err := s.Save(context.Background(), r); err != nil {
			klog.ErrorS(err, "Failed to save report", "id", r.ID, "name", r.Name)
		}
	}
}
