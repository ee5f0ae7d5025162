// Package catalog keeps a SQLite record of finished runs so reports can be
// found and compared after the fact.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/coffersTech/nanotrace/internal/engine"
	"github.com/coffersTech/nanotrace/internal/modules"
)

// Catalog is a SQLite-backed run index.
type Catalog struct {
	db *sql.DB
}

// Run is one catalogued run.
type Run struct {
	ID         string
	SourceFile string
	SourceHash string
	OutDir     string
	Rank       *int
	Envelopes  int64
	Dropped    int64
	Status     string
	CreatedAt  time.Time
}

// Open opens (creating when needed) the catalog at path.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	c := &Catalog{db: db}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return c, nil
}

// Close releases the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT NOT NULL,
			rank INTEGER NOT NULL DEFAULT -1,
			source_file TEXT NOT NULL,
			source_hash TEXT,
			out_dir TEXT NOT NULL,
			envelopes INTEGER NOT NULL,
			dropped INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (id, rank)
		)`,
		`CREATE TABLE IF NOT EXISTS compile_ids (
			run_id TEXT NOT NULL,
			rank INTEGER NOT NULL DEFAULT -1,
			compile_id TEXT NOT NULL,
			display_name TEXT NOT NULL,
			status TEXT NOT NULL,
			PRIMARY KEY (run_id, rank, compile_id)
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			run_id TEXT NOT NULL,
			rank INTEGER NOT NULL DEFAULT -1,
			compile_id TEXT NOT NULL,
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			cache_status TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS envelope_counts (
			run_id TEXT NOT NULL,
			rank INTEGER NOT NULL DEFAULT -1,
			entry_type TEXT NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY (run_id, rank, entry_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_run ON artifacts(run_id, rank)`,
	}

	for _, stmt := range statements {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Record stores a committed run. rank is nil for single-capture runs.
// Recording the same run and rank again replaces the earlier rows.
func (c *Catalog) Record(ctx context.Context, m *engine.Manifest, combined *modules.CombinedOutput, outDir, status string, rank *int) error {
	r := -1
	if rank != nil {
		r = *rank
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"runs", "compile_ids", "artifacts", "envelope_counts"} {
		col := "run_id"
		if table == "runs" {
			col = "id"
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE "+col+" = ? AND rank = ?", m.RunID, r); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, rank, source_file, source_hash, out_dir, envelopes, dropped, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RunID, r, m.SourceFile, m.SourceFileHash, outDir, m.TotalEnvelopes, m.Dropped.Total(), status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, d := range m.CompileIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO compile_ids (run_id, rank, compile_id, display_name, status) VALUES (?, ?, ?, ?, ?)`,
			m.RunID, r, d.ID, d.DisplayName, d.Status)
		if err != nil {
			return fmt.Errorf("failed to insert compile id: %w", err)
		}
	}

	for typ, n := range m.EnvelopeCounts {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO envelope_counts (run_id, rank, entry_type, count) VALUES (?, ?, ?, ?)`,
			m.RunID, r, typ, n)
		if err != nil {
			return fmt.Errorf("failed to insert envelope count: %w", err)
		}
	}

	if combined != nil {
		for _, key := range combined.DirectoryKeys() {
			for _, e := range combined.DirectoryEntries[key] {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO artifacts (run_id, rank, compile_id, name, url, cache_status) VALUES (?, ?, ?, ?, ?, ?)`,
					m.RunID, r, key, e.Name, e.URL, e.Cache.String())
				if err != nil {
					return fmt.Errorf("failed to insert artifact: %w", err)
				}
			}
		}
	}

	return tx.Commit()
}

// Runs lists catalogued runs, newest first.
func (c *Catalog) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, rank, source_file, COALESCE(source_hash, ''), out_dir, envelopes, dropped, status, created_at
		FROM runs ORDER BY created_at DESC, id, rank LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var rank int
		if err := rows.Scan(&run.ID, &rank, &run.SourceFile, &run.SourceHash, &run.OutDir,
			&run.Envelopes, &run.Dropped, &run.Status, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if rank >= 0 {
			run.Rank = &rank
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CompileIDs returns the compile id statuses recorded for a run.
func (c *Catalog) CompileIDs(ctx context.Context, runID string) (map[string]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT compile_id, status FROM compile_ids WHERE run_id = ? ORDER BY rank, compile_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query compile ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("failed to scan compile id: %w", err)
		}
		out[id] = status
	}
	return out, rows.Err()
}

// ArtifactCount returns how many artifacts a run recorded.
func (c *Catalog) ArtifactCount(ctx context.Context, runID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}
