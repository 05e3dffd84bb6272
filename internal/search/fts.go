package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/asheshgoplani/pr-viewer/internal/archive"
)

// textIndex is an in-memory SQLite FTS5 table over pre-tokenized title and
// author text. Row ids are positions in the snapshot's entry slice.
type textIndex struct {
	db *sql.DB
}

func openTextIndex(ctx context.Context) (*textIndex, error) {
	db, err := sql.Open("sqlite", "file::memory:")
	if err != nil {
		return nil, fmt.Errorf("search: open: %w", err)
	}
	// Every pooled connection would get its own empty :memory: database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=OFF"); err != nil {
		db.Close()
		return nil, fmt.Errorf("search: journal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE VIRTUAL TABLE prs USING fts5(
			title,
			author,
			pr_id UNINDEXED,
			tokenize = 'unicode61'
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("search: create fts table: %w", err)
	}
	return &textIndex{db: db}, nil
}

func (t *textIndex) load(ctx context.Context, entries []archive.PrIndexEntry) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("search: begin load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO prs(rowid, title, author, pr_id) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("search: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		title := strings.Join(Tokenize(e.Title), " ")
		author := strings.Join(Tokenize(e.CreatedBy), " ")
		if _, err := stmt.ExecContext(ctx, i, title, author, e.ID); err != nil {
			return fmt.Errorf("search: insert %d: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// query returns matching row ids, best bm25 score first, ties broken by PR id.
func (t *textIndex) query(ctx context.Context, expr string, titleWeight, authorWeight float64) ([]int, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT rowid FROM prs
		WHERE prs MATCH ?
		ORDER BY bm25(prs, ?, ?), pr_id
	`, expr, titleWeight, authorWeight)
	if err != nil {
		return nil, fmt.Errorf("search: query: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var rowid int
		if err := rows.Scan(&rowid); err != nil {
			return nil, fmt.Errorf("search: scan: %w", err)
		}
		out = append(out, rowid)
	}
	return out, rows.Err()
}

func (t *textIndex) close() error {
	return t.db.Close()
}
