package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/TobiSchelling/AIDigest/internal/content"
)

const summaryColumns = "id, type, title, categories, date"

// SaveSummaryItem stores a summary. A summary with the same type and date
// replaces the previous one.
func (db *DB) SaveSummaryItem(ctx context.Context, s content.Summary) error {
	categories, err := json.Marshal(s.Categories)
	if err != nil {
		return fmt.Errorf("encoding categories: %w", err)
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO summary (type, title, categories, date) VALUES (?, ?, ?, ?)
			ON CONFLICT(type, date) DO UPDATE SET
				title = excluded.title,
				categories = excluded.categories`,
			s.Type, s.Title, string(categories), s.Date,
		)
		if err != nil {
			return fmt.Errorf("saving summary %s@%d: %w", s.Type, s.Date, err)
		}
		return nil
	})
}

// GetSummaryBetweenEpoch returns summaries dated within [start, end], skipping
// summaries of excludeType when it is non-empty.
func (db *DB) GetSummaryBetweenEpoch(ctx context.Context, start, end int64, excludeType string) ([]content.Summary, error) {
	if start > end {
		return nil, fmt.Errorf("invalid range: start %d after end %d", start, end)
	}
	conn, err := db.reader()
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + summaryColumns + ` FROM summary WHERE date BETWEEN ? AND ?`
	args := []any{start, end}
	if excludeType != "" {
		query += " AND type != ?"
		args = append(args, excludeType)
	}
	query += " ORDER BY date, id"

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// GetSummary returns the summary of type dated exactly date, or nil.
func (db *DB) GetSummary(ctx context.Context, summaryType string, date int64) (*content.Summary, error) {
	conn, err := db.reader()
	if err != nil {
		return nil, err
	}
	s, err := scanSummary(conn.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM summary WHERE type = ? AND date = ?`, summaryType, date))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListSummaries returns the most recent summaries, newest first.
func (db *DB) ListSummaries(ctx context.Context, limit int) ([]content.Summary, error) {
	conn, err := db.reader()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := conn.QueryContext(ctx,
		`SELECT `+summaryColumns+` FROM summary ORDER BY date DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func scanSummary(row rowScanner) (*content.Summary, error) {
	var (
		s                 content.Summary
		title, categories sql.NullString
	)
	if err := row.Scan(&s.ID, &s.Type, &title, &categories, &s.Date); err != nil {
		return nil, err
	}
	s.Title = title.String
	if categories.Valid && categories.String != "" {
		if err := json.Unmarshal([]byte(categories.String), &s.Categories); err != nil {
			return nil, fmt.Errorf("decoding categories: %w", err)
		}
	}
	return &s, nil
}

func scanSummaries(rows *sql.Rows) ([]content.Summary, error) {
	var out []content.Summary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
