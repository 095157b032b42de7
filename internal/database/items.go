package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/TobiSchelling/AIDigest/internal/content"
)

const itemColumns = "cid, type, source, title, text, link, topics, date, metadata"

// SaveContentItems writes items in one transaction. An item with a CID that is
// already stored keeps its title, text and topics; only metadata is replaced.
// Items without a CID are always inserted. The returned slice holds the rows
// as stored, in input order. On error nothing is written.
func (db *DB) SaveContentItems(ctx context.Context, items []content.Item) ([]content.Item, error) {
	if len(items) == 0 {
		return nil, nil
	}

	saved := make([]content.Item, 0, len(items))
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		insert, err := tx.PrepareContext(ctx,
			`INSERT INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer insert.Close()

		upsert, err := tx.PrepareContext(ctx,
			`INSERT INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(cid) DO UPDATE SET metadata = excluded.metadata`)
		if err != nil {
			return fmt.Errorf("preparing upsert: %w", err)
		}
		defer upsert.Close()

		for _, it := range items {
			args, err := itemArgs(it)
			if err != nil {
				return err
			}
			if it.CID == "" {
				if _, err := insert.ExecContext(ctx, args...); err != nil {
					return fmt.Errorf("inserting item from %s: %w", it.Source, err)
				}
				saved = append(saved, it)
				continue
			}

			if _, err := upsert.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("upserting item %s: %w", it.CID, err)
			}
			stored, err := scanItem(tx.QueryRowContext(ctx,
				`SELECT `+itemColumns+` FROM items WHERE cid = ?`, it.CID))
			if err != nil {
				return fmt.Errorf("reading back item %s: %w", it.CID, err)
			}
			saved = append(saved, *stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// GetContentItem returns the item stored under cid, or nil if there is none.
func (db *DB) GetContentItem(ctx context.Context, cid string) (*content.Item, error) {
	conn, err := db.reader()
	if err != nil {
		return nil, err
	}
	it, err := scanItem(conn.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE cid = ?`, cid))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return it, nil
}

// GetContentItemsBetweenEpoch returns items dated within [start, end],
// skipping items of excludeType when it is non-empty. Rows are ordered by
// date, then insertion order.
func (db *DB) GetContentItemsBetweenEpoch(ctx context.Context, start, end int64, excludeType string) ([]content.Item, error) {
	if start > end {
		return nil, fmt.Errorf("invalid range: start %d after end %d", start, end)
	}
	conn, err := db.reader()
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + itemColumns + ` FROM items WHERE date BETWEEN ? AND ?`
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
	return scanItems(rows)
}

// CountItems returns the number of stored items.
func (db *DB) CountItems(ctx context.Context) (int, error) {
	conn, err := db.reader()
	if err != nil {
		return 0, err
	}
	var n int
	err = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&n)
	return n, err
}

func itemArgs(it content.Item) ([]any, error) {
	var topics, metadata any
	if len(it.Topics) > 0 {
		b, err := json.Marshal(it.Topics)
		if err != nil {
			return nil, fmt.Errorf("encoding topics: %w", err)
		}
		topics = string(b)
	}
	if len(it.Metadata) > 0 {
		b, err := json.Marshal(it.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}
		metadata = string(b)
	}
	var cid any
	if it.CID != "" {
		cid = it.CID
	}
	return []any{cid, it.Type, it.Source, nullable(it.Title), nullable(it.Text),
		nullable(it.Link), topics, it.Date, metadata}, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*content.Item, error) {
	var (
		it                                   content.Item
		cid, title, text, link, topics, meta sql.NullString
	)
	if err := row.Scan(&cid, &it.Type, &it.Source, &title, &text, &link,
		&topics, &it.Date, &meta); err != nil {
		return nil, err
	}
	it.CID = cid.String
	it.Title = title.String
	it.Text = text.String
	it.Link = link.String
	if topics.Valid && topics.String != "" {
		if err := json.Unmarshal([]byte(topics.String), &it.Topics); err != nil {
			return nil, fmt.Errorf("decoding topics: %w", err)
		}
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &it.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return &it, nil
}

func scanItems(rows *sql.Rows) ([]content.Item, error) {
	var items []content.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}
