package database

import (
	"context"
	"database/sql"
)

// Stats holds database statistics.
type Stats struct {
	TotalItems    int
	Summaries     int
	DaysWithItems int
	ItemsByType   map[string]int
	LatestSummary string // day key or empty
}

// GetStats returns counts used by the status command.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	conn, err := db.reader()
	if err != nil {
		return nil, err
	}
	s := &Stats{ItemsByType: make(map[string]int)}

	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM items").Scan(&s.TotalItems); err != nil {
		return nil, err
	}
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM summary").Scan(&s.Summaries); err != nil {
		return nil, err
	}
	if err := conn.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT date(date, 'unixepoch')) FROM items").Scan(&s.DaysWithItems); err != nil {
		return nil, err
	}

	var latest sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT MAX(date) FROM summary").Scan(&latest); err != nil {
		return nil, err
	}
	if latest.Valid {
		s.LatestSummary = DayFromEpoch(latest.Int64)
	}

	rows, err := conn.QueryContext(ctx, "SELECT type, COUNT(*) FROM items GROUP BY type")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		s.ItemsByType[typ] = n
	}
	return s, rows.Err()
}
