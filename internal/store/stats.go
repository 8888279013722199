package store

import (
	"context"
	"fmt"
)

// TableCount is the row count of one table.
type TableCount struct {
	Table string
	Rows  int64
}

// Counts returns row counts for all catalog tables.
func Counts(ctx context.Context, q Queryer) ([]TableCount, error) {
	counts := make([]TableCount, 0, len(Tables))
	for _, table := range Tables {
		var n int64
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts = append(counts, TableCount{Table: table, Rows: n})
	}
	return counts, nil
}
