package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ListEntities returns every name and id of the kind.
func ListEntities(ctx context.Context, q Queryer, kind EntityKind) (map[string]int64, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s", kind.NameColumn, kind.IDColumn, kind.Table)
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind.Table, err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			name string
			id   int64
		)
		if err := rows.Scan(&name, &id); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind.Name, err)
		}
		out[name] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", kind.Table, err)
	}
	return out, nil
}

// FindEntity returns the id for name, or ErrNotFound.
func FindEntity(ctx context.Context, q Queryer, kind EntityKind, name string) (int64, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", kind.IDColumn, kind.Table, kind.NameColumn)

	var id int64
	err := q.QueryRowContext(ctx, query, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find %s %q: %w", kind.Name, name, err)
	}
	return id, nil
}

// CreateEntity inserts name and returns its new id. A name that already
// exists fails with a uniqueness violation (see IsUniqueViolation).
func CreateEntity(ctx context.Context, q Queryer, kind EntityKind, name string) (int64, error) {
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?) RETURNING %s", kind.Table, kind.NameColumn, kind.IDColumn)

	var id int64
	if err := q.QueryRowContext(ctx, query, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create %s %q: %w", kind.Name, name, err)
	}
	return id, nil
}

// MembershipExists reports whether the movie is linked to the entity.
func MembershipExists(ctx context.Context, q Queryer, kind EntityKind, movieID, entityID int64) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE movie_id = ? AND %s = ?", kind.JunctionTable, kind.JunctionColumn)

	var one int
	err := q.QueryRowContext(ctx, query, movieID, entityID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s membership: %w", kind.Name, err)
	}
	return true, nil
}

// InsertMembership links a movie to an entity. It reports false when the
// link already existed.
func InsertMembership(ctx context.Context, q Queryer, kind EntityKind, movieID, entityID int64) (bool, error) {
	query := fmt.Sprintf("INSERT INTO %s (movie_id, %s) VALUES (?, ?) ON CONFLICT DO NOTHING", kind.JunctionTable, kind.JunctionColumn)
	res, err := q.ExecContext(ctx, query, movieID, entityID)
	if err != nil {
		return false, fmt.Errorf("failed to link movie %d to %s %d: %w", movieID, kind.Name, entityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
