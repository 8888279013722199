// Package resolver maps free-text genre and director names to stable ids,
// creating rows for names it has not seen before.
package resolver

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/lepinkainen/reelbase/internal/retry"
	"github.com/lepinkainen/reelbase/internal/store"
)

// Resolver deduplicates names of one entity kind. It is seeded from the store
// when constructed and is safe for concurrent use.
type Resolver struct {
	db      store.Queryer
	kind    store.EntityKind
	retrier *retry.Retrier

	mu    sync.RWMutex
	ids   map[string]int64
	group singleflight.Group

	created atomic.Int64
}

// New builds a resolver for kind, loading every known name from db. Writes
// made on a miss go directly to db, outside any caller transaction, and are
// retried with retrier on lock conflicts.
func New(ctx context.Context, db store.Queryer, kind store.EntityKind, retrier *retry.Retrier) (*Resolver, error) {
	ids, err := store.ListEntities(ctx, db, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to seed %s resolver: %w", kind.Name, err)
	}
	if retrier == nil {
		retrier = retry.New(1, 0)
	}

	slog.Debug("Seeded resolver", "kind", kind.Name, "names", len(ids))
	return &Resolver{db: db, kind: kind, retrier: retrier, ids: ids}, nil
}

// Len returns the number of names known.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}

// Created returns how many new rows this resolver inserted.
func (r *Resolver) Created() int64 {
	return r.created.Load()
}

// Resolve returns the id for name, creating the entity if needed. Names are
// trimmed; an empty name resolves to nothing with ok false.
func (r *Resolver) Resolve(ctx context.Context, name string) (id int64, ok bool, err error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, false, nil
	}

	if id, ok := r.lookup(name); ok {
		return id, true, nil
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		if id, ok := r.lookup(name); ok {
			return id, nil
		}

		id, err := r.getOrCreate(ctx, name)
		if err != nil {
			return int64(0), err
		}

		r.mu.Lock()
		r.ids[name] = id
		r.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return 0, false, err
	}
	return v.(int64), true, nil
}

// ResolveAll resolves every name and returns the distinct ids in input
// order. Empty names are skipped.
func (r *Resolver) ResolveAll(ctx context.Context, names []string) ([]int64, error) {
	ids := make([]int64, 0, len(names))
	seen := make(map[int64]struct{}, len(names))
	for _, name := range names {
		id, ok, err := r.Resolve(ctx, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *Resolver) lookup(name string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[name]
	return id, ok
}

// getOrCreate inserts name, falling back to a read when a concurrent writer
// created it first.
func (r *Resolver) getOrCreate(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.retrier.Do(ctx, "create "+r.kind.Name, func(ctx context.Context) error {
		created, err := store.CreateEntity(ctx, r.db, r.kind, name)
		if err == nil {
			id = created
			r.created.Add(1)
			return nil
		}
		if !store.IsUniqueViolation(err) {
			return err
		}

		existing, findErr := store.FindEntity(ctx, r.db, r.kind, name)
		if findErr != nil {
			if stderrors.Is(findErr, store.ErrNotFound) {
				return fmt.Errorf("%s %q conflicted on insert but cannot be found: %w", r.kind.Name, name, err)
			}
			return findErr
		}
		slog.Debug("Resolved name after concurrent insert", "kind", r.kind.Name, "name", name)
		id = existing
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}
