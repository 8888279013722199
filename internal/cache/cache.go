// Package cache keeps external lookup results in a single file that is
// loaded into memory at startup and written back at the end of a run.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
)

// KeySeparator joins title and year in a fingerprint. A title that itself
// contains the separator can collide with another title/year pair.
const KeySeparator = "|||"

// ErrUnsupportedFormat is returned for cache files with an unknown extension.
var ErrUnsupportedFormat = errors.New("unsupported cache file format")

// Format is the on-disk encoding of the cache artifact.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFor picks the encoding from the file extension. Files without an
// extension are treated as JSON.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", "":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Entry is a cached lookup. A nil Value is a negative entry: the service
// confirmed there is nothing to find.
type Entry[T any] struct {
	Value *T
}

// NotFound reports whether the entry is a negative marker.
func (e Entry[T]) NotFound() bool {
	return e.Value == nil
}

// Stats summarizes cache contents.
type Stats struct {
	Total    int
	Positive int
	Negative int
}

// FetchFunc is called on a cache miss. When store is false the result is
// returned without being cached.
type FetchFunc[T any] func() (value *T, store bool, err error)

// LookupCache maps fingerprints to values or negative markers. Entries never
// expire. It is safe for concurrent use.
type LookupCache[T any] struct {
	mu      sync.RWMutex
	path    string
	format  Format
	entries map[string]*T
	dirty   bool
	group   singleflight.Group
}

// New returns an empty cache that is never persisted.
func New[T any]() *LookupCache[T] {
	return &LookupCache[T]{entries: make(map[string]*T)}
}

// Open loads the cache artifact at path. A missing file yields an empty cache
// that will be created on the first Save.
func Open[T any](path string) (*LookupCache[T], error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}

	c := &LookupCache[T]{
		path:    path,
		format:  format,
		entries: make(map[string]*T),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("Cache file not found, starting empty", "path", path)
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return c, nil
	}

	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &c.entries)
	default:
		err = json.Unmarshal(data, &c.entries)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode cache file %s: %w", path, err)
	}
	if c.entries == nil {
		c.entries = make(map[string]*T)
	}

	slog.Debug("Loaded lookup cache", "path", path, "entries", len(c.entries))
	return c, nil
}

// Fingerprint builds the cache key for a title and optional year.
func Fingerprint(title string, year *int) string {
	if year == nil {
		return title + KeySeparator
	}
	return title + KeySeparator + strconv.Itoa(*year)
}

// Path returns the backing file, or "" for an in-memory cache.
func (c *LookupCache[T]) Path() string {
	return c.path
}

// Get returns the entry for title and year, and whether one exists.
func (c *LookupCache[T]) Get(title string, year *int) (Entry[T], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.entries[Fingerprint(title, year)]
	return Entry[T]{Value: v}, ok
}

// Put stores an entry and marks the cache dirty.
func (c *LookupCache[T]) Put(title string, year *int, entry Entry[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[Fingerprint(title, year)] = entry.Value
	c.dirty = true
}

// GetOrFetch returns the cached entry or calls fetch on a miss. Concurrent
// misses for the same fingerprint share one fetch. The boolean result is
// true when the entry came from the cache.
func (c *LookupCache[T]) GetOrFetch(title string, year *int, fetch FetchFunc[T]) (Entry[T], bool, error) {
	if entry, ok := c.Get(title, year); ok {
		return entry, true, nil
	}

	type fetched struct {
		entry Entry[T]
	}

	key := Fingerprint(title, year)
	res, err, _ := c.group.Do(key, func() (any, error) {
		// Another caller may have filled it while we waited.
		if entry, ok := c.Get(title, year); ok {
			return fetched{entry: entry}, nil
		}

		value, store, err := fetch()
		if err != nil {
			return nil, err
		}

		entry := Entry[T]{Value: value}
		if store {
			c.Put(title, year, entry)
		}
		return fetched{entry: entry}, nil
	})
	if err != nil {
		return Entry[T]{}, false, err
	}

	return res.(fetched).entry, false, nil
}

// Dirty reports whether there are unsaved changes.
func (c *LookupCache[T]) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

// Len returns the number of entries.
func (c *LookupCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats counts positive and negative entries.
func (c *LookupCache[T]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Total: len(c.entries)}
	for _, v := range c.entries {
		if v == nil {
			s.Negative++
		} else {
			s.Positive++
		}
	}
	return s
}

// ForgetMisses removes all negative entries so the next run queries them
// again. It returns the number removed.
func (c *LookupCache[T]) ForgetMisses() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, v := range c.entries {
		if v == nil {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		c.dirty = true
	}
	return removed
}

// Save writes the whole cache back to its file if anything changed. The
// write goes to a temporary file that is renamed over the original.
func (c *LookupCache[T]) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty || c.path == "" {
		return nil
	}

	var (
		data []byte
		err  error
	)
	switch c.format {
	case FormatYAML:
		data, err = yaml.Marshal(c.entries)
	default:
		data, err = json.MarshalIndent(c.entries, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}

	if err := writeFileAtomic(c.path, data); err != nil {
		return err
	}

	c.dirty = false
	slog.Info("Lookup cache saved", "path", c.path, "entries", len(c.entries))
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp cache file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp cache file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("failed to set cache file mode: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}
