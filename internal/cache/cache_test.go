package cache

import (
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lepinkainen/reelbase/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	Name string `json:"name" yaml:"name"`
	Year int    `json:"year,omitempty" yaml:"year,omitempty"`
}

func intPtr(v int) *int { return &v }

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "Heat|||1995", Fingerprint("Heat", intPtr(1995)))
	assert.Equal(t, "Heat|||", Fingerprint("Heat", nil))
	assert.NotEqual(t, Fingerprint("Heat", nil), Fingerprint("Heat", intPtr(1995)))
}

func TestFormatFor(t *testing.T) {
	f, err := FormatFor("cache.json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = FormatFor("cache.YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = FormatFor("cache.toml")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLookupCache_GetPut(t *testing.T) {
	c := New[testRecord]()

	_, ok := c.Get("Heat", intPtr(1995))
	assert.False(t, ok)
	assert.False(t, c.Dirty())

	c.Put("Heat", intPtr(1995), Entry[testRecord]{Value: &testRecord{Name: "Heat", Year: 1995}})
	c.Put("Nope", nil, Entry[testRecord]{})

	entry, ok := c.Get("Heat", intPtr(1995))
	require.True(t, ok)
	assert.False(t, entry.NotFound())
	assert.Equal(t, "Heat", entry.Value.Name)

	entry, ok = c.Get("Nope", nil)
	require.True(t, ok, "negative entries are hits")
	assert.True(t, entry.NotFound())

	_, ok = c.Get("Heat", nil)
	assert.False(t, ok, "year is part of the key")

	assert.True(t, c.Dirty())
	assert.Equal(t, Stats{Total: 2, Positive: 1, Negative: 1}, c.Stats())
}

func TestLookupCache_OpenMissingFile(t *testing.T) {
	env := testutil.NewTestEnv(t)

	c, err := Open[testRecord](env.Path("missing.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Dirty())
}

func TestLookupCache_RoundTrip(t *testing.T) {
	for _, name := range []string{"cache.json", "cache.yaml"} {
		t.Run(name, func(t *testing.T) {
			env := testutil.NewTestEnv(t)
			path := env.Path(name)

			c, err := Open[testRecord](path)
			require.NoError(t, err)
			c.Put("Heat", intPtr(1995), Entry[testRecord]{Value: &testRecord{Name: "Heat", Year: 1995}})
			c.Put("Nope", nil, Entry[testRecord]{})
			require.NoError(t, c.Save())
			assert.False(t, c.Dirty())
			env.RequireFileExists(name)

			reopened, err := Open[testRecord](path)
			require.NoError(t, err)
			assert.Equal(t, c.Stats(), reopened.Stats())

			entry, ok := reopened.Get("Heat", intPtr(1995))
			require.True(t, ok)
			assert.Equal(t, testRecord{Name: "Heat", Year: 1995}, *entry.Value)

			entry, ok = reopened.Get("Nope", nil)
			require.True(t, ok)
			assert.True(t, entry.NotFound())
		})
	}
}

func TestLookupCache_JSONLayout(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.WriteFileString("cache.json", `{"Heat|||1995": {"name": "Heat"}, "Nope|||": null}`)

	c, err := Open[testRecord](env.Path("cache.json"))
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 2, Positive: 1, Negative: 1}, c.Stats())

	env.WriteFileString("out.yaml", "Heat|||1995:\n  name: Heat\nNope|||: null\n")
	y, err := Open[testRecord](env.Path("out.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 2, Positive: 1, Negative: 1}, y.Stats())
}

func TestLookupCache_SavedFileMatchesGolden(t *testing.T) {
	for _, name := range []string{"lookup_cache.json", "lookup_cache.yaml"} {
		t.Run(name, func(t *testing.T) {
			env := testutil.NewTestEnv(t)
			golden := testutil.NewGoldenHelper(t, "testdata")

			c, err := Open[testRecord](env.Path(name))
			require.NoError(t, err)
			c.Put("Heat", intPtr(1995), Entry[testRecord]{Value: &testRecord{Name: "Heat", Year: 1995}})
			c.Put("Toy Story", nil, Entry[testRecord]{Value: &testRecord{Name: "Toy Story"}})
			c.Put("Nope", nil, Entry[testRecord]{})
			require.NoError(t, c.Save())

			if filepath.Ext(name) == ".json" {
				golden.AssertGoldenJSON(name, env.ReadFile(name))
			} else {
				golden.AssertGoldenYAML(name, env.ReadFile(name))
			}
		})
	}
}

func TestLookupCache_SaveSkippedWhenClean(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.WriteFileString("cache.json", `{"Heat|||1995": {"name": "Heat"}}`)
	before := env.Stat("cache.json").ModTime()

	c, err := Open[testRecord](env.Path("cache.json"))
	require.NoError(t, err)

	_, _ = c.Get("Heat", intPtr(1995))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, c.Save())

	assert.Equal(t, before, env.Stat("cache.json").ModTime())
	env.AssertFileEquals("cache.json", `{"Heat|||1995": {"name": "Heat"}}`)
}

func TestLookupCache_SaveWithoutEntriesCreatesNoFile(t *testing.T) {
	env := testutil.NewTestEnv(t)

	c, err := Open[testRecord](env.Path("cache.json"))
	require.NoError(t, err)
	require.NoError(t, c.Save())

	env.RequireFileNotExists("cache.json")
}

func TestLookupCache_CorruptFile(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.WriteFileString("cache.json", "{not json")

	_, err := Open[testRecord](env.Path("cache.json"))
	assert.Error(t, err)
}

func TestLookupCache_ForgetMisses(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.WriteFileString("cache.json", `{"A|||": null, "B|||": null, "C|||1": {"name": "C"}}`)

	c, err := Open[testRecord](env.Path("cache.json"))
	require.NoError(t, err)

	assert.Equal(t, 2, c.ForgetMisses())
	assert.True(t, c.Dirty())
	assert.Equal(t, Stats{Total: 1, Positive: 1}, c.Stats())
	assert.Equal(t, 0, c.ForgetMisses())
}

func TestLookupCache_GetOrFetch(t *testing.T) {
	c := New[testRecord]()
	calls := 0

	fetch := func() (*testRecord, bool, error) {
		calls++
		return &testRecord{Name: "Heat"}, true, nil
	}

	entry, fromCache, err := c.GetOrFetch("Heat", intPtr(1995), fetch)
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, "Heat", entry.Value.Name)

	entry, fromCache, err = c.GetOrFetch("Heat", intPtr(1995), fetch)
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, "Heat", entry.Value.Name)
	assert.Equal(t, 1, calls)
}

func TestLookupCache_GetOrFetchNegativeAndUncached(t *testing.T) {
	c := New[testRecord]()

	entry, _, err := c.GetOrFetch("Nope", nil, func() (*testRecord, bool, error) {
		return nil, true, nil
	})
	require.NoError(t, err)
	assert.True(t, entry.NotFound())
	_, ok := c.Get("Nope", nil)
	assert.True(t, ok, "confirmed misses are cached")

	_, _, err = c.GetOrFetch("Flaky", nil, func() (*testRecord, bool, error) {
		return nil, false, nil
	})
	require.NoError(t, err)
	_, ok = c.Get("Flaky", nil)
	assert.False(t, ok, "store=false leaves the cache untouched")

	boom := errors.New("boom")
	_, _, err = c.GetOrFetch("Err", nil, func() (*testRecord, bool, error) {
		return nil, true, boom
	})
	assert.ErrorIs(t, err, boom)
	_, ok = c.Get("Err", nil)
	assert.False(t, ok)
}

func TestLookupCache_ConcurrentFetchSameKey(t *testing.T) {
	c := New[testRecord]()
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrFetch("Heat", nil, func() (*testRecord, bool, error) {
				calls.Add(1)
				<-release
				return &testRecord{Name: "Heat"}, true, nil
			})
			assert.NoError(t, err)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, c.Len())
}

func TestInspect(t *testing.T) {
	env := testutil.NewTestEnv(t)

	info, err := Inspect(env.Path("missing.json"))
	require.NoError(t, err)
	assert.False(t, info.Exists)
	assert.Equal(t, Stats{}, info.Stats)

	env.WriteFileString("cache.yaml", "Heat|||1995:\n  Title: Heat\n  imdbID: tt0113277\nNope|||: null\n")
	info, err = Inspect(env.Path("cache.yaml"))
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Positive(t, info.Size)
	assert.Equal(t, Stats{Total: 2, Positive: 1, Negative: 1}, info.Stats)
}

func TestForgetMissesFile(t *testing.T) {
	env := testutil.NewTestEnv(t)
	env.WriteFileString("cache.json", `{"A|||": null, "Heat|||1995": {"Title": "Heat", "imdbID": "tt0113277"}}`)

	removed, err := ForgetMissesFile(env.Path("cache.json"))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	c, err := Open[testRecord](env.Path("cache.json"))
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 1, Positive: 1}, c.Stats())
	env.AssertFileContains("cache.json", `"imdbID": "tt0113277"`)
}
