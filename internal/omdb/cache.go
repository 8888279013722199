package omdb

import (
	"context"

	"github.com/lepinkainen/reelbase/internal/cache"
)

// LookupCache is the cache type for raw OMDb responses.
type LookupCache = cache.LookupCache[Response]

// LookupCached consults the cache before calling Lookup. Found and NotFound
// answers are cached; Unavailable outcomes are not, so a later run can fill
// them in. The boolean result is true for a cache hit.
func (c *Client) LookupCached(ctx context.Context, lc *LookupCache, title string, year *int) (Result, bool, error) {
	var (
		result  Result
		fetched bool
	)

	entry, fromCache, err := lc.GetOrFetch(title, year, func() (*Response, bool, error) {
		res, err := c.Lookup(ctx, title, year)
		if err != nil {
			return nil, false, err
		}
		result, fetched = res, true
		return res.Response, res.Outcome.Authoritative(), nil
	})
	if err != nil {
		return Result{Outcome: Unavailable}, false, err
	}

	if fetched {
		return result, false, nil
	}

	if !fromCache {
		// Another caller did the fetch; only a cached answer is trustworthy.
		cached, ok := lc.Get(title, year)
		if !ok {
			return Result{Outcome: Unavailable}, false, nil
		}
		entry = cached
	}

	if entry.NotFound() {
		return Result{Outcome: NotFound}, fromCache, nil
	}
	return Result{Outcome: Found, Response: entry.Value, Record: Normalize(entry.Value)}, fromCache, nil
}
