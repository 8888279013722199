package omdb

import (
	"log/slog"
)

// MarkRateLimitReached marks the OMDb daily limit as reached for this client.
// It logs a warning on the first call and subsequent calls are no-ops.
func (c *Client) MarkRateLimitReached() {
	if c.limitReached.CompareAndSwap(false, true) {
		slog.Warn("OMDb API rate limit reached; skipping further OMDb requests for this run")
	}
}

// RequestsAllowed returns true if OMDb requests are still allowed.
func (c *Client) RequestsAllowed() bool {
	return !c.limitReached.Load()
}

// ResetRateLimit clears the limit flag.
func (c *Client) ResetRateLimit() {
	c.limitReached.Store(false)
}
