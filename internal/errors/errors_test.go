package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
	"time"
)

func TestRateLimitError(t *testing.T) {
	err := NewRateLimitError("slow down")

	if err.Error() != "slow down" {
		t.Fatalf("Error message = %q, want %q", err.Error(), "slow down")
	}

	if !IsRateLimitError(err) {
		t.Fatalf("IsRateLimitError returned false for RateLimitError")
	}

	wrapped := stdErrors.Join(err)
	if !IsRateLimitError(wrapped) {
		t.Fatalf("IsRateLimitError returned false for wrapped RateLimitError")
	}
}

func TestRateLimitErrorWithRetry(t *testing.T) {
	err := NewRateLimitErrorWithRetry("too many requests", 2*time.Minute)

	expected := "too many requests (retry after 2m0s)"
	if err.Error() != expected {
		t.Fatalf("Error message = %q, want %q", err.Error(), expected)
	}

	if !IsRateLimitError(err) {
		t.Fatalf("IsRateLimitError returned false for RateLimitErrorWithRetry")
	}
}

func TestRateLimitErrorWithRetry_ZeroDuration(t *testing.T) {
	err := NewRateLimitErrorWithRetry("rate limited", 0)

	if err.Error() != "rate limited" {
		t.Fatalf("Error message = %q, want %q", err.Error(), "rate limited")
	}
}

func TestContentionError(t *testing.T) {
	cause := stdErrors.New("database is locked")
	err := NewContentionError("upsert movie 42", 6, cause)

	expected := "upsert movie 42: store still locked after 6 attempts: database is locked"
	if err.Error() != expected {
		t.Fatalf("Error message = %q, want %q", err.Error(), expected)
	}

	if !IsContentionError(fmt.Errorf("ingest: %w", err)) {
		t.Fatalf("IsContentionError returned false for wrapped ContentionError")
	}

	if !stdErrors.Is(err, cause) {
		t.Fatalf("ContentionError does not unwrap to its cause")
	}

	if IsContentionError(cause) {
		t.Fatalf("IsContentionError returned true for a plain error")
	}
}
