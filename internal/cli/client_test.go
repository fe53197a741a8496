package cli

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAPIErrorRetryable(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"rate_limited", true},
		{"invalid_status", true},
		{"forbidden", false},
		{"room_not_found", false},
		{"unauthorized", false},
	}
	for _, tc := range cases {
		e := &APIError{Status: 400, Code: tc.code}
		if e.Retryable() != tc.want {
			t.Fatalf("code %s: retryable=%v want %v", tc.code, e.Retryable(), tc.want)
		}
	}
}

func TestWithRetryStopsOnFatalError(t *testing.T) {
	c := &Client{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0
	err := c.withRetry(context.Background(), func() error {
		calls++
		return &APIError{Status: 403, Code: "forbidden"}
	})
	if calls != 1 {
		t.Fatalf("fatal error retried %d times", calls)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "forbidden" {
		t.Fatalf("got %v", err)
	}
}

func TestWithRetryRetriesTransientThenSucceeds(t *testing.T) {
	c := &Client{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0
	err := c.withRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &APIError{Status: 429, Code: "rate_limited"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("got %d calls want 3", calls)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	c := &Client{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0
	err := c.withRetry(context.Background(), func() error {
		calls++
		return &APIError{Status: 429, Code: "rate_limited"}
	})
	if calls != 3 {
		t.Fatalf("got %d calls want 3", calls)
	}
	if err == nil {
		t.Fatal("expected the last transient error")
	}
}

func TestWithRetryHonorsContextCancel(t *testing.T) {
	c := &Client{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.withRetry(ctx, func() error {
		return &APIError{Status: 429, Code: "rate_limited"}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
}
