package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), Config{Timeout: time.Second}, func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" || calls != 1 {
		t.Fatalf("got %q after %d calls, want ok after 1", v, calls)
	}
}

func TestDoRetriesThenWrapsTimeout(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Config{Timeout: time.Second, Attempts: 3}, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	if calls != 3 {
		t.Fatalf("got %d attempts, want 3", calls)
	}
	if !errors.Is(err, ErrAdapterTimeout) {
		t.Fatalf("error %v does not wrap ErrAdapterTimeout", err)
	}
}

func TestDoHonorsAttemptTimeout(t *testing.T) {
	start := time.Now()
	_, err := Do(context.Background(), Config{Timeout: 20 * time.Millisecond}, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, ErrAdapterTimeout) {
		t.Fatalf("error %v does not wrap ErrAdapterTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("attempt was not bounded, took %s", elapsed)
	}
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, Config{Timeout: time.Second, Attempts: 5}, func(ctx context.Context) (int, error) {
		t.Fatal("op should not run with a cancelled context")
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestDoWithFallbackConvertsFailure(t *testing.T) {
	v, err := DoWithFallback(context.Background(), Config{Timeout: time.Second},
		func(ctx context.Context) (string, error) {
			return "", errors.New("provider down")
		},
		func(err error) string {
			if !errors.Is(err, ErrAdapterTimeout) {
				t.Fatalf("fallback got %v, want wrapped ErrAdapterTimeout", err)
			}
			return "canned"
		})
	if err != nil {
		t.Fatalf("fallback path must report success, got %v", err)
	}
	if v != "canned" {
		t.Fatalf("got %q, want canned", v)
	}
}

func TestDoWithFallbackSkipsFallbackOnSuccess(t *testing.T) {
	v, err := DoWithFallback(context.Background(), Config{Timeout: time.Second},
		func(ctx context.Context) (string, error) { return "live", nil },
		func(error) string { return "canned" })
	if err != nil || v != "live" {
		t.Fatalf("got %q, %v; want live, nil", v, err)
	}
}
