package retry

import (
	"context"
	"testing"
	"time"

	"github.com/objectfs/msc/pkg/errors"
)

func TestDoSucceedsFirstTry(t *testing.T) {
	r := New(DefaultConfig())
	attempts := 0
	err := r.Do(context.Background(), func(context.Context) error {
		attempts++
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestDoRetriesRetryableError(t *testing.T) {
	r := New(Config{MaxAttempts: 3, Delay: time.Millisecond})
	attempts := 0
	err := r.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.Retryable(nil, "transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestDoDoesNotRetryNonRetryable(t *testing.T) {
	r := New(Config{MaxAttempts: 3, Delay: time.Millisecond})
	attempts := 0
	err := r.Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.NotFound("bucket", "key")
	})
	if !errors.Is(err, errors.KindNotFound) {
		t.Fatalf("err = %v, want NotFound", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no retry)", attempts)
	}
}

func TestDoExhaustsMaxAttempts(t *testing.T) {
	r := New(Config{MaxAttempts: 3, Delay: time.Millisecond})
	attempts := 0
	err := r.Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.Retryable(nil, "still failing")
	})
	if !errors.Is(err, errors.KindRetryable) {
		t.Fatalf("err = %v, want Retryable", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestDoStopsOnContextCancellation(t *testing.T) {
	r := New(Config{MaxAttempts: 10, Delay: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, func(context.Context) error {
		attempts++
		return errors.Retryable(nil, "transient")
	})
	if err == nil {
		t.Fatal("expected an error from cancellation")
	}
	if attempts >= 10 {
		t.Fatalf("attempts = %d, want fewer than 10 due to cancellation", attempts)
	}
}
