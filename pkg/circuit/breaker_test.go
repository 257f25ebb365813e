package circuit

import (
	"context"
	"testing"
	"time"

	"github.com/objectfs/msc/pkg/errors"
)

func failRuntime(context.Context) error {
	return errors.Runtime("bucket", "key", nil)
}

func succeed(context.Context) error { return nil }

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := New("s3", Config{TripAfter: 3, Timeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, failRuntime); !errors.Is(err, errors.KindRuntime) {
			t.Fatalf("attempt %d: err = %v, want Runtime", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	err := b.Execute(ctx, succeed)
	if !errors.Is(err, errors.KindRetryable) {
		t.Fatalf("open-breaker err = %v, want Retryable", err)
	}
}

func TestSemanticErrorsDoNotTrip(t *testing.T) {
	b := New("posix", Config{TripAfter: 2})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := b.Execute(ctx, func(context.Context) error {
			return errors.NotFound("bucket", "missing")
		})
		if !errors.Is(err, errors.KindNotFound) {
			t.Fatalf("err = %v, want NotFound", err)
		}
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestSuccessResetsFailureRun(t *testing.T) {
	b := New("gcs", Config{TripAfter: 3})
	ctx := context.Background()

	b.Execute(ctx, failRuntime)
	b.Execute(ctx, failRuntime)
	b.Execute(ctx, succeed)
	b.Execute(ctx, failRuntime)
	b.Execute(ctx, failRuntime)

	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed (run was broken by a success)", b.State())
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	b := New("azure", Config{TripAfter: 1, Timeout: 20 * time.Millisecond, MaxRequests: 1})
	ctx := context.Background()

	b.Execute(ctx, failRuntime)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	time.Sleep(30 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after timeout", b.State())
	}

	if err := b.Execute(ctx, succeed); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probe", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New("oci", Config{TripAfter: 1, Timeout: 20 * time.Millisecond, MaxRequests: 1})
	ctx := context.Background()

	b.Execute(ctx, failRuntime)
	time.Sleep(30 * time.Millisecond)

	b.Execute(ctx, failRuntime)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want re-opened after failed probe", b.State())
	}
}

func TestReset(t *testing.T) {
	b := New("ais", Config{TripAfter: 1, Timeout: time.Hour})
	b.Execute(context.Background(), failRuntime)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	b.Reset()
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after Reset", b.State())
	}
}
