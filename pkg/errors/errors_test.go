package errors

import (
	"fmt"
	"testing"
)

func TestKindConstructors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  *Error
		kind Kind
	}{
		{"not found", NotFound("bucket", "a/b.txt"), KindNotFound},
		{"already exists", AlreadyExists("bucket", "a/b.txt"), KindExists},
		{"precondition failed", PreconditionFailed("bucket", "a/b.txt"), KindPreconditionFailed},
		{"not modified", NotModified("bucket", "a/b.txt"), KindNotModified},
		{"retryable", Retryable(fmt.Errorf("timeout"), "read timed out"), KindRetryable},
		{"runtime", Runtime("bucket", "a/b.txt", fmt.Errorf("boom")), KindRuntime},
		{"hint conflict", HintConflict("lease held by another node"), KindHintConflict},
		{"invalid argument", InvalidArgument("start_after must be < end_at"), KindInvalidArgument},
		{"not supported", NotSupported("ais", "if_match"), KindNotSupported},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Kind != tc.kind {
				t.Fatalf("Kind = %v, want %v", tc.err.Kind, tc.kind)
			}
			if tc.err.Error() == "" {
				t.Fatal("Error() returned empty string")
			}
		})
	}
}

func TestIsAndAs(t *testing.T) {
	t.Parallel()

	err := NotFound("bucket", "key")
	if !Is(err, KindNotFound) {
		t.Fatal("Is(err, KindNotFound) = false, want true")
	}
	if Is(err, KindRetryable) {
		t.Fatal("Is(err, KindRetryable) = true, want false")
	}

	wrapped := fmt.Errorf("while reading: %w", err)
	if !Is(wrapped, KindNotFound) {
		t.Fatal("Is should follow the error chain through fmt.Errorf %w")
	}

	got, ok := As(wrapped)
	if !ok || got.Kind != KindNotFound {
		t.Fatalf("As(wrapped) = (%v, %v), want a NotFound error", got, ok)
	}
}

func TestErrorIsCompatibleWithStandardIs(t *testing.T) {
	t.Parallel()

	e1 := NotFound("b", "k1")
	e2 := NotFound("b", "k2")
	if !e1.Is(e2) {
		t.Fatal("two NotFound errors with different keys should compare equal by Kind")
	}
	if e1.Is(PreconditionFailed("b", "k1")) {
		t.Fatal("NotFound should not compare equal to PreconditionFailed")
	}
}

func TestWithHelpers(t *testing.T) {
	t.Parallel()

	err := NotFound("bucket", "key").
		WithRequestID("req-123").
		WithHostID("host-1").
		WithHTTPStatus(404)

	if err.RequestID != "req-123" || err.HostID != "host-1" || err.HTTPStatus != 404 {
		t.Fatalf("With* helpers did not set fields: %+v", err)
	}

	if err.JSON() == "" {
		t.Fatal("JSON() returned empty string")
	}
}

func TestUnwrap(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("connection reset")
	err := Runtime("bucket", "key", cause)
	if err.Unwrap() != cause {
		t.Fatal("Unwrap() did not return the wrapped cause")
	}
}
