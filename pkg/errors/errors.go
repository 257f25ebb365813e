// Package errors provides the structured error system used across every
// msc storage provider, cache backend, manifest provider, and client:
// a small set of stable error kinds plus enough context (bucket, key,
// request id, http status) for operators to act on.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind is the stable, backend-independent error classification callers
// match against with errors.Is / errors.As. Messages vary across
// backends; Kind never does.
type Kind string

const (
	// KindNotFound: the requested object does not exist.
	KindNotFound Kind = "NOT_FOUND"
	// KindExists: overwrite attempted where not permitted (manifest-gated writes).
	KindExists Kind = "EXISTS"
	// KindPreconditionFailed: if-match / if-none-match did not hold.
	KindPreconditionFailed Kind = "PRECONDITION_FAILED"
	// KindNotModified: conditional GET semantics.
	KindNotModified Kind = "NOT_MODIFIED"
	// KindRetryable: transient — timeouts, 429, 503, connection resets, incomplete reads.
	KindRetryable Kind = "RETRYABLE"
	// KindRuntime: everything else; always wraps the backend error.
	KindRuntime Kind = "RUNTIME"
	// KindHintConflict: a distributed hint was expected to be held but a conflict was observed.
	KindHintConflict Kind = "HINT_CONFLICT"
	// KindInvalidArgument: caller-supplied arguments violate an operation's contract.
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	// KindNotSupported: the backend does not implement the requested operation.
	KindNotSupported Kind = "NOT_SUPPORTED"
)

// Error is the concrete error type msc returns. It is never constructed
// directly outside this package; use the Kind constructors below.
type Error struct {
	Kind    Kind
	Message string

	Bucket     string
	Key        string
	RequestID  string
	HostID     string
	HTTPStatus int

	Cause     error
	Timestamp time.Time
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Bucket != "" || e.Key != "" {
		fmt.Fprintf(&b, " %s/%s", e.Bucket, e.Key)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request_id=%s)", e.RequestID)
	}
	if e.HostID != "" {
		fmt.Fprintf(&b, " (host_id=%s)", e.HostID)
	}
	if e.HTTPStatus != 0 {
		fmt.Fprintf(&b, " (status=%d)", e.HTTPStatus)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %s", e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is compare by Kind, ignoring message/context — the same
// way callers compare sentinel errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// JSON renders the error as a JSON object, omitting the unwrapped cause
// to avoid leaking backend internals by accident.
func (e *Error) JSON() string {
	data, err := json.Marshal(struct {
		Kind       Kind   `json:"kind"`
		Message    string `json:"message"`
		Bucket     string `json:"bucket,omitempty"`
		Key        string `json:"key,omitempty"`
		RequestID  string `json:"request_id,omitempty"`
		HostID     string `json:"host_id,omitempty"`
		HTTPStatus int    `json:"http_status,omitempty"`
	}{e.Kind, e.Message, e.Bucket, e.Key, e.RequestID, e.HostID, e.HTTPStatus})
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err)
	}
	return string(data)
}

func newErr(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Timestamp: time.Now().UTC()}
}

// NotFound builds a KindNotFound error for key under bucket.
func NotFound(bucket, key string) *Error {
	e := newErr(KindNotFound, "object does not exist")
	e.Bucket, e.Key, e.HTTPStatus = bucket, key, 404
	return e
}

// AlreadyExists builds a KindExists error, used by manifest-gated writes.
func AlreadyExists(bucket, key string) *Error {
	e := newErr(KindExists, "object already exists")
	e.Bucket, e.Key, e.HTTPStatus = bucket, key, 409
	return e
}

// PreconditionFailed builds a KindPreconditionFailed error for a failed
// if-match / if-none-match.
func PreconditionFailed(bucket, key string) *Error {
	e := newErr(KindPreconditionFailed, "precondition failed")
	e.Bucket, e.Key, e.HTTPStatus = bucket, key, 412
	return e
}

// NotModified builds a KindNotModified error.
func NotModified(bucket, key string) *Error {
	e := newErr(KindNotModified, "not modified")
	e.Bucket, e.Key, e.HTTPStatus = bucket, key, 304
	return e
}

// Retryable wraps cause as a KindRetryable error — timeouts, 429, 503,
// connection resets, incomplete reads.
func Retryable(cause error, message string) *Error {
	e := newErr(KindRetryable, "%s", message)
	e.Cause = cause
	return e
}

// Runtime wraps cause as a catch-all KindRuntime error, carrying enough
// identifying context for operators.
func Runtime(bucket, key string, cause error) *Error {
	msg := "runtime error"
	if cause != nil {
		msg = cause.Error()
	}
	e := newErr(KindRuntime, "%s", msg)
	e.Bucket, e.Key, e.Cause = bucket, key, cause
	return e
}

// HintConflict builds a KindHintConflict error for distributed-hint
// takeover races.
func HintConflict(message string) *Error {
	return newErr(KindHintConflict, "%s", message)
}

// InvalidArgument builds a KindInvalidArgument error for contract
// violations detected before any backend call (e.g. start_after >= end_at).
func InvalidArgument(format string, args ...interface{}) *Error {
	return newErr(KindInvalidArgument, format, args...)
}

// NotSupported builds a KindNotSupported error for operations a backend
// does not implement (e.g. conditional ops on AIStore).
func NotSupported(backend, operation string) *Error {
	return newErr(KindNotSupported, "%s does not support %s", backend, operation)
}

// WithRequestID attaches a backend request id for operator diagnostics.
func (e *Error) WithRequestID(id string) *Error { e.RequestID = id; return e }

// WithHostID attaches a backend host id for operator diagnostics.
func (e *Error) WithHostID(id string) *Error { e.HostID = id; return e }

// WithHTTPStatus overrides the HTTP status carried by the error.
func (e *Error) WithHTTPStatus(status int) *Error { e.HTTPStatus = status; return e }

// Is reports whether err is a msc *Error with the given Kind, following
// the error chain via Unwrap.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind == kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// As extracts a *Error from err's chain, if present.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
