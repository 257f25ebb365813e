// Package hint implements the distributed hint: a single-holder
// advisory lease backed by nothing more than a storage object and its
// ETag's compare-and-swap semantics. It serializes writers across
// processes without a separate lock service.
package hint

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	mscerrors "github.com/objectfs/msc/pkg/errors"
	"github.com/objectfs/msc/pkg/storage"
	"github.com/objectfs/msc/pkg/utils"
)

// State is the hint's lifecycle state.
type State int

const (
	// Released: no hint object owned.
	Released State = iota
	// Acquired: object owned, heartbeat running.
	Acquired
	// Stopped: heartbeat exited due to CAS loss or shutdown.
	Stopped
)

func (s State) String() string {
	switch s {
	case Released:
		return "released"
	case Acquired:
		return "acquired"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultHeartbeatBuffer   = 10 * time.Second
	backoffInitial           = 1 * time.Second
	backoffMax               = 30 * time.Second
	maxConsecutiveErrors     = 3
)

// body is the hint object's on-wire JSON payload.
type body struct {
	Timestamp time.Time `json:"timestamp"`
}

// Hint is a single-writer lease at path, backed by provider.
type Hint struct {
	provider          storage.Provider
	path              string
	heartbeatInterval time.Duration
	heartbeatBuffer   time.Duration
	log               *utils.StructuredLogger

	mu           sync.Mutex // serializes Acquire/Release transitions
	state        State
	currentETag  string
	stopCh       chan struct{}
	heartbeatsWg sync.WaitGroup
}

// Option configures a Hint at construction time.
type Option func(*Hint)

// WithHeartbeatInterval overrides the default 30s heartbeat tick.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Hint) { h.heartbeatInterval = d }
}

// WithHeartbeatBuffer overrides the default 10s buffer added to the
// heartbeat interval to compute the lease lifespan a stale holder is
// assumed dead after.
func WithHeartbeatBuffer(d time.Duration) Option {
	return func(h *Hint) { h.heartbeatBuffer = d }
}

// New constructs a Hint at path on provider. path is an object key,
// typically "<prefix>/hint".
func New(provider storage.Provider, path string, opts ...Option) (*Hint, error) {
	log, err := utils.NewStructuredLogger(utils.DefaultStructuredLoggerConfig())
	if err != nil {
		return nil, err
	}
	h := &Hint{
		provider:          provider,
		path:              path,
		heartbeatInterval: defaultHeartbeatInterval,
		heartbeatBuffer:   defaultHeartbeatBuffer,
		log:               log.WithComponent("hint"),
		state:             Released,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// State reports the hint's current lifecycle state.
func (h *Hint) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Acquire attempts to become the lease holder. It returns true on
// success, false if another holder won the race; it returns an error
// only for unexpected backend failures.
func (h *Hint) Acquire(ctx context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == Acquired {
		return true, nil
	}

	payload, err := json.Marshal(body{Timestamp: time.Now().UTC()})
	if err != nil {
		return false, err
	}

	meta, headErr := h.provider.GetObjectMetadata(ctx, h.path, true)
	switch {
	case headErr == nil:
		// A holder's object exists. Wait out the lease lifespan: if it
		// is still alive, its heartbeat will have refreshed the object
		// (and therefore its ETag) before we try to take over.
		lifespan := h.heartbeatInterval + h.heartbeatBuffer
		select {
		case <-time.After(lifespan):
		case <-ctx.Done():
			return false, ctx.Err()
		}
		etag := meta.ETag
		err = h.provider.PutObject(ctx, h.path, payload, storage.PutOptions{IfMatch: etag})
	case mscerrors.Is(headErr, mscerrors.KindNotFound):
		err = h.provider.PutObject(ctx, h.path, payload, storage.PutOptions{IfNoneMatch: "*"})
	default:
		return false, headErr
	}

	if err != nil {
		if mscerrors.Is(err, mscerrors.KindPreconditionFailed) {
			h.log.Debugf("lost acquire race for %q", h.path)
			return false, nil
		}
		return false, err
	}

	newMeta, err := h.provider.GetObjectMetadata(ctx, h.path, true)
	if err != nil {
		return false, err
	}
	h.currentETag = newMeta.ETag
	h.state = Acquired
	h.stopCh = make(chan struct{})
	h.heartbeatsWg.Add(1)
	go h.heartbeatLoop(h.stopCh)
	return true, nil
}

// Release stops the heartbeat and deletes the hint object, but only if
// we still hold it (if_match=current_etag). State transitions to
// Released on a successful delete, when the object is already gone, or,
// from Stopped, when the delete fails its precondition because another
// holder has taken over; Release is idempotent and safe to call from
// Released or Stopped.
func (h *Hint) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == Released {
		return nil
	}
	if h.stopCh != nil {
		close(h.stopCh)
		h.stopCh = nil
	}
	h.heartbeatsWg.Wait()

	err := h.provider.DeleteObject(ctx, h.path, h.currentETag)
	lost := h.state == Stopped && mscerrors.Is(err, mscerrors.KindPreconditionFailed)
	if err != nil && !mscerrors.Is(err, mscerrors.KindNotFound) && !lost {
		return err
	}
	h.state = Released
	h.currentETag = ""
	return nil
}

// heartbeatLoop refreshes the hint object on each tick until stop is
// closed, the lease is lost to a precondition failure, or three
// consecutive transient errors accumulate.
func (h *Hint) heartbeatLoop(stop chan struct{}) {
	defer h.heartbeatsWg.Done()

	backoff := backoffInitial
	consecutiveErrors := 0

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx := context.Background()
		payload, err := json.Marshal(body{Timestamp: time.Now().UTC()})
		if err == nil {
			err = h.provider.PutObject(ctx, h.path, payload, storage.PutOptions{IfMatch: h.currentEtag()})
		}
		if err != nil {
			if mscerrors.Is(err, mscerrors.KindPreconditionFailed) {
				h.log.Warnf("hint %q lease lost, heartbeat exiting", h.path)
				h.setStopped()
				return
			}
			consecutiveErrors++
			h.log.Warnf("hint %q heartbeat error (%d/%d): %v", h.path, consecutiveErrors, maxConsecutiveErrors, err)
			if consecutiveErrors >= maxConsecutiveErrors {
				h.log.Errorf("hint %q heartbeat giving up after %d consecutive errors", h.path, consecutiveErrors)
				h.setStopped()
				return
			}
			select {
			case <-stop:
				return
			case <-time.After(backoff):
			}
			backoff = time.Duration(math.Min(float64(backoff*2), float64(backoffMax)))
			continue
		}

		consecutiveErrors = 0
		backoff = backoffInitial

		meta, err := h.provider.GetObjectMetadata(ctx, h.path, true)
		if err != nil {
			h.log.Warnf("hint %q post-heartbeat HEAD failed: %v", h.path, err)
			continue
		}
		h.setCurrentEtag(meta.ETag)
	}
}

func (h *Hint) currentEtag() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentETag
}

func (h *Hint) setCurrentEtag(etag string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentETag = etag
}

// setStopped marks the hint Stopped without touching currentETag, so a
// subsequent Release() call still attempts its if_match delete using
// whatever etag was last observed (and idempotently no-ops if that
// delete fails because another holder has since taken over).
func (h *Hint) setStopped() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == Acquired {
		h.state = Stopped
	}
}
