// Package completion provides the rendezvous between threads that issue
// firmware commands and the event-delivery path that observes their
// outcomes. Each in-flight operation is one single-resolution cell: created
// when the command is issued, signaled exactly once by a matching event or
// abandoned on timeout, then discarded. Cells are never reused.
package completion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind identifies the class of operation a completion belongs to.
type Kind int

const (
	KindVdevStart Kind = iota
	KindVdevStop
	KindPeerCreate
	KindPeerDelete
	KindKeyInstall
	KindScanStart
	KindScanStop
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	switch k {
	case KindVdevStart:
		return "vdev-start"
	case KindVdevStop:
		return "vdev-stop"
	case KindPeerCreate:
		return "peer-create"
	case KindPeerDelete:
		return "peer-delete"
	case KindKeyInstall:
		return "key-install"
	case KindScanStart:
		return "scan-start"
	case KindScanStop:
		return "scan-stop"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Tag keys an in-flight operation. A vdev has at most one outstanding
// operation per kind, so (vdev, kind) is unique among live completions.
type Tag struct {
	VdevID int
	Kind   Kind
}

func (t Tag) String() string {
	return fmt.Sprintf("%s/vdev%d", t.Kind, t.VdevID)
}

// Sentinel errors returned by Wait.
var (
	ErrTimeout   = errors.New("completion: timed out")
	ErrDuplicate = errors.New("completion: operation already in flight")
)

// Completion is a single-resolution cell. The issuing side calls Wait; the
// event path resolves it through Registry.Complete.
type Completion struct {
	tag  Tag
	done chan error
}

// Registry tracks all in-flight completions for one device.
type Registry struct {
	logger *zap.Logger

	mu      sync.Mutex
	pending map[Tag]*Completion
}

// NewRegistry returns an empty completion registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:  logger,
		pending: make(map[Tag]*Completion),
	}
}

// Begin registers a new completion for tag. It fails with ErrDuplicate if
// an operation with the same tag is already in flight; callers treat that
// as a host-side bug, not a firmware condition.
func (r *Registry) Begin(tag Tag) (*Completion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[tag]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, tag)
	}
	c := &Completion{tag: tag, done: make(chan error, 1)}
	r.pending[tag] = c
	return c, nil
}

// Complete resolves the completion registered under tag, removing it from
// the registry. A completion that is no longer registered (resolved earlier,
// or abandoned by a timed-out waiter) is a logged no-op: late firmware
// events must never double-signal or crash.
func (r *Registry) Complete(tag Tag, result error) {
	r.mu.Lock()
	c, ok := r.pending[tag]
	if ok {
		delete(r.pending, tag)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Debug("late completion dropped", zap.Stringer("tag", tag))
		return
	}
	// Buffered channel of size one; the single send cannot block and the
	// registry removal above guarantees no second sender.
	c.done <- result
}

// Wait blocks until the completion is resolved, the timeout elapses, or ctx
// is cancelled. On timeout or cancellation the registry entry is removed so
// the cell cannot leak and a late event becomes a no-op.
func (r *Registry) Wait(ctx context.Context, c *Completion, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-c.done:
		return err
	case <-timer.C:
		r.abandon(c)
		return fmt.Errorf("%w: %s after %v", ErrTimeout, c.tag, timeout)
	case <-ctx.Done():
		r.abandon(c)
		return ctx.Err()
	}
}

// Abandon withdraws a completion whose command was never sent (or whose
// issuer gave up before waiting). The registry entry is removed; a
// concurrent resolution is drained.
func (r *Registry) Abandon(c *Completion) {
	r.abandon(c)
}

// abandon removes the cell from the registry if still present. If the event
// path resolved it concurrently, the buffered result is drained so the cell
// leaves no trace either way.
func (r *Registry) abandon(c *Completion) {
	r.mu.Lock()
	_, present := r.pending[c.tag]
	if present {
		delete(r.pending, c.tag)
	}
	r.mu.Unlock()

	if !present {
		// Lost the race with Complete: consume the result.
		select {
		case <-c.done:
		default:
		}
	}
}

// IsTimeout reports whether err is a completion timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Pending returns the number of in-flight completions. Used by teardown
// paths and tests.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
