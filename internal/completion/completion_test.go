package completion

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestRegistry() *Registry {
	return NewRegistry(zap.NewNop())
}

func TestCompleteResolvesWait(t *testing.T) {
	r := newTestRegistry()
	tag := Tag{VdevID: 0, Kind: KindVdevStart}

	c, err := r.Begin(tag)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	r.Complete(tag, nil)
	if err := r.Wait(context.Background(), c, time.Second); err != nil {
		t.Errorf("Wait = %v, want nil", err)
	}
	if got := r.Pending(); got != 0 {
		t.Errorf("Pending = %d, want 0", got)
	}
}

func TestCompleteCarriesError(t *testing.T) {
	r := newTestRegistry()
	tag := Tag{VdevID: 2, Kind: KindPeerCreate}
	want := errors.New("firmware said no")

	c, _ := r.Begin(tag)
	r.Complete(tag, want)
	if err := r.Wait(context.Background(), c, time.Second); !errors.Is(err, want) {
		t.Errorf("Wait = %v, want %v", err, want)
	}
}

func TestBeginDuplicate(t *testing.T) {
	r := newTestRegistry()
	tag := Tag{VdevID: 1, Kind: KindScanStart}

	if _, err := r.Begin(tag); err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	if _, err := r.Begin(tag); !errors.Is(err, ErrDuplicate) {
		t.Errorf("second Begin = %v, want ErrDuplicate", err)
	}
	// Same vdev, different kind is fine.
	if _, err := r.Begin(Tag{VdevID: 1, Kind: KindScanStop}); err != nil {
		t.Errorf("Begin other kind = %v, want nil", err)
	}
}

func TestWaitTimeout(t *testing.T) {
	r := newTestRegistry()
	tag := Tag{VdevID: 3, Kind: KindKeyInstall}

	c, _ := r.Begin(tag)
	err := r.Wait(context.Background(), c, 10*time.Millisecond)
	if !IsTimeout(err) {
		t.Fatalf("Wait = %v, want timeout", err)
	}
	if got := r.Pending(); got != 0 {
		t.Errorf("Pending after timeout = %d, want 0", got)
	}

	// A late event must be a silent no-op, and the tag must be reusable.
	r.Complete(tag, nil)
	if _, err := r.Begin(tag); err != nil {
		t.Errorf("Begin after timeout = %v, want nil", err)
	}
}

func TestWaitContextCancel(t *testing.T) {
	r := newTestRegistry()
	c, _ := r.Begin(Tag{VdevID: 4, Kind: KindVdevStop})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Wait(ctx, c, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait = %v, want context.Canceled", err)
	}
	if got := r.Pending(); got != 0 {
		t.Errorf("Pending after cancel = %d, want 0", got)
	}
}

func TestAbandonUnsent(t *testing.T) {
	r := newTestRegistry()
	tag := Tag{VdevID: 5, Kind: KindPeerDelete}

	c, _ := r.Begin(tag)
	r.Abandon(c)
	if got := r.Pending(); got != 0 {
		t.Errorf("Pending after Abandon = %d, want 0", got)
	}
	if _, err := r.Begin(tag); err != nil {
		t.Errorf("Begin after Abandon = %v, want nil", err)
	}
}

func TestCompleteExactlyOnce(t *testing.T) {
	r := newTestRegistry()
	tag := Tag{VdevID: 6, Kind: KindVdevStart}

	c, _ := r.Begin(tag)
	r.Complete(tag, nil)
	r.Complete(tag, errors.New("duplicate")) // must not double-signal

	if err := r.Wait(context.Background(), c, time.Second); err != nil {
		t.Errorf("Wait = %v, want nil from first resolution", err)
	}
}

func TestCompleteConcurrentWithWait(t *testing.T) {
	r := newTestRegistry()
	tag := Tag{VdevID: 7, Kind: KindScanStop}
	c, _ := r.Begin(tag)

	go func() {
		time.Sleep(5 * time.Millisecond)
		r.Complete(tag, nil)
	}()
	if err := r.Wait(context.Background(), c, time.Second); err != nil {
		t.Errorf("Wait = %v, want nil", err)
	}
}
