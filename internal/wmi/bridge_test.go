package wmi

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tmorgen/airvane/internal/completion"
)

type stubTransport struct {
	sent []uint32
	err  error
}

func (s *stubTransport) Send(cmdID uint32, payload []byte) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, cmdID)
	return nil
}

func newTestBridge(v Variant, tr Transport) (*Bridge, *completion.Registry) {
	reg := completion.NewRegistry(zap.NewNop())
	return NewBridge(v, ServiceMap{}, tr, reg, nil, zap.NewNop()), reg
}

func TestBridgeSend(t *testing.T) {
	tr := &stubTransport{}
	b, _ := newTestBridge(VariantMain, tr)

	if err := b.Send(OpVdevCreate, VdevCreateParams{VdevID: 1}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(tr.sent) != 1 || tr.sent[0] != 0x9100 {
		t.Errorf("sent = %#x, want [0x9100]", tr.sent)
	}
}

func TestBridgeSendUnsupportedOp(t *testing.T) {
	b, _ := newTestBridge(VariantMain, &stubTransport{})
	err := b.Send(OpExtResourceConfig, ExtResourceConfigParams{})
	if !errors.Is(err, ErrUnsupportedOperation) {
		t.Errorf("Send = %v, want ErrUnsupportedOperation", err)
	}
}

func TestBridgeSendTransportError(t *testing.T) {
	b, _ := newTestBridge(VariantMain, &stubTransport{err: errors.New("link down")})
	err := b.Send(OpVdevStop, VdevIDParams{VdevID: 1})
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Send = %v, want ErrTransport", err)
	}
}

func TestBridgeResolvesCompletion(t *testing.T) {
	b, reg := newTestBridge(Variant10_2, &stubTransport{})
	c, err := reg.Begin(completion.Tag{VdevID: 2, Kind: completion.KindVdevStart})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	b.HandleRaw(MarshalEvent(Variant10_2, VdevStartResponseEvent{VdevID: 2, Status: StatusOK}))
	if err := reg.Wait(context.Background(), c, time.Second); err != nil {
		t.Errorf("Wait = %v, want nil", err)
	}
}

func TestBridgeResolvesFailureStatus(t *testing.T) {
	b, reg := newTestBridge(VariantMain, &stubTransport{})
	c, _ := reg.Begin(completion.Tag{VdevID: 1, Kind: completion.KindPeerCreate})

	b.HandleRaw(MarshalEvent(VariantMain, PeerCreateDoneEvent{
		VdevID: 1, MAC: testMAC, Status: StatusNoResources,
	}))
	err := reg.Wait(context.Background(), c, time.Second)
	if !errors.Is(err, ErrCommandFailed) {
		t.Errorf("Wait = %v, want ErrCommandFailed", err)
	}
}

type recordingSink struct {
	events []Event
}

func (s *recordingSink) HandleEvent(ev Event) { s.events = append(s.events, ev) }

func TestBridgeSinksBeforeCompletion(t *testing.T) {
	b, reg := newTestBridge(VariantMain, &stubTransport{})

	var sawInSink bool
	sink := sinkFunc(func(ev Event) {
		// The sink must observe the event while the completion is still
		// pending; blocked callers resume only afterwards.
		if _, ok := ev.(PeerCreateDoneEvent); ok {
			sawInSink = reg.Pending() == 1
		}
	})
	b.AddSink(sink)

	_, _ = reg.Begin(completion.Tag{VdevID: 3, Kind: completion.KindPeerCreate})
	b.HandleRaw(MarshalEvent(VariantMain, PeerCreateDoneEvent{
		VdevID: 3, MAC: testMAC, Status: StatusOK,
	}))
	if !sawInSink {
		t.Error("sink ran after completion was resolved")
	}
	if reg.Pending() != 0 {
		t.Errorf("Pending = %d after resolution, want 0", reg.Pending())
	}
}

type sinkFunc func(Event)

func (f sinkFunc) HandleEvent(ev Event) { f(ev) }

func TestBridgeDropsMalformedEvent(t *testing.T) {
	b, _ := newTestBridge(VariantMain, &stubTransport{})
	sink := &recordingSink{}
	b.AddSink(sink)

	b.HandleRaw([]byte{0x01}) // too short to carry an event id
	if len(sink.events) != 0 {
		t.Errorf("sink saw %d events from malformed buffer", len(sink.events))
	}
}

func TestBridgeScanEventCompletions(t *testing.T) {
	b, reg := newTestBridge(VariantMain, &stubTransport{})

	cStart, _ := reg.Begin(completion.Tag{VdevID: 0, Kind: completion.KindScanStart})
	b.HandleRaw(MarshalEvent(VariantMain, ScanEvent{VdevID: 0, ScanID: 1, Type: ScanEventStarted}))
	if err := reg.Wait(context.Background(), cStart, time.Second); err != nil {
		t.Errorf("scan start Wait = %v", err)
	}

	cStop, _ := reg.Begin(completion.Tag{VdevID: 0, Kind: completion.KindScanStop})
	b.HandleRaw(MarshalEvent(VariantMain, ScanEvent{
		VdevID: 0, ScanID: 1, Type: ScanEventCompleted | ScanEventDequeued,
		Reason: ScanReasonCancelled,
	}))
	if err := reg.Wait(context.Background(), cStop, time.Second); err != nil {
		t.Errorf("scan stop Wait = %v", err)
	}
}
