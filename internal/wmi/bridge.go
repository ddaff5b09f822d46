package wmi

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tmorgen/airvane/internal/completion"
	"github.com/tmorgen/airvane/internal/metrics"
)

// ErrCommandFailed is the waiter-visible error when a response event carries
// a non-zero firmware status.
var ErrCommandFailed = errors.New("wmi: firmware rejected command")

// EventSink receives decoded events. Sinks run on the event-delivery
// goroutine, in firmware emission order; a sink must not block.
type EventSink interface {
	HandleEvent(ev Event)
}

// Bridge is the protocol translation layer: logical operations out, typed
// events in. The variant and service map are fixed at construction
// (capability negotiation) and never change.
type Bridge struct {
	variant     Variant
	services    ServiceMap
	transport   Transport
	completions *completion.Registry
	metrics     *metrics.Metrics
	logger      *zap.Logger
	sinks       []EventSink
}

// NewBridge builds a bridge for the negotiated variant.
func NewBridge(v Variant, services ServiceMap, t Transport, reg *completion.Registry, m *metrics.Metrics, logger *zap.Logger) *Bridge {
	return &Bridge{
		variant:     v,
		services:    services,
		transport:   t,
		completions: reg,
		metrics:     m,
		logger:      logger,
	}
}

// Variant returns the negotiated command-id space.
func (b *Bridge) Variant() Variant { return b.variant }

// Services returns the firmware capability bitmap.
func (b *Bridge) Services() ServiceMap { return b.services }

// AddSink registers an event sink. Not safe to call once events are flowing;
// the driver wires its sinks during bring-up.
func (b *Bridge) AddSink(s EventSink) {
	b.sinks = append(b.sinks, s)
}

// Send encodes and transmits one logical command. It does not block on the
// outcome; callers that need the matching event register a completion before
// calling Send.
func (b *Bridge) Send(op Op, p Params) error {
	id, ok := b.variant.CommandID(op)
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrUnsupportedOperation, op, b.variant)
	}

	enc := &encoder{tlv: b.variant == VariantTLV}
	p.appendTo(enc)

	if err := b.transport.Send(id, enc.buf); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTransport, op, err)
	}
	b.metrics.CommandSent(op.String())
	b.logger.Debug("wmi command sent",
		zap.Stringer("op", op),
		zap.Uint32("cmd_id", id),
		zap.Int("payload_len", len(enc.buf)))
	return nil
}

// HandleRaw decodes one inbound event buffer and routes it: first to the
// registered sinks (so stateful components observe the event before any
// blocked caller resumes), then to the completion registry. Malformed
// buffers are counted, logged, and dropped.
func (b *Bridge) HandleRaw(raw []byte) {
	ev, err := b.variant.DecodeEvent(raw)
	if err != nil {
		b.metrics.DecodeError()
		b.logger.Warn("dropping undecodable event", zap.Error(err))
		return
	}
	b.metrics.EventDecoded(ev.EventType().String())

	for _, s := range b.sinks {
		s.HandleEvent(ev)
	}
	b.resolve(ev)
}

// statusErr maps a firmware status code to a waiter-visible error.
func statusErr(op Op, status uint32) error {
	if status == StatusOK {
		return nil
	}
	return fmt.Errorf("%w: %s status %d", ErrCommandFailed, op, status)
}

// resolve signals the completion matching a response event, if one is
// waiting. Unsolicited events fall through silently.
func (b *Bridge) resolve(ev Event) {
	switch e := ev.(type) {
	case VdevStartResponseEvent:
		b.completions.Complete(
			completion.Tag{VdevID: int(e.VdevID), Kind: completion.KindVdevStart},
			statusErr(OpVdevStart, e.Status))
	case VdevStoppedEvent:
		b.completions.Complete(
			completion.Tag{VdevID: int(e.VdevID), Kind: completion.KindVdevStop}, nil)
	case PeerCreateDoneEvent:
		b.completions.Complete(
			completion.Tag{VdevID: int(e.VdevID), Kind: completion.KindPeerCreate},
			statusErr(OpPeerCreate, e.Status))
	case PeerDeleteDoneEvent:
		b.completions.Complete(
			completion.Tag{VdevID: int(e.VdevID), Kind: completion.KindPeerDelete},
			statusErr(OpPeerDelete, e.Status))
	case KeyInstallDoneEvent:
		b.completions.Complete(
			completion.Tag{VdevID: int(e.VdevID), Kind: completion.KindKeyInstall},
			statusErr(OpKeyInstall, e.Status))
	case ScanEvent:
		if e.Type&ScanEventStarted != 0 {
			b.completions.Complete(
				completion.Tag{VdevID: int(e.VdevID), Kind: completion.KindScanStart}, nil)
		}
		if e.Type&(ScanEventCompleted|ScanEventDequeued) != 0 {
			b.completions.Complete(
				completion.Tag{VdevID: int(e.VdevID), Kind: completion.KindScanStop}, nil)
		}
	}
}
