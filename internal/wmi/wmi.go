// Package wmi implements the host side of the WMI command/event protocol:
// mapping logical operations onto the command-id space of the negotiated
// firmware variant, encoding command payloads, and decoding the inbound
// event stream into a closed set of typed events.
//
// The package does not own the transport. It requires only a Send primitive
// for outbound commands; the owner of the inbound byte stream feeds raw
// event buffers to Bridge.HandleRaw.
package wmi

import "errors"

// Sentinel errors for the bridge.
var (
	// ErrUnsupportedOperation means the active firmware variant has no
	// command id for the requested logical operation. Detected host-side;
	// nothing is sent.
	ErrUnsupportedOperation = errors.New("wmi: operation not supported by firmware variant")

	// ErrTransport wraps a failure of the underlying send primitive.
	ErrTransport = errors.New("wmi: transport send failed")

	// ErrDecode marks an event payload that did not parse. The event is
	// logged and dropped; no caller ever observes it.
	ErrDecode = errors.New("wmi: malformed event payload")
)

// Transport is the outbound half of the firmware connection. Implementations
// carry the command to the device (bus DMA, simulated firmware in tests).
// Send must not retry; the caller owns retry policy.
type Transport interface {
	Send(cmdID uint32, payload []byte) error
}
