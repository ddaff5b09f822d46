package wmi

import (
	"encoding/binary"
	"fmt"
	"net"
)

// EventType identifies one member of the closed event set.
type EventType int

const (
	EvtServiceReady EventType = iota
	EvtScan
	EvtMgmtRx
	EvtVdevStartResponse
	EvtVdevStopped
	EvtPeerCreateDone
	EvtPeerDeleteDone
	EvtPeerKickout
	EvtKeyInstallDone
	EvtRadarDetected
)

// String returns the string representation of an EventType.
func (t EventType) String() string {
	switch t {
	case EvtServiceReady:
		return "service-ready"
	case EvtScan:
		return "scan"
	case EvtMgmtRx:
		return "mgmt-rx"
	case EvtVdevStartResponse:
		return "vdev-start-response"
	case EvtVdevStopped:
		return "vdev-stopped"
	case EvtPeerCreateDone:
		return "peer-create-done"
	case EvtPeerDeleteDone:
		return "peer-delete-done"
	case EvtPeerKickout:
		return "peer-kickout"
	case EvtKeyInstallDone:
		return "key-install-done"
	case EvtRadarDetected:
		return "radar-detected"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// evtTables maps each variant's wire event ids onto the closed event set.
// Like command ids, event numbering is variant-specific and fixed at
// capability negotiation.
var evtTables = map[Variant]map[uint32]EventType{
	VariantMain: {
		0x1000: EvtServiceReady,
		0x1001: EvtScan,
		0x1002: EvtMgmtRx,
		0x1003: EvtVdevStartResponse,
		0x1004: EvtVdevStopped,
		0x1005: EvtPeerCreateDone,
		0x1006: EvtPeerDeleteDone,
		0x1007: EvtPeerKickout,
		0x1008: EvtKeyInstallDone,
		0x1009: EvtRadarDetected,
	},
	Variant10_1: {
		0x1800: EvtServiceReady,
		0x1803: EvtScan,
		0x1804: EvtMgmtRx,
		0x1801: EvtVdevStartResponse,
		0x1802: EvtVdevStopped,
		0x1805: EvtPeerCreateDone,
		0x1806: EvtPeerDeleteDone,
		0x1807: EvtPeerKickout,
		0x1808: EvtKeyInstallDone,
		0x1809: EvtRadarDetected,
	},
	Variant10_4: {
		0x2000: EvtServiceReady,
		0x2001: EvtScan,
		0x2002: EvtMgmtRx,
		0x2003: EvtVdevStartResponse,
		0x2004: EvtVdevStopped,
		0x2005: EvtPeerCreateDone,
		0x2006: EvtPeerDeleteDone,
		0x2007: EvtPeerKickout,
		0x2008: EvtKeyInstallDone,
		0x2009: EvtRadarDetected,
	},
	VariantTLV: {
		0x018000: EvtServiceReady,
		0x018001: EvtScan,
		0x018002: EvtMgmtRx,
		0x018003: EvtVdevStartResponse,
		0x018004: EvtVdevStopped,
		0x018005: EvtPeerCreateDone,
		0x018006: EvtPeerDeleteDone,
		0x018007: EvtPeerKickout,
		0x018008: EvtKeyInstallDone,
		0x018009: EvtRadarDetected,
	},
}

func init() {
	evtTables[Variant10_2] = evtTables[Variant10_1]
}

// wireEventID resolves the variant's wire id for an event type. Every
// variant numbers the full event set, so the reverse lookup always hits.
func wireEventID(v Variant, t EventType) uint32 {
	for id, typ := range evtTables[v] {
		if typ == t {
			return id
		}
	}
	return 0
}

// Event is one decoded firmware event.
type Event interface {
	EventType() EventType
}

// Scan event types and completion reasons.
const (
	ScanEventStarted        = 1 << 0
	ScanEventCompleted      = 1 << 1
	ScanEventBSSChannel     = 1 << 2
	ScanEventForeignChannel = 1 << 3
	ScanEventDequeued       = 1 << 4

	ScanReasonCompleted = 0
	ScanReasonCancelled = 1
	ScanReasonTimedOut  = 2
	ScanReasonError     = 3
)

// Firmware status codes carried by response events. Zero is success.
const (
	StatusOK           = 0
	StatusGenericError = 1
	StatusNoResources  = 2
	StatusInvalidParam = 3
)

// ServiceReadyEvent announces the firmware's capabilities at connect time.
type ServiceReadyEvent struct {
	Services ServiceMap
	MaxPeers uint32
}

func (ServiceReadyEvent) EventType() EventType { return EvtServiceReady }

// ScanEvent reports scan state machine progress in firmware.
type ScanEvent struct {
	VdevID  uint32
	ScanID  uint32
	Type    uint32
	Reason  uint32
	FreqMHz uint32
}

func (ScanEvent) EventType() EventType { return EvtScan }

// MgmtRxEvent delivers a received management frame.
type MgmtRxEvent struct {
	VdevID  uint32
	FreqMHz uint32
	RSSI    int32
	Frame   []byte
}

func (MgmtRxEvent) EventType() EventType { return EvtMgmtRx }

// VdevStartResponseEvent acknowledges a vdev start or restart.
type VdevStartResponseEvent struct {
	VdevID uint32
	Status uint32
}

func (VdevStartResponseEvent) EventType() EventType { return EvtVdevStartResponse }

// VdevStoppedEvent acknowledges a vdev stop.
type VdevStoppedEvent struct {
	VdevID uint32
}

func (VdevStoppedEvent) EventType() EventType { return EvtVdevStopped }

// PeerCreateDoneEvent acknowledges a peer-create command and carries the
// firmware-assigned peer id.
type PeerCreateDoneEvent struct {
	VdevID uint32
	MAC    net.HardwareAddr
	PeerID uint32
	Status uint32
}

func (PeerCreateDoneEvent) EventType() EventType { return EvtPeerCreateDone }

// PeerDeleteDoneEvent acknowledges a peer-delete command.
type PeerDeleteDoneEvent struct {
	VdevID uint32
	MAC    net.HardwareAddr
	Status uint32
}

func (PeerDeleteDoneEvent) EventType() EventType { return EvtPeerDeleteDone }

// PeerKickoutEvent is an unsolicited notification that firmware dropped a
// peer (e.g. after repeated delivery failures).
type PeerKickoutEvent struct {
	VdevID uint32
	MAC    net.HardwareAddr
	Reason uint32
}

func (PeerKickoutEvent) EventType() EventType { return EvtPeerKickout }

// KeyInstallDoneEvent acknowledges a key installation.
type KeyInstallDoneEvent struct {
	VdevID uint32
	Status uint32
}

func (KeyInstallDoneEvent) EventType() EventType { return EvtKeyInstallDone }

// RadarDetectedEvent reports a radar pulse on the given frequency.
type RadarDetectedEvent struct {
	FreqMHz uint32
}

func (RadarDetectedEvent) EventType() EventType { return EvtRadarDetected }

// reader is a bounds-checked little-endian cursor. ok flips false on the
// first short read and every later read returns zero.
type reader struct {
	buf []byte
	ok  bool
}

func (r *reader) u32() uint32 {
	if !r.ok || len(r.buf) < 4 {
		r.ok = false
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v
}

func (r *reader) mac() net.HardwareAddr {
	if !r.ok || len(r.buf) < 6 {
		r.ok = false
		return nil
	}
	m := net.HardwareAddr(append([]byte(nil), r.buf[:6]...))
	r.buf = r.buf[6:]
	return m
}

func (r *reader) rest() []byte {
	if !r.ok {
		return nil
	}
	b := r.buf
	r.buf = nil
	return b
}

// DecodeEvent parses a raw event buffer in the variant's event-id space. A
// malformed payload yields ErrDecode; callers log and drop it.
func (v Variant) DecodeEvent(raw []byte) (Event, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: %d byte buffer", ErrDecode, len(raw))
	}
	wireID := binary.LittleEndian.Uint32(raw)
	typ, ok := evtTables[v][wireID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown event id %#x for variant %s", ErrDecode, wireID, v)
	}

	r := &reader{buf: raw[4:], ok: true}
	var ev Event
	switch typ {
	case EvtServiceReady:
		n := r.u32()
		if n > 8 {
			r.ok = false
			break
		}
		words := make([]uint32, n)
		for i := range words {
			words[i] = r.u32()
		}
		ev = ServiceReadyEvent{Services: NewServiceMap(words), MaxPeers: r.u32()}
	case EvtScan:
		ev = ScanEvent{VdevID: r.u32(), ScanID: r.u32(), Type: r.u32(), Reason: r.u32(), FreqMHz: r.u32()}
	case EvtMgmtRx:
		ev = MgmtRxEvent{VdevID: r.u32(), FreqMHz: r.u32(), RSSI: int32(r.u32()), Frame: r.rest()}
	case EvtVdevStartResponse:
		ev = VdevStartResponseEvent{VdevID: r.u32(), Status: r.u32()}
	case EvtVdevStopped:
		ev = VdevStoppedEvent{VdevID: r.u32()}
	case EvtPeerCreateDone:
		ev = PeerCreateDoneEvent{VdevID: r.u32(), MAC: r.mac(), PeerID: r.u32(), Status: r.u32()}
	case EvtPeerDeleteDone:
		ev = PeerDeleteDoneEvent{VdevID: r.u32(), MAC: r.mac(), Status: r.u32()}
	case EvtPeerKickout:
		ev = PeerKickoutEvent{VdevID: r.u32(), MAC: r.mac(), Reason: r.u32()}
	case EvtKeyInstallDone:
		ev = KeyInstallDoneEvent{VdevID: r.u32(), Status: r.u32()}
	case EvtRadarDetected:
		ev = RadarDetectedEvent{FreqMHz: r.u32()}
	}
	if !r.ok {
		return nil, fmt.Errorf("%w: truncated %s payload", ErrDecode, typ)
	}
	return ev, nil
}

// MarshalEvent encodes an event in the variant's wire format. It is the
// inverse of DecodeEvent, used by the simulated firmware and by tests.
func MarshalEvent(v Variant, ev Event) []byte {
	buf := binary.LittleEndian.AppendUint32(nil, wireEventID(v, ev.EventType()))
	u32 := func(x uint32) { buf = binary.LittleEndian.AppendUint32(buf, x) }
	mac := func(m net.HardwareAddr) {
		var b [6]byte
		copy(b[:], m)
		buf = append(buf, b[:]...)
	}

	switch e := ev.(type) {
	case ServiceReadyEvent:
		words := e.Services.Words()
		u32(uint32(len(words)))
		for _, w := range words {
			u32(w)
		}
		u32(e.MaxPeers)
	case ScanEvent:
		u32(e.VdevID)
		u32(e.ScanID)
		u32(e.Type)
		u32(e.Reason)
		u32(e.FreqMHz)
	case MgmtRxEvent:
		u32(e.VdevID)
		u32(e.FreqMHz)
		u32(uint32(e.RSSI))
		buf = append(buf, e.Frame...)
	case VdevStartResponseEvent:
		u32(e.VdevID)
		u32(e.Status)
	case VdevStoppedEvent:
		u32(e.VdevID)
	case PeerCreateDoneEvent:
		u32(e.VdevID)
		mac(e.MAC)
		u32(e.PeerID)
		u32(e.Status)
	case PeerDeleteDoneEvent:
		u32(e.VdevID)
		mac(e.MAC)
		u32(e.Status)
	case PeerKickoutEvent:
		u32(e.VdevID)
		mac(e.MAC)
		u32(e.Reason)
	case KeyInstallDoneEvent:
		u32(e.VdevID)
		u32(e.Status)
	case RadarDetectedEvent:
		u32(e.FreqMHz)
	}
	return buf
}
