package testutil

import (
	"encoding/binary"
	"net"
)

// MAC returns a deterministic test MAC address ending in the given byte.
func MAC(last byte) net.HardwareAddr {
	return net.HardwareAddr{0x02, 0xaa, 0xbb, 0xcc, 0xdd, last}
}

// assocFrame holds the knobs of a generated association-response frame.
type assocFrame struct {
	status uint16
	aid    uint16
	rates  []byte
	withHT bool
}

// AssocResponseFrame builds a minimal association-response management frame
// from the given BSS, suitable for feeding through the management-frame
// parser. Override individual fields with the With options.
func AssocResponseFrame(bssid net.HardwareAddr, opts ...func(*assocFrame)) []byte {
	f := assocFrame{
		status: 0,
		aid:    0xc001, // AID 1 with the two reserved high bits set
		rates:  []byte{0x02, 0x04, 0x0b, 0x16},
	}
	for _, opt := range opts {
		opt(&f)
	}

	frame := make([]byte, 24)
	frame[0] = 0x10 // management / assoc response
	copy(frame[16:22], bssid)
	frame = binary.LittleEndian.AppendUint16(frame, 0x0431) // capability
	frame = binary.LittleEndian.AppendUint16(frame, f.status)
	frame = binary.LittleEndian.AppendUint16(frame, f.aid)

	if len(f.rates) > 0 {
		frame = append(frame, 1, byte(len(f.rates)))
		frame = append(frame, f.rates...)
	}
	if f.withHT {
		ht := make([]byte, 26)
		binary.LittleEndian.PutUint16(ht, 0x016e) // HT caps info
		ht[2] = 0x17                              // A-MPDU parameters
		ht[3] = 0xff                              // MCS 0-7
		frame = append(frame, 45, byte(len(ht)))
		frame = append(frame, ht...)
	}
	return frame
}

// WithStatus sets the association status code.
func WithStatus(status uint16) func(*assocFrame) {
	return func(f *assocFrame) { f.status = status }
}

// WithAID sets the raw association id field.
func WithAID(aid uint16) func(*assocFrame) {
	return func(f *assocFrame) { f.aid = aid }
}

// WithRates sets the supported-rates element contents. Empty drops the
// element entirely.
func WithRates(rates ...byte) func(*assocFrame) {
	return func(f *assocFrame) { f.rates = rates }
}

// WithHT appends an HT capabilities element.
func WithHT() func(*assocFrame) {
	return func(f *assocFrame) { f.withHT = true }
}

// BeaconFrame builds a minimal beacon frame announcing the given BSS.
func BeaconFrame(bssid net.HardwareAddr, ssid string) []byte {
	frame := make([]byte, 24)
	frame[0] = 0x80 // management / beacon
	copy(frame[16:22], bssid)
	frame = append(frame, make([]byte, 8)...)               // timestamp
	frame = binary.LittleEndian.AppendUint16(frame, 100)    // beacon interval
	frame = binary.LittleEndian.AppendUint16(frame, 0x0431) // capability
	frame = append(frame, 0, byte(len(ssid)))
	frame = append(frame, ssid...)
	return frame
}
