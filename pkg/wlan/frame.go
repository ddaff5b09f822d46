package wlan

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
)

// Management-frame constants.
const (
	mgmtHeaderLen = 24
	assocFixedLen = 6 // capability(2) + status(2) + aid(2)
	aidMask       = 0x3fff
	StatusSuccess = 0
)

// Information element tags recognized by the frame parsers. Unknown tags
// are skipped, not rejected.
const (
	ieSSID              = 0
	ieSupportedRates    = 1
	ieExtSupportedRates = 50
	ieHTCapabilities    = 45
	ieHTInformation     = 61
)

// Management frame subtypes, from the frame control field.
const (
	subtypeAssocResponse = 0x01
	subtypeProbeResponse = 0x05
	subtypeBeacon        = 0x08
)

// mgmtSubtype returns the management subtype of frame, or -1 if the frame
// is empty or not a management frame.
func mgmtSubtype(frame []byte) int {
	if len(frame) == 0 || frame[0]&0x0c != 0 {
		return -1
	}
	return int(frame[0]>>4) & 0x0f
}

// IsAssocResponse reports whether frame is an association-response
// management frame.
func IsAssocResponse(frame []byte) bool {
	return mgmtSubtype(frame) == subtypeAssocResponse
}

// IsBSSReport reports whether frame is a beacon or probe response, the two
// frame types that describe a BSS during a scan.
func IsBSSReport(frame []byte) bool {
	st := mgmtSubtype(frame)
	return st == subtypeBeacon || st == subtypeProbeResponse
}

// ErrFrameTooShort is returned when a frame cannot hold the 802.11
// management header and the fixed association fields.
var ErrFrameTooShort = errors.New("wlan: frame too short")

// DefaultRates is the minimal basic rate set used when an association
// response carries no parseable rate IEs. Units of 500 kbps.
var DefaultRates = []byte{0x02, 0x04, 0x0b, 0x16}

// HTCapabilities is the subset of the HT capabilities element the driver
// forwards to firmware.
type HTCapabilities struct {
	Info       uint16
	AMPDUParam uint8
	MCSSet     [16]byte
}

// HTInformation is the subset of the HT information element the driver
// forwards to firmware.
type HTInformation struct {
	PrimaryChannel uint8
	Subset1        uint8
}

// AssocResponse is a parsed association-response management frame.
type AssocResponse struct {
	BSSID      net.HardwareAddr
	StatusCode uint16
	AssocID    uint16
	Rates      []byte
	HTCaps     *HTCapabilities
	HTInfo     *HTInformation
}

// Success reports whether the response's status code indicates a successful
// association.
func (r *AssocResponse) Success() bool { return r.StatusCode == StatusSuccess }

// HasHT reports whether the responder advertised HT support.
func (r *AssocResponse) HasHT() bool { return r.HTCaps != nil }

// ParseAssocResponse parses an association-response frame: the management
// header, the fixed fields, and a tag/length walk over the trailing
// information elements. A truncated or malformed element stops the walk at
// that element; whatever was parsed before it is kept. If no rate element
// survived, Rates falls back to DefaultRates so the caller can always build
// a usable peer rate set.
func ParseAssocResponse(frame []byte) (*AssocResponse, error) {
	if len(frame) < mgmtHeaderLen+assocFixedLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(frame))
	}

	resp := &AssocResponse{
		BSSID:      net.HardwareAddr(append([]byte(nil), frame[16:22]...)), // addr3
		StatusCode: binary.LittleEndian.Uint16(frame[mgmtHeaderLen+2:]),
		AssocID:    binary.LittleEndian.Uint16(frame[mgmtHeaderLen+4:]) & aidMask,
	}

	ies := frame[mgmtHeaderLen+assocFixedLen:]
	var rates []byte
	for len(ies) >= 2 {
		tag, length := ies[0], int(ies[1])
		if length > len(ies)-2 {
			// Truncated element: keep what we have, stop walking.
			break
		}
		val := ies[2 : 2+length]
		switch tag {
		case ieSupportedRates, ieExtSupportedRates:
			rates = append(rates, val...)
		case ieHTCapabilities:
			if length >= 26 {
				caps := &HTCapabilities{
					Info:       binary.LittleEndian.Uint16(val),
					AMPDUParam: val[2],
				}
				copy(caps.MCSSet[:], val[3:19])
				resp.HTCaps = caps
			}
		case ieHTInformation:
			if length >= 22 {
				resp.HTInfo = &HTInformation{
					PrimaryChannel: val[0],
					Subset1:        val[1],
				}
			}
		}
		ies = ies[2+length:]
	}

	if len(rates) == 0 {
		rates = append([]byte(nil), DefaultRates...)
	}
	resp.Rates = rates
	return resp, nil
}

// beaconFixedLen covers timestamp(8) + beacon interval(2) + capability(2).
const beaconFixedLen = 12

// BSSInfo is the identity a beacon or probe response reveals about its BSS.
type BSSInfo struct {
	BSSID net.HardwareAddr
	SSID  string
}

// ParseBSSReport extracts the BSS identity from a beacon or probe-response
// frame. A hidden SSID (zero-length or all-zero SSID element) yields an
// empty string.
func ParseBSSReport(frame []byte) (*BSSInfo, error) {
	if !IsBSSReport(frame) {
		return nil, fmt.Errorf("wlan: not a beacon or probe response")
	}
	if len(frame) < mgmtHeaderLen+beaconFixedLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(frame))
	}

	info := &BSSInfo{
		BSSID: net.HardwareAddr(append([]byte(nil), frame[16:22]...)), // addr3
	}
	ies := frame[mgmtHeaderLen+beaconFixedLen:]
	for len(ies) >= 2 {
		tag, length := ies[0], int(ies[1])
		if length > len(ies)-2 {
			break
		}
		if tag == ieSSID {
			ssid := ies[2 : 2+length]
			if !allZero(ssid) {
				info.SSID = string(ssid)
			}
			break
		}
		ies = ies[2+length:]
	}
	return info, nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
