package wlan

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
)

var testBSSID = net.HardwareAddr{0x02, 0x1a, 0x2b, 0x3c, 0x4d, 0x5e}

// buildAssocResponse assembles a frame by hand so the parser is tested
// against raw bytes, not against a builder that shares its assumptions.
func buildAssocResponse(status, aid uint16, ies []byte) []byte {
	frame := make([]byte, 24)
	frame[0] = 0x10 // assoc response subtype
	copy(frame[16:22], testBSSID)
	frame = binary.LittleEndian.AppendUint16(frame, 0x0431)
	frame = binary.LittleEndian.AppendUint16(frame, status)
	frame = binary.LittleEndian.AppendUint16(frame, aid)
	return append(frame, ies...)
}

func TestParseAssocResponseBasic(t *testing.T) {
	ies := []byte{1, 4, 0x02, 0x04, 0x0b, 0x16}
	resp, err := ParseAssocResponse(buildAssocResponse(0, 0xc005, ies))
	if err != nil {
		t.Fatalf("ParseAssocResponse: %v", err)
	}
	if !bytes.Equal(resp.BSSID, testBSSID) {
		t.Errorf("BSSID = %s, want %s", resp.BSSID, testBSSID)
	}
	if !resp.Success() {
		t.Errorf("Success() = false, status %d", resp.StatusCode)
	}
	if resp.AssocID != 5 {
		t.Errorf("AssocID = %d, want 5 (reserved bits masked)", resp.AssocID)
	}
	if !bytes.Equal(resp.Rates, []byte{0x02, 0x04, 0x0b, 0x16}) {
		t.Errorf("Rates = %v", resp.Rates)
	}
	if resp.HasHT() {
		t.Error("HasHT() = true without HT element")
	}
}

func TestParseAssocResponseTooShort(t *testing.T) {
	if _, err := ParseAssocResponse(make([]byte, 29)); err == nil {
		t.Error("expected error for 29-byte frame")
	}
}

func TestParseAssocResponseRejection(t *testing.T) {
	resp, err := ParseAssocResponse(buildAssocResponse(17, 0, nil))
	if err != nil {
		t.Fatalf("ParseAssocResponse: %v", err)
	}
	if resp.Success() {
		t.Error("Success() = true for status 17")
	}
}

func TestParseAssocResponseDefaultRates(t *testing.T) {
	// No IEs at all: the parser must still produce a usable rate set.
	resp, err := ParseAssocResponse(buildAssocResponse(0, 0xc001, nil))
	if err != nil {
		t.Fatalf("ParseAssocResponse: %v", err)
	}
	if !bytes.Equal(resp.Rates, DefaultRates) {
		t.Errorf("Rates = %v, want default set %v", resp.Rates, DefaultRates)
	}
}

func TestParseAssocResponseHT(t *testing.T) {
	ht := make([]byte, 26)
	binary.LittleEndian.PutUint16(ht, 0x016e)
	ht[2] = 0x17
	ht[3] = 0xff
	ies := append([]byte{1, 2, 0x0c, 0x12}, append([]byte{45, 26}, ht...)...)

	resp, err := ParseAssocResponse(buildAssocResponse(0, 0xc001, ies))
	if err != nil {
		t.Fatalf("ParseAssocResponse: %v", err)
	}
	if !resp.HasHT() {
		t.Fatal("HasHT() = false")
	}
	if resp.HTCaps.Info != 0x016e {
		t.Errorf("HTCaps.Info = %#x, want 0x016e", resp.HTCaps.Info)
	}
	if resp.HTCaps.MCSSet[0] != 0xff {
		t.Errorf("MCSSet[0] = %#x, want 0xff", resp.HTCaps.MCSSet[0])
	}
}

func TestParseAssocResponseTruncatedElement(t *testing.T) {
	// Rates element parses, then an element claims more bytes than remain.
	// The walk stops there and keeps the rates.
	ies := []byte{1, 2, 0x0c, 0x12, 45, 26, 0x01}
	resp, err := ParseAssocResponse(buildAssocResponse(0, 0xc001, ies))
	if err != nil {
		t.Fatalf("ParseAssocResponse: %v", err)
	}
	if !bytes.Equal(resp.Rates, []byte{0x0c, 0x12}) {
		t.Errorf("Rates = %v, want [0c 12]", resp.Rates)
	}
	if resp.HasHT() {
		t.Error("HasHT() = true from truncated element")
	}
}

func TestSubtypeHelpers(t *testing.T) {
	assoc := buildAssocResponse(0, 0xc001, nil)
	if !IsAssocResponse(assoc) {
		t.Error("IsAssocResponse = false for assoc response")
	}
	if IsBSSReport(assoc) {
		t.Error("IsBSSReport = true for assoc response")
	}

	beacon := buildBeacon("lab")
	if !IsBSSReport(beacon) {
		t.Error("IsBSSReport = false for beacon")
	}
	if IsAssocResponse(beacon) {
		t.Error("IsAssocResponse = true for beacon")
	}

	data := []byte{0x08} // data frame type
	if IsAssocResponse(data) || IsBSSReport(data) {
		t.Error("data frame classified as management")
	}
	if IsAssocResponse(nil) {
		t.Error("IsAssocResponse(nil) = true")
	}
}

func buildBeacon(ssid string) []byte {
	frame := make([]byte, 24)
	frame[0] = 0x80
	copy(frame[16:22], testBSSID)
	frame = append(frame, make([]byte, 12)...) // timestamp + interval + capability
	frame = append(frame, 0, byte(len(ssid)))
	return append(frame, ssid...)
}

func TestParseBSSReport(t *testing.T) {
	info, err := ParseBSSReport(buildBeacon("lab-net"))
	if err != nil {
		t.Fatalf("ParseBSSReport: %v", err)
	}
	if !bytes.Equal(info.BSSID, testBSSID) {
		t.Errorf("BSSID = %s, want %s", info.BSSID, testBSSID)
	}
	if info.SSID != "lab-net" {
		t.Errorf("SSID = %q, want lab-net", info.SSID)
	}
}

func TestParseBSSReportHiddenSSID(t *testing.T) {
	// All-zero SSID bytes mean a hidden network.
	frame := buildBeacon("\x00\x00\x00")
	info, err := ParseBSSReport(frame)
	if err != nil {
		t.Fatalf("ParseBSSReport: %v", err)
	}
	if info.SSID != "" {
		t.Errorf("SSID = %q, want empty for hidden network", info.SSID)
	}
}

func TestParseBSSReportNotBeacon(t *testing.T) {
	if _, err := ParseBSSReport(buildAssocResponse(0, 0, nil)); err == nil {
		t.Error("expected error for non-beacon frame")
	}
}
