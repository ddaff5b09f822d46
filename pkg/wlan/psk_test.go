package wlan

import (
	"encoding/hex"
	"testing"
)

// Reference vectors from IEEE 802.11i Annex H.
func TestPSKVectors(t *testing.T) {
	tests := []struct {
		ssid       string
		passphrase string
		want       string
	}{
		{
			ssid:       "IEEE",
			passphrase: "password",
			want:       "f42c6fc52df0ebef9ebb4b90b38a5f902e83fe1b135a70e23aed762e9710a12e",
		},
		{
			ssid:       "ThisIsASSID",
			passphrase: "ThisIsAPassword",
			want:       "0dc0d6eb90555ed6419756b9a15ec3e3209b63df707dd508d14581f8982721af",
		},
	}
	for _, tt := range tests {
		t.Run(tt.ssid, func(t *testing.T) {
			got, err := PSK(tt.ssid, tt.passphrase)
			if err != nil {
				t.Fatalf("PSK: %v", err)
			}
			if hex.EncodeToString(got) != tt.want {
				t.Errorf("PSK(%q, %q) = %x, want %s", tt.ssid, tt.passphrase, got, tt.want)
			}
		})
	}
}

func TestPSKPassphraseBounds(t *testing.T) {
	if _, err := PSK("net", "short"); err == nil {
		t.Error("expected error for 5-character passphrase")
	}
	long := make([]byte, 64)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := PSK("net", string(long)); err == nil {
		t.Error("expected error for 64-character passphrase")
	}
	if _, err := PSK("net", "12345678"); err != nil {
		t.Errorf("8-character passphrase rejected: %v", err)
	}
}
