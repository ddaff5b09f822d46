package wlan

import (
	"crypto/sha1"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Passphrase length bounds from IEEE 802.11i Annex H.
const (
	minPassphraseLen = 8
	maxPassphraseLen = 63
)

var errPassphraseLen = errors.New("wlan: passphrase must be 8-63 characters")

// PSK derives the 256-bit WPA pairwise master key from an SSID and
// passphrase (PBKDF2-SHA1, 4096 iterations).
func PSK(ssid string, passphrase string) ([]byte, error) {
	if len(passphrase) < minPassphraseLen || len(passphrase) > maxPassphraseLen {
		return nil, fmt.Errorf("%w: got %d", errPassphraseLen, len(passphrase))
	}
	return pbkdf2.Key([]byte(passphrase), []byte(ssid), 4096, 32, sha1.New), nil
}
