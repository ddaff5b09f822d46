package wlan

import "fmt"

// Cipher identifies a pairwise or group cipher suite.
type Cipher int

const (
	CipherNone Cipher = iota
	CipherWEP40
	CipherWEP104
	CipherTKIP
	CipherCCMP
	CipherCCMP256
	CipherGCMP
	CipherGCMP256
	// CipherAESCMAC and the BIP variants are management-frame integrity
	// ciphers. Firmware handles MFP internally; the host never installs
	// these and the key registry rejects them.
	CipherAESCMAC
	CipherBIPGMAC128
	CipherBIPGMAC256
)

// String returns the string representation of a Cipher.
func (c Cipher) String() string {
	switch c {
	case CipherNone:
		return "none"
	case CipherWEP40:
		return "WEP-40"
	case CipherWEP104:
		return "WEP-104"
	case CipherTKIP:
		return "TKIP"
	case CipherCCMP:
		return "CCMP"
	case CipherCCMP256:
		return "CCMP-256"
	case CipherGCMP:
		return "GCMP"
	case CipherGCMP256:
		return "GCMP-256"
	case CipherAESCMAC:
		return "AES-CMAC"
	case CipherBIPGMAC128:
		return "BIP-GMAC-128"
	case CipherBIPGMAC256:
		return "BIP-GMAC-256"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// ManagementOnly reports whether the cipher protects management frames only.
// These are never installed through the key registry.
func (c Cipher) ManagementOnly() bool {
	switch c {
	case CipherAESCMAC, CipherBIPGMAC128, CipherBIPGMAC256:
		return true
	}
	return false
}

// WEP reports whether the cipher is one of the WEP variants, which use
// shared default-key slots rather than pairwise keys.
func (c Cipher) WEP() bool {
	return c == CipherWEP40 || c == CipherWEP104
}

// KeyFlags carry the direction/usage bits of an installed key.
type KeyFlags uint32

const (
	KeyFlagPairwise KeyFlags = 1 << 0
	KeyFlagGroup    KeyFlags = 1 << 1
	KeyFlagTxUsage  KeyFlags = 1 << 2
)

// MaxKeyIndex is the highest valid key index; WEP uses slots 0-3 and RSN
// group keys use 1-3.
const MaxKeyIndex = 3

// Key is one cipher key as supplied by the caller.
type Key struct {
	Cipher   Cipher
	Index    int
	Material []byte
	Flags    KeyFlags
}
