package wlan

import "fmt"

// VdevRole is the operating mode of a virtual device.
type VdevRole int

const (
	// RoleUnspecified indicates the role has not been set.
	RoleUnspecified VdevRole = iota

	// RoleClient is a managed station associating to an access point.
	RoleClient

	// RoleAP is an access point hosting a BSS.
	RoleAP

	// RoleIBSS is a member of an independent (ad-hoc) BSS.
	RoleIBSS

	// RoleMonitor is a promiscuous capture interface.
	RoleMonitor
)

// String returns the string representation of a VdevRole.
func (r VdevRole) String() string {
	switch r {
	case RoleUnspecified:
		return "unspecified"
	case RoleClient:
		return "client"
	case RoleAP:
		return "access point"
	case RoleIBSS:
		return "ad-hoc"
	case RoleMonitor:
		return "monitor"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// PeerType distinguishes the kinds of firmware link endpoints.
type PeerType int

const (
	// PeerDefault is the self peer created alongside a vdev.
	PeerDefault PeerType = iota

	// PeerBSS represents the access point in client mode.
	PeerBSS

	// PeerStation is an associated station in AP mode.
	PeerStation
)

// String returns the string representation of a PeerType.
func (t PeerType) String() string {
	switch t {
	case PeerDefault:
		return "default"
	case PeerBSS:
		return "bss"
	case PeerStation:
		return "station"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}
