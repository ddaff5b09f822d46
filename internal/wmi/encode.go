package wmi

import (
	"encoding/binary"
	"net"
)

// Field tags used by the TLV variant. Legacy variants use fixed layouts and
// ignore the tags; the encoder writes fields in declaration order either way,
// so one encode method per parameter struct serves every variant.
const (
	tagVdevID    uint16 = 0x01
	tagRole      uint16 = 0x02
	tagMAC       uint16 = 0x03
	tagFreq      uint16 = 0x04
	tagCF1       uint16 = 0x05
	tagCF2       uint16 = 0x06
	tagPHYMode   uint16 = 0x07
	tagBeaconInt uint16 = 0x08
	tagDTIM      uint16 = 0x09
	tagFlags     uint16 = 0x0a
	tagAssocID   uint16 = 0x0b
	tagPeerType  uint16 = 0x0c
	tagParam     uint16 = 0x0d
	tagValue     uint16 = 0x0e
	tagKeyIndex  uint16 = 0x0f
	tagCipher    uint16 = 0x10
	tagKeyData   uint16 = 0x11
	tagMICLen    uint16 = 0x12
	tagScanID    uint16 = 0x13
	tagChanList  uint16 = 0x14
	tagSSID      uint16 = 0x15
	tagRates     uint16 = 0x16
	tagHTCaps    uint16 = 0x17
	tagMCSSet    uint16 = 0x18
	tagPower     uint16 = 0x19
	tagCountry   uint16 = 0x1a
	tagRegDomain uint16 = 0x1b
	tagDwell     uint16 = 0x1c
	tagHostFlags uint16 = 0x1d
)

// encoder accumulates a command payload. In TLV mode every field is framed
// as (tag:u16, len:u16, value); in fixed mode values are packed back to back
// with u16 length prefixes on variable-length fields only.
type encoder struct {
	tlv bool
	buf []byte
}

func (e *encoder) frame(tag uint16, n int) {
	if !e.tlv {
		return
	}
	e.buf = binary.LittleEndian.AppendUint16(e.buf, tag)
	e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(n))
}

func (e *encoder) u32(tag uint16, v uint32) {
	e.frame(tag, 4)
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *encoder) u16(tag uint16, v uint16) {
	e.frame(tag, 2)
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
}

func (e *encoder) mac(tag uint16, m net.HardwareAddr) {
	e.frame(tag, 6)
	var b [6]byte
	copy(b[:], m)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) bytes(tag uint16, b []byte) {
	e.frame(tag, len(b))
	if !e.tlv {
		e.buf = binary.LittleEndian.AppendUint16(e.buf, uint16(len(b)))
	}
	e.buf = append(e.buf, b...)
}

// Params is implemented by every command parameter struct.
type Params interface {
	appendTo(e *encoder)
}

// VdevCreateParams create a virtual device in firmware.
type VdevCreateParams struct {
	VdevID uint32
	Role   uint32
	MAC    net.HardwareAddr
}

func (p VdevCreateParams) appendTo(e *encoder) {
	e.u32(tagVdevID, p.VdevID)
	e.u32(tagRole, p.Role)
	e.mac(tagMAC, p.MAC)
}

// VdevIDParams cover the commands whose payload is the vdev id alone
// (delete, stop, down).
type VdevIDParams struct {
	VdevID uint32
}

func (p VdevIDParams) appendTo(e *encoder) {
	e.u32(tagVdevID, p.VdevID)
}

// VdevStartParams start or restart a vdev on a channel. The same payload
// shape serves both; the command id distinguishes them.
type VdevStartParams struct {
	VdevID      uint32
	FreqMHz     uint32
	CenterFreq1 uint32
	CenterFreq2 uint32
	PHYMode     uint32
	BeaconIntTU uint32
	DTIMPeriod  uint32
	Passive     bool
	ChanRadar   bool
	MaxPowerDBm uint32
}

func (p VdevStartParams) appendTo(e *encoder) {
	var flags uint32
	if p.Passive {
		flags |= 1 << 0
	}
	if p.ChanRadar {
		flags |= 1 << 1
	}
	e.u32(tagVdevID, p.VdevID)
	e.u32(tagFreq, p.FreqMHz)
	e.u32(tagCF1, p.CenterFreq1)
	e.u32(tagCF2, p.CenterFreq2)
	e.u32(tagPHYMode, p.PHYMode)
	e.u32(tagBeaconInt, p.BeaconIntTU)
	e.u32(tagDTIM, p.DTIMPeriod)
	e.u32(tagFlags, flags)
	e.u32(tagPower, p.MaxPowerDBm)
}

// VdevUpParams bring a started vdev up with its association identity.
type VdevUpParams struct {
	VdevID  uint32
	AssocID uint32
	BSSID   net.HardwareAddr
}

func (p VdevUpParams) appendTo(e *encoder) {
	e.u32(tagVdevID, p.VdevID)
	e.u32(tagAssocID, p.AssocID)
	e.mac(tagMAC, p.BSSID)
}

// PeerCreateParams create a firmware peer entry.
type PeerCreateParams struct {
	VdevID   uint32
	MAC      net.HardwareAddr
	PeerType uint32
}

func (p PeerCreateParams) appendTo(e *encoder) {
	e.u32(tagVdevID, p.VdevID)
	e.mac(tagMAC, p.MAC)
	e.u32(tagPeerType, p.PeerType)
}

// PeerDeleteParams delete a firmware peer entry.
type PeerDeleteParams struct {
	VdevID uint32
	MAC    net.HardwareAddr
}

func (p PeerDeleteParams) appendTo(e *encoder) {
	e.u32(tagVdevID, p.VdevID)
	e.mac(tagMAC, p.MAC)
}

// Peer-association capability flags.
const (
	PeerFlagQoS = 1 << 0
	PeerFlagHT  = 1 << 1
	PeerFlagVHT = 1 << 2
)

// PeerAssocParams push the negotiated association state for a peer in one
// command.
type PeerAssocParams struct {
	VdevID  uint32
	MAC     net.HardwareAddr
	AssocID uint32
	Flags   uint32
	PHYMode uint32
	Rates   []byte
	HTCaps  uint16
	MCSSet  [16]byte
}

func (p PeerAssocParams) appendTo(e *encoder) {
	e.u32(tagVdevID, p.VdevID)
	e.mac(tagMAC, p.MAC)
	e.u32(tagAssocID, p.AssocID)
	e.u32(tagFlags, p.Flags)
	e.u32(tagPHYMode, p.PHYMode)
	e.bytes(tagRates, p.Rates)
	e.u16(tagHTCaps, p.HTCaps)
	e.bytes(tagMCSSet, p.MCSSet[:])
}

// PeerSetParamParams poke a single per-peer firmware parameter.
type PeerSetParamParams struct {
	VdevID uint32
	MAC    net.HardwareAddr
	Param  uint32
	Value  uint32
}

func (p PeerSetParamParams) appendTo(e *encoder) {
	e.u32(tagVdevID, p.VdevID)
	e.mac(tagMAC, p.MAC)
	e.u32(tagParam, p.Param)
	e.u32(tagValue, p.Value)
}

// KeyInstallParams install one cipher key for a peer.
type KeyInstallParams struct {
	VdevID   uint32
	MAC      net.HardwareAddr
	KeyIndex uint32
	Cipher   uint32
	Flags    uint32
	Material []byte
	TxMICLen uint32
	RxMICLen uint32
}

func (p KeyInstallParams) appendTo(e *encoder) {
	e.u32(tagVdevID, p.VdevID)
	e.mac(tagMAC, p.MAC)
	e.u32(tagKeyIndex, p.KeyIndex)
	e.u32(tagCipher, p.Cipher)
	e.u32(tagFlags, p.Flags)
	e.u32(tagMICLen, p.TxMICLen<<16|p.RxMICLen)
	e.bytes(tagKeyData, p.Material)
}

// ScanStartParams begin a scan session.
type ScanStartParams struct {
	VdevID   uint32
	ScanID   uint32
	FreqsMHz []uint32
	SSIDs    [][]byte
	DwellMs  uint32
}

func (p ScanStartParams) appendTo(e *encoder) {
	e.u32(tagVdevID, p.VdevID)
	e.u32(tagScanID, p.ScanID)
	e.u32(tagDwell, p.DwellMs)
	chans := make([]byte, 0, 4*len(p.FreqsMHz))
	for _, f := range p.FreqsMHz {
		chans = binary.LittleEndian.AppendUint32(chans, f)
	}
	e.bytes(tagChanList, chans)
	for _, ssid := range p.SSIDs {
		e.bytes(tagSSID, ssid)
	}
}

// ScanStopParams cancel the scan session.
type ScanStopParams struct {
	VdevID uint32
	ScanID uint32
}

func (p ScanStopParams) appendTo(e *encoder) {
	e.u32(tagVdevID, p.VdevID)
	e.u32(tagScanID, p.ScanID)
}

// SetTxPowerParams set a vdev's transmit-power ceiling.
type SetTxPowerParams struct {
	VdevID   uint32
	PowerDBm uint32
}

func (p SetTxPowerParams) appendTo(e *encoder) {
	e.u32(tagVdevID, p.VdevID)
	e.u32(tagPower, p.PowerDBm)
}

// SetRegDomainParams switch the regulatory domain.
type SetRegDomainParams struct {
	Country   uint16
	RegDomain uint32
}

func (p SetRegDomainParams) appendTo(e *encoder) {
	e.u16(tagCountry, p.Country)
	e.u32(tagRegDomain, p.RegDomain)
}

// ExtResourceConfigParams configure extended host resources (10.4/TLV only,
// gated on ServiceExtResourceConfig).
type ExtResourceConfigParams struct {
	HostPlatform  uint32
	FeatureBitmap uint32
}

func (p ExtResourceConfigParams) appendTo(e *encoder) {
	e.u32(tagHostFlags, p.HostPlatform)
	e.u32(tagFlags, p.FeatureBitmap)
}
