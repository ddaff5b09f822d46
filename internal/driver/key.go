package driver

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/tmorgen/airvane/internal/completion"
	"github.com/tmorgen/airvane/internal/wmi"
	"github.com/tmorgen/airvane/pkg/wlan"
)

// Wire cipher ids shared by every variant's key-install payload.
const (
	wireCipherNone    = 0
	wireCipherWEP     = 1
	wireCipherTKIP    = 2
	wireCipherCCMP    = 3
	wireCipherCCMP256 = 7
	wireCipherGCMP    = 8
	wireCipherGCMP256 = 9
)

// TKIP carries an 8-byte Michael MIC in each direction.
const tkipMICLen = 8

// wireCipher maps a cipher suite to its wire id. ok is false for suites
// the firmware cannot install.
func wireCipher(c wlan.Cipher) (uint32, bool) {
	switch c {
	case wlan.CipherNone:
		return wireCipherNone, true
	case wlan.CipherWEP40, wlan.CipherWEP104:
		return wireCipherWEP, true
	case wlan.CipherTKIP:
		return wireCipherTKIP, true
	case wlan.CipherCCMP:
		return wireCipherCCMP, true
	case wlan.CipherCCMP256:
		return wireCipherCCMP256, true
	case wlan.CipherGCMP:
		return wireCipherGCMP, true
	case wlan.CipherGCMP256:
		return wireCipherGCMP256, true
	default:
		return 0, false
	}
}

// InstallKey installs one cipher key for a peer, blocking on the key-install
// completion. Management-frame integrity ciphers are rejected host-side;
// firmware handles MFP internally. A raw-crypto vdev short-circuits before
// any wire exchange.
func (d *Device) InstallKey(ctx context.Context, vdevID int, mac net.HardwareAddr, key wlan.Key) error {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	v, ok := d.vdevs[vdevID]
	if !ok {
		return fmt.Errorf("%w: vdev %d", ErrNotFound, vdevID)
	}
	if v.rawCrypto {
		return fmt.Errorf("%w: vdev %d uses software crypto", ErrNotSupported, vdevID)
	}
	if key.Cipher.ManagementOnly() {
		return fmt.Errorf("%w: %s is a management-frame cipher", ErrInvalidArgument, key.Cipher)
	}
	if key.Index < 0 || key.Index > wlan.MaxKeyIndex {
		return fmt.Errorf("%w: key index %d", ErrInvalidArgument, key.Index)
	}
	cipher, ok := wireCipher(key.Cipher)
	if !ok {
		return fmt.Errorf("%w: cipher %s", ErrNotSupported, key.Cipher)
	}

	d.dataMu.Lock()
	p := d.peers.lookup(vdevID, mac)
	d.dataMu.Unlock()
	if p == nil {
		return fmt.Errorf("%w: peer %s on vdev %d", ErrNotFound, mac, vdevID)
	}

	params := wmi.KeyInstallParams{
		VdevID:   uint32(vdevID),
		MAC:      mac,
		KeyIndex: uint32(key.Index),
		Cipher:   cipher,
		Flags:    uint32(key.Flags),
		Material: key.Material,
	}
	if key.Cipher == wlan.CipherTKIP {
		params.TxMICLen = tkipMICLen
		params.RxMICLen = tkipMICLen
	}

	c, err := d.completions.Begin(completion.Tag{VdevID: vdevID, Kind: completion.KindKeyInstall})
	if err != nil {
		return err
	}
	if err := d.bridge.Send(wmi.OpKeyInstall, params); err != nil {
		d.completions.Abandon(c)
		return err
	}
	if err := d.wait(ctx, c, wmi.OpKeyInstall, d.timeouts.KeyInstall); err != nil {
		return err
	}

	k := key
	k.Material = append([]byte(nil), key.Material...)
	d.dataMu.Lock()
	p.keys[key.Index] = &k
	d.dataMu.Unlock()
	if (key.Cipher == wlan.CipherWEP40 || key.Cipher == wlan.CipherWEP104) &&
		key.Flags&wlan.KeyFlagTxUsage != 0 {
		// WEP transmits with a default key slot rather than a per-peer key.
		v.defKeyIndex = key.Index
	}
	d.logger.Info("key installed", zap.Int("vdev", vdevID),
		zap.String("mac", mac.String()), zap.Stringer("cipher", key.Cipher),
		zap.Int("index", key.Index))
	return nil
}

// RemoveKey clears a key slot by installing a none-cipher key over it.
func (d *Device) RemoveKey(ctx context.Context, vdevID int, mac net.HardwareAddr, index int) error {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	v, ok := d.vdevs[vdevID]
	if !ok {
		return fmt.Errorf("%w: vdev %d", ErrNotFound, vdevID)
	}
	if index < 0 || index > wlan.MaxKeyIndex {
		return fmt.Errorf("%w: key index %d", ErrInvalidArgument, index)
	}
	d.dataMu.Lock()
	p := d.peers.lookup(vdevID, mac)
	d.dataMu.Unlock()
	if p == nil {
		return fmt.Errorf("%w: peer %s on vdev %d", ErrNotFound, mac, vdevID)
	}

	c, err := d.completions.Begin(completion.Tag{VdevID: vdevID, Kind: completion.KindKeyInstall})
	if err != nil {
		return err
	}
	if err := d.bridge.Send(wmi.OpKeyInstall, wmi.KeyInstallParams{
		VdevID:   uint32(vdevID),
		MAC:      mac,
		KeyIndex: uint32(index),
		Cipher:   wireCipherNone,
	}); err != nil {
		d.completions.Abandon(c)
		return err
	}
	if err := d.wait(ctx, c, wmi.OpKeyInstall, d.timeouts.KeyInstall); err != nil {
		return err
	}

	d.dataMu.Lock()
	p.keys[index] = nil
	d.dataMu.Unlock()
	if v.defKeyIndex == index {
		v.defKeyIndex = -1
	}
	d.logger.Info("key removed", zap.Int("vdev", vdevID),
		zap.String("mac", mac.String()), zap.Int("index", index))
	return nil
}
