package driver

import (
	"bytes"
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/tmorgen/airvane/internal/wmi"
	"github.com/tmorgen/airvane/pkg/wlan"
)

// assocFrameBacklog bounds the frames queued for the coordinator; anything
// beyond it is stale by the time it would be examined.
const assocFrameBacklog = 4

// Firmware peer parameter poked after bring-up; some firmware revisions
// leave the peer's power-save state machine stuck until any per-peer
// parameter write lands.
const peerParamDummyPSPoke = 0x1

// BeginAssociation arms the association coordinator for a client vdev: a
// goroutine waits, with no deadline of its own, for an association-response
// frame from the target BSS and drives the join sequence when one arrives.
// The returned channel closes when an association completes; the wait is
// bounded only by the caller's connection-attempt policy.
func (d *Device) BeginAssociation(vdevID int, targetBSSID net.HardwareAddr, ssid string) (<-chan struct{}, error) {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return nil, err
	}
	v, ok := d.vdevs[vdevID]
	if !ok {
		return nil, fmt.Errorf("%w: vdev %d", ErrNotFound, vdevID)
	}
	if v.role != wlan.RoleClient {
		return nil, fmt.Errorf("%w: vdev %d is %s, not a client", ErrInvalidState, vdevID, v.role)
	}
	if v.state != StateStarted {
		return nil, fmt.Errorf("%w: vdev %d is %s, not started", ErrInvalidState, vdevID, v.state)
	}
	if v.assocFrames != nil {
		return nil, fmt.Errorf("%w: association already in progress on vdev %d", ErrInvalidState, vdevID)
	}

	frames := make(chan []byte, assocFrameBacklog)
	cancel := make(chan struct{})
	done := make(chan struct{})

	d.dataMu.Lock()
	v.assocFrames = frames
	v.assocCancel = cancel
	v.targetBSSID = append(net.HardwareAddr(nil), targetBSSID...)
	v.targetSSID = ssid
	d.dataMu.Unlock()

	go d.assocLoop(v, frames, cancel, done, targetBSSID)
	d.logger.Info("association armed", zap.Int("vdev", vdevID),
		zap.String("bssid", targetBSSID.String()), zap.String("ssid", ssid))
	return done, nil
}

// CancelAssociation disarms the coordinator. Harmless if none is armed.
func (d *Device) CancelAssociation(vdevID int) error {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	v, ok := d.vdevs[vdevID]
	if !ok {
		return fmt.Errorf("%w: vdev %d", ErrNotFound, vdevID)
	}
	d.stopAssociationLocked(v)
	return nil
}

// stopAssociationLocked tears down the coordinator goroutine. Configuration
// lock held.
func (d *Device) stopAssociationLocked(v *Vdev) {
	if v.assocCancel == nil {
		return
	}
	close(v.assocCancel)
	d.dataMu.Lock()
	v.assocFrames = nil
	v.assocCancel = nil
	v.targetBSSID = nil
	v.targetSSID = ""
	d.dataMu.Unlock()
}

// assocLoop is the coordinator: it re-enters the join sequence for every
// candidate frame until one succeeds or the association is cancelled.
// Frames from the wrong BSSID or with a failure status are unsolicited or
// stale, not errors; they are discarded and the wait resumes.
func (d *Device) assocLoop(v *Vdev, frames <-chan []byte, cancel <-chan struct{}, done chan<- struct{}, target net.HardwareAddr) {
	for {
		select {
		case <-cancel:
			return
		case frame := <-frames:
			resp, err := wlan.ParseAssocResponse(frame)
			if err != nil {
				d.logger.Warn("dropping unparseable association response",
					zap.Int("vdev", v.id), zap.Error(err))
				continue
			}
			if !bytes.Equal(resp.BSSID, target) {
				d.logger.Debug("association response from wrong BSSID",
					zap.Int("vdev", v.id), zap.String("bssid", resp.BSSID.String()))
				continue
			}
			if !resp.Success() {
				d.logger.Warn("association rejected",
					zap.Int("vdev", v.id), zap.Uint16("status", resp.StatusCode))
				continue
			}
			if d.completeAssociation(v, resp) {
				close(done)
				return
			}
		}
	}
}

// completeAssociation runs steps 4-7 of the join sequence under the
// configuration lock: create the BSS peer, push the negotiated parameters,
// bring the vdev up, and apply the power-save poke. A false return sends
// the coordinator back to waiting.
func (d *Device) completeAssociation(v *Vdev, resp *wlan.AssocResponse) bool {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if d.closed || v.assocFrames == nil || v.state != StateStarted {
		return false
	}

	ctx := context.Background()
	if err := d.createPeerLocked(ctx, v.id, resp.BSSID, wlan.PeerBSS); err != nil {
		d.logger.Warn("BSS peer create failed, resuming wait",
			zap.Int("vdev", v.id), zap.Error(err))
		return false
	}

	if err := d.pushPeerAssocLocked(v, resp); err != nil {
		d.logger.Warn("peer assoc push failed",
			zap.Int("vdev", v.id), zap.Error(err))
		d.rollbackBSSPeerLocked(v, resp.BSSID)
		return false
	}

	if err := d.upVdevLocked(v, resp.AssocID, resp.BSSID); err != nil {
		d.logger.Warn("vdev up failed after association",
			zap.Int("vdev", v.id), zap.Error(err))
		d.rollbackBSSPeerLocked(v, resp.BSSID)
		return false
	}

	d.pokePeerPowerSaveLocked(v.id, resp.BSSID)
	d.stopAssociationLocked(v)
	d.logger.Info("associated", zap.Int("vdev", v.id),
		zap.String("bssid", resp.BSSID.String()), zap.Uint16("assoc_id", resp.AssocID))
	return true
}

// pushPeerAssocLocked sends the accumulated association parameters as one
// peer-assoc command.
func (d *Device) pushPeerAssocLocked(v *Vdev, resp *wlan.AssocResponse) error {
	var flags uint32
	params := wmi.PeerAssocParams{
		VdevID:  uint32(v.id),
		MAC:     resp.BSSID,
		AssocID: uint32(resp.AssocID),
		Rates:   resp.Rates,
	}
	ht := resp.HasHT()
	if ht {
		flags |= wmi.PeerFlagHT | wmi.PeerFlagQoS
		params.HTCaps = resp.HTCaps.Info
		params.MCSSet = resp.HTCaps.MCSSet
	}
	params.Flags = flags

	desc := wlan.ChannelDesc{Width: wlan.CBW20}
	if v.chanDesc != nil {
		desc = *v.chanDesc
	}
	params.PHYMode = uint32(wlan.DerivePHYMode(desc, ht, false, false))

	return d.bridge.Send(wmi.OpPeerAssoc, params)
}

// rollbackBSSPeerLocked undoes a half-completed association attempt.
func (d *Device) rollbackBSSPeerLocked(v *Vdev, bssid net.HardwareAddr) {
	if err := d.deletePeerLocked(context.Background(), v.id, bssid); err != nil {
		d.logger.Warn("BSS peer rollback failed", zap.Int("vdev", v.id), zap.Error(err))
	}
}

// pokePeerPowerSaveLocked is the named firmware workaround: a dummy
// per-peer parameter write that unsticks the buggy power-save state machine
// of some firmware revisions. Gated on the firmware advertising the quirk.
func (d *Device) pokePeerPowerSaveLocked(vdevID int, mac net.HardwareAddr) {
	if !d.bridge.Services().Has(wmi.ServiceStaPSWorkaround) {
		return
	}
	if err := d.bridge.Send(wmi.OpPeerSetParam, wmi.PeerSetParamParams{
		VdevID: uint32(vdevID),
		MAC:    mac,
		Param:  peerParamDummyPSPoke,
		Value:  0,
	}); err != nil {
		d.logger.Warn("power-save poke failed", zap.Int("vdev", vdevID), zap.Error(err))
	}
}

// Disassociate inverts the join sequence: delete the BSS peer, bring the
// vdev down. Calling it while not associated returns ErrInvalidState, so a
// second call is a detectable no-op rather than a re-issued command train.
func (d *Device) Disassociate(ctx context.Context, vdevID int) error {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	v, ok := d.vdevs[vdevID]
	if !ok {
		return fmt.Errorf("%w: vdev %d", ErrNotFound, vdevID)
	}
	if v.state != StateUp {
		return fmt.Errorf("%w: vdev %d is %s, not associated", ErrInvalidState, vdevID, v.state)
	}

	bssid := v.bssid
	if err := d.deletePeerLocked(ctx, vdevID, bssid); err != nil {
		d.logger.Warn("BSS peer delete on disassociate failed",
			zap.Int("vdev", vdevID), zap.Error(err))
	}
	if err := d.downVdevLocked(v); err != nil {
		return err
	}
	v.bssid = nil
	d.logger.Info("disassociated", zap.Int("vdev", vdevID))
	return nil
}

// mgmtFrameReceived routes management frames from the event path: frames
// for an arming client vdev feed the association coordinator; beacons and
// probe responses seen during a scan feed the survey.
func (d *Device) mgmtFrameReceived(e wmi.MgmtRxEvent) {
	d.dataMu.Lock()
	v := d.vdevs[int(e.VdevID)]
	var frames chan []byte
	if v != nil {
		frames = v.assocFrames
	}
	scanning := d.scan.state == ScanRunning
	surveyID := d.scan.surveyID
	d.dataMu.Unlock()

	if frames != nil && wlan.IsAssocResponse(e.Frame) {
		select {
		case frames <- e.Frame:
		default:
			d.logger.Debug("association frame backlog full, dropping",
				zap.Uint32("vdev", e.VdevID))
		}
		return
	}

	if scanning && surveyID != "" && wlan.IsBSSReport(e.Frame) {
		d.recordScanSighting(surveyID, e)
	}
}
