package driver

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/tmorgen/airvane/internal/wmi"
	"github.com/tmorgen/airvane/pkg/wlan"
)

// monitorMAC is the locally-administered address of the derived monitor
// vdev. It never appears on air; monitor vdevs only receive.
var monitorMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x0f}

// monitorNeededLocked derives whether a monitor vdev should exist. The
// monitor is never requested directly; it follows the promiscuous flag and
// any running channel-availability check.
func (d *Device) monitorNeededLocked() bool {
	return d.promiscuous || d.cacVdevID >= 0
}

// recalcMonitorLocked converges the monitor vdev onto the derived need. It
// is idempotent and runs after every operation that can change the inputs:
// promiscuous toggles, vdev starts and stops, CAC transitions.
func (d *Device) recalcMonitorLocked() error {
	needed := d.monitorNeededLocked()

	switch {
	case needed && d.monitorVdev == nil:
		id, err := d.createVdevLocked(wlan.RoleMonitor, monitorMAC)
		if err != nil {
			return fmt.Errorf("monitor vdev create: %w", err)
		}
		d.monitorVdev = d.vdevs[id]
		return d.monitorConvergeStartLocked()

	case needed:
		return d.monitorConvergeStartLocked()

	case !needed && d.monitorVdev != nil:
		return d.monitorTeardownLocked()
	}
	return nil
}

// monitorConvergeStartLocked starts the monitor vdev if a capture channel is
// known. A CAC monitor is started explicitly by StartCAC on the channel
// under test; this path only serves promiscuous capture, which follows the
// channel of the first started vdev. No started vdev means nothing to
// capture yet, so a created-but-idle monitor is the converged state.
func (d *Device) monitorConvergeStartLocked() error {
	m := d.monitorVdev
	if m == nil || m.state == StateStarted || m.state == StateUp || m.cac {
		return nil
	}
	desc := d.activeChannelLocked()
	if desc == nil {
		return nil
	}
	if err := d.startVdevOnChannelLocked(context.Background(), m, *desc, false); err != nil {
		return fmt.Errorf("monitor vdev start: %w", err)
	}
	return nil
}

// activeChannelLocked returns the channel of any started non-monitor vdev.
func (d *Device) activeChannelLocked() *wlan.ChannelDesc {
	for _, v := range d.vdevs {
		if v == d.monitorVdev {
			continue
		}
		if (v.state == StateStarted || v.state == StateUp) && v.chanDesc != nil {
			return v.chanDesc
		}
	}
	return nil
}

// monitorTeardownLocked stops and deletes the monitor vdev. It deliberately
// bypasses deleteVdevLocked, which would re-enter the recalculation.
func (d *Device) monitorTeardownLocked() error {
	m := d.monitorVdev
	if m.state == StateStarted || m.state == StateUp {
		if err := d.stopVdevLocked(context.Background(), m); err != nil {
			d.logger.Warn("monitor vdev stop failed, deleting anyway",
				zap.Int("vdev", m.id), zap.Error(err))
		}
	}
	if err := d.bridge.Send(wmi.OpVdevDelete, wmi.VdevIDParams{VdevID: uint32(m.id)}); err != nil {
		return fmt.Errorf("monitor vdev delete: %w", err)
	}
	m.state = StateDeleted
	d.dataMu.Lock()
	delete(d.vdevs, m.id)
	d.dataMu.Unlock()
	d.freeVdevIDLocked(m.id)
	d.monitorVdev = nil
	d.logger.Info("monitor vdev removed", zap.Int("vdev", m.id))
	return nil
}

// StartCAC begins a channel-availability check on a radar-required channel:
// a monitor vdev listens passively on the channel so radar events can arrive
// before any transmission. A start failure is treated exactly like a radar
// detection and blocks the channel; an uncheckable channel must never be
// assumed clear.
func (d *Device) StartCAC(ctx context.Context, channel int, width wlan.ChannelWidth) error {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	if d.cacVdevID >= 0 {
		return fmt.Errorf("%w: CAC already running on vdev %d", ErrBusy, d.cacVdevID)
	}

	desc, err := d.resolveChannelLocked(channel, width)
	if err != nil {
		return err
	}
	if !desc.Channel.Radar() {
		return fmt.Errorf("%w: channel %d does not require CAC", ErrInvalidArgument, channel)
	}

	if d.monitorVdev == nil {
		id, err := d.createVdevLocked(wlan.RoleMonitor, monitorMAC)
		if err != nil {
			return err
		}
		d.monitorVdev = d.vdevs[id]
	}
	m := d.monitorVdev
	m.cac = true
	d.cacVdevID = m.id

	if err := d.startVdevOnChannelLocked(ctx, m, desc, false); err != nil {
		d.logger.Warn("CAC start failed, blocking channel",
			zap.Int("channel", channel), zap.Error(err))
		d.blockChannel(channel)
		m.cac = false
		d.cacVdevID = -1
		if rerr := d.recalcMonitorLocked(); rerr != nil {
			d.logger.Warn("monitor recalc after failed CAC", zap.Error(rerr))
		}
		return fmt.Errorf("%w: channel %d failed availability check", ErrChannelUnavailable, channel)
	}

	d.logger.Info("CAC started", zap.Int("vdev", m.id), zap.Int("channel", channel))
	return nil
}

// FinishCAC ends the channel-availability check. The caller owns the CAC
// timer; a check that saw no radar event for the regulatory interval passes,
// and the channel stays usable.
func (d *Device) FinishCAC(ctx context.Context) error {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	if d.cacVdevID < 0 {
		return fmt.Errorf("%w: no CAC running", ErrInvalidState)
	}

	m := d.monitorVdev
	if m != nil && (m.state == StateStarted || m.state == StateUp) {
		if err := d.stopVdevLocked(ctx, m); err != nil {
			d.logger.Warn("CAC monitor stop failed", zap.Int("vdev", m.id), zap.Error(err))
		}
	}
	if m != nil {
		m.cac = false
	}
	id := d.cacVdevID
	d.cacVdevID = -1
	d.logger.Info("CAC finished", zap.Int("vdev", id))
	return d.recalcMonitorLocked()
}

// blockChannel marks a channel unusable until the next regulatory
// re-evaluation.
func (d *Device) blockChannel(channel int) {
	d.dataMu.Lock()
	d.blockedChannels[channel] = time.Now()
	d.dataMu.Unlock()
}
