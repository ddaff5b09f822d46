// Package driver is the control-plane core for one radio: the vdev
// lifecycle state machine, the peer/key registry, the association
// coordinator, and the scan controller, all driven through the WMI bridge
// and its completion registry.
//
// Locking follows the two-lock model the package is built around. The
// configuration lock (Device.confMu) serializes every state-changing caller
// operation for the full duration of the operation, including while blocked
// on a completion. The data lock (Device.dataMu) protects only the peer
// registry and scan session state, and is the only lock the event-delivery
// path ever takes, so events can always make progress while a caller waits.
package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tmorgen/airvane/internal/chantab"
	"github.com/tmorgen/airvane/internal/completion"
	"github.com/tmorgen/airvane/internal/config"
	"github.com/tmorgen/airvane/internal/metrics"
	"github.com/tmorgen/airvane/internal/survey"
	"github.com/tmorgen/airvane/internal/wmi"
)

// maxVdevBitmap bounds the free-id bitmap; firmware never supports more.
const maxVdevBitmap = 64

// Options carry the external collaborators of a Device.
type Options struct {
	Variant   wmi.Variant
	Services  wmi.ServiceMap
	Transport wmi.Transport
	Channels  *chantab.Table
	Timeouts  config.Timeouts
	Limits    config.Limits
	// Survey is optional; a nil survey disables scan persistence.
	Survey  *survey.Store
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Device is the per-radio context. It owns every vdev, peer, and scan
// session, and is the single event sink of its WMI bridge.
type Device struct {
	logger      *zap.Logger
	bridge      *wmi.Bridge
	completions *completion.Registry
	channels    *chantab.Table
	metrics     *metrics.Metrics
	surveyStore *survey.Store
	timeouts    config.Timeouts
	limits      config.Limits

	confMu sync.Mutex // configuration lock, see package comment
	closed bool

	vdevBitmap   uint64
	vdevs        map[int]*Vdev
	startedVdevs int
	monitorVdev  *Vdev
	promiscuous  bool
	cacVdevID    int // vdev running CAC, -1 when none

	// blockedChannels holds channels disabled by radar (or failed CAC)
	// until a regulatory re-evaluation clears them.
	blockedChannels map[int]time.Time

	dataMu sync.Mutex // data lock: peer registry + scan session
	peers  peerRegistry
	scan   scanSession
}

// New builds a device context around an already-negotiated firmware
// connection. The variant and service map come from the service-ready
// exchange, which happens before the driver core exists.
func New(opts Options) (*Device, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("driver: nil transport")
	}
	if opts.Channels == nil {
		return nil, fmt.Errorf("driver: nil channel table")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	applyTimeoutDefaults(&opts.Timeouts)
	if opts.Limits.MaxVdevs <= 0 || opts.Limits.MaxVdevs > maxVdevBitmap {
		opts.Limits.MaxVdevs = 16
	}
	if opts.Limits.MaxPeers <= 0 {
		opts.Limits.MaxPeers = 32
	}

	d := &Device{
		logger:          logger,
		completions:     completion.NewRegistry(logger),
		channels:        opts.Channels,
		metrics:         opts.Metrics,
		surveyStore:     opts.Survey,
		timeouts:        opts.Timeouts,
		limits:          opts.Limits,
		vdevs:           make(map[int]*Vdev),
		cacVdevID:       -1,
		blockedChannels: make(map[int]time.Time),
	}
	d.peers.init()
	d.scan.state = ScanIdle
	d.bridge = wmi.NewBridge(opts.Variant, opts.Services, opts.Transport,
		d.completions, opts.Metrics, logger)
	d.bridge.AddSink(d)
	return d, nil
}

// Reference timeouts from the protocol contract, applied where the
// configuration leaves a deadline unset.
func applyTimeoutDefaults(t *config.Timeouts) {
	if t.VdevSetup <= 0 {
		t.VdevSetup = 5 * time.Second
	}
	if t.PeerOp <= 0 {
		t.PeerOp = 3 * time.Second
	}
	if t.KeyInstall <= 0 {
		t.KeyInstall = 3 * time.Second
	}
	if t.ScanStart <= 0 {
		t.ScanStart = 1 * time.Second
	}
	if t.ScanStop <= 0 {
		t.ScanStop = 3 * time.Second
	}
}

// Bridge exposes the WMI bridge, mainly so callers can interrogate the
// negotiated variant and service map.
func (d *Device) Bridge() *wmi.Bridge { return d.bridge }

// DeliverEvent feeds one raw firmware event into the device. The transport
// owner must call this from a single goroutine in arrival order; state
// transitions are order-sensitive.
func (d *Device) DeliverEvent(raw []byte) {
	d.bridge.HandleRaw(raw)
}

// checkOpenLocked guards operations against racing device teardown. The
// configuration lock must be held.
func (d *Device) checkOpenLocked() error {
	if d.closed {
		return ErrDeviceClosed
	}
	return nil
}

// wait blocks on a completion with the per-operation timeout, recording a
// metric when the deadline passes.
func (d *Device) wait(ctx context.Context, c *completion.Completion, op wmi.Op, timeout time.Duration) error {
	err := d.completions.Wait(ctx, c, timeout)
	if err != nil && completion.IsTimeout(err) {
		d.metrics.Timeout(op.String())
	}
	return err
}

// Close tears the device down: every peer is force-removed, running vdevs
// are stopped best-effort, and the scan session is forced idle. Commands
// issued here are non-failing from the caller's point of view; firmware may
// already be unreachable.
func (d *Device) Close() {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if d.closed {
		return
	}
	d.closed = true

	d.forceScanIdle(survey.StatusCancelled)

	for id, v := range d.vdevs {
		d.stopAssociationLocked(v)
		d.cleanupPeersLocked(id)
		if v.state == StateStarted || v.state == StateUp {
			if err := d.bridge.Send(wmi.OpVdevStop, wmi.VdevIDParams{VdevID: uint32(id)}); err != nil {
				d.logger.Debug("teardown vdev stop failed", zap.Int("vdev", id), zap.Error(err))
			}
		}
		if err := d.bridge.Send(wmi.OpVdevDelete, wmi.VdevIDParams{VdevID: uint32(id)}); err != nil {
			d.logger.Debug("teardown vdev delete failed", zap.Int("vdev", id), zap.Error(err))
		}
		v.state = StateDeleted
	}
	d.dataMu.Lock()
	d.vdevs = make(map[int]*Vdev)
	d.dataMu.Unlock()
	d.vdevBitmap = 0
	d.startedVdevs = 0
	d.monitorVdev = nil
	d.cacVdevID = -1
	d.logger.Info("device closed")
}

// SetPromiscuous requests or releases promiscuous capture. The monitor vdev
// is derived from this flag, so the recalculation runs immediately.
func (d *Device) SetPromiscuous(on bool) error {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	if d.promiscuous == on {
		return nil
	}
	d.promiscuous = on
	return d.recalcMonitorLocked()
}

// SetRegDomain pushes a new regulatory domain and clears radar blocks; the
// new domain re-evaluates every channel.
func (d *Device) SetRegDomain(country uint16, regDomain uint32) error {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	if err := d.bridge.Send(wmi.OpSetRegDomain, wmi.SetRegDomainParams{
		Country:   country,
		RegDomain: regDomain,
	}); err != nil {
		return err
	}
	d.dataMu.Lock()
	d.blockedChannels = make(map[int]time.Time)
	d.dataMu.Unlock()
	d.logger.Info("regulatory domain set",
		zap.Uint16("country", country), zap.Uint32("regdomain", regDomain))
	return nil
}

// HandleEvent implements wmi.EventSink. It runs on the event-delivery
// goroutine and takes only the data lock, never the configuration lock.
func (d *Device) HandleEvent(ev wmi.Event) {
	switch e := ev.(type) {
	case wmi.PeerCreateDoneEvent:
		d.peerCreated(e)
	case wmi.PeerKickoutEvent:
		d.peerKickedOut(e)
	case wmi.MgmtRxEvent:
		d.mgmtFrameReceived(e)
	case wmi.ScanEvent:
		d.scanEventReceived(e)
	case wmi.RadarDetectedEvent:
		d.radarDetected(e)
	}
	// Response events with no payload beyond their status resolve through
	// the completion registry; there is nothing to do here.
}

// radarDetected blocks the affected channel. Vdev-level recovery (moving to
// another channel) is caller policy.
func (d *Device) radarDetected(e wmi.RadarDetectedEvent) {
	d.dataMu.Lock()
	defer d.dataMu.Unlock()
	for _, c := range d.channels.Channels() {
		if c.FreqMHz == e.FreqMHz {
			d.blockedChannels[c.Number] = time.Now()
			d.logger.Warn("radar detected, channel blocked",
				zap.Int("channel", c.Number), zap.Uint32("freq_mhz", e.FreqMHz))
			return
		}
	}
	d.logger.Warn("radar detected on unknown frequency", zap.Uint32("freq_mhz", e.FreqMHz))
}
