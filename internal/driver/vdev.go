package driver

import (
	"context"
	"fmt"
	"math/bits"
	"net"

	"go.uber.org/zap"

	"github.com/tmorgen/airvane/internal/completion"
	"github.com/tmorgen/airvane/internal/wmi"
	"github.com/tmorgen/airvane/pkg/wlan"
)

// VdevState is the lifecycle state of a virtual device.
type VdevState int

const (
	StateCreated VdevState = iota
	StateStarted
	StateUp
	StateStopped
	StateDeleted
)

// String returns the string representation of a VdevState.
func (s VdevState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateUp:
		return "up"
	case StateStopped:
		return "stopped"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Vdev is one virtual interface hosted by the radio. All fields are guarded
// by the device's configuration lock except the association channels, which
// are written under both locks so the event path can read them under the
// data lock alone.
type Vdev struct {
	id    int
	role  wlan.VdevRole
	mac   net.HardwareAddr
	state VdevState

	chanDesc    *wlan.ChannelDesc
	bssid       net.HardwareAddr
	assocID     uint16
	beaconIntTU uint32
	dtimPeriod  uint32
	txPowerDBm  int

	// rawCrypto disables hardware key installation for this vdev.
	rawCrypto bool

	// defKeyIndex is the WEP transmit default key slot, -1 when unset.
	defKeyIndex int

	// cac marks a monitor vdev performing a channel-availability check.
	cac bool

	// assocFrames feeds candidate association-response frames to the
	// association coordinator. Nil unless an association is in progress.
	assocFrames chan []byte
	assocCancel chan struct{}
	targetBSSID net.HardwareAddr
	targetSSID  string
}

// ID returns the vdev's firmware id.
func (v *Vdev) ID() int { return v.id }

// Role returns the vdev's operating role.
func (v *Vdev) Role() wlan.VdevRole { return v.role }

// VdevState returns the vdev's lifecycle state at the time of the call.
func (d *Device) VdevState(id int) (VdevState, error) {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	v, ok := d.vdevs[id]
	if !ok {
		return 0, fmt.Errorf("%w: vdev %d", ErrNotFound, id)
	}
	return v.state, nil
}

// wire role ids are shared across variants.
func wireRole(r wlan.VdevRole) uint32 {
	switch r {
	case wlan.RoleAP:
		return 2
	case wlan.RoleIBSS:
		return 3
	case wlan.RoleMonitor:
		return 4
	default:
		return 1 // client
	}
}

// CreateVdev allocates the lowest free vdev id, checks the joint peer/vdev
// budget, and issues the create command. The create has no response event;
// duplicate-id and capacity violations are host-side checks.
func (d *Device) CreateVdev(role wlan.VdevRole, mac net.HardwareAddr) (int, error) {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return 0, err
	}
	return d.createVdevLocked(role, mac)
}

func (d *Device) createVdevLocked(role wlan.VdevRole, mac net.HardwareAddr) (int, error) {
	id, ok := d.allocVdevIDLocked()
	if !ok {
		return 0, fmt.Errorf("%w: no free vdev id", ErrResourceExhausted)
	}
	// Each vdev occupies one firmware peer-table slot on top of the live
	// peers, so the joint budget is checked here as well as in peer create.
	d.dataMu.Lock()
	numPeers := d.peers.count()
	d.dataMu.Unlock()
	if numPeers+len(d.vdevs)+1 > d.limits.MaxPeers {
		d.freeVdevIDLocked(id)
		return 0, fmt.Errorf("%w: peer table full (%d peers, %d vdevs)",
			ErrResourceExhausted, numPeers, len(d.vdevs))
	}

	if err := d.bridge.Send(wmi.OpVdevCreate, wmi.VdevCreateParams{
		VdevID: uint32(id),
		Role:   wireRole(role),
		MAC:    mac,
	}); err != nil {
		d.freeVdevIDLocked(id)
		return 0, err
	}

	v := &Vdev{
		id:          id,
		role:        role,
		mac:         append(net.HardwareAddr(nil), mac...),
		state:       StateCreated,
		beaconIntTU: 100,
		dtimPeriod:  1,
		defKeyIndex: -1,
	}
	// Map mutations take the data lock too; the event path looks vdevs up
	// under it.
	d.dataMu.Lock()
	d.vdevs[id] = v
	d.dataMu.Unlock()
	d.logger.Info("vdev created", zap.Int("vdev", id), zap.Stringer("role", role))
	return id, nil
}

// DeleteVdev removes the vdev: peers are force-cleaned (firmware may hold
// stale entries, the host map is authoritative for absence), the delete
// command is issued, and the id returns to the free bitmap for reuse.
func (d *Device) DeleteVdev(id int) error {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	return d.deleteVdevLocked(id)
}

func (d *Device) deleteVdevLocked(id int) error {
	v, ok := d.vdevs[id]
	if !ok {
		return fmt.Errorf("%w: vdev %d", ErrNotFound, id)
	}
	if v.state == StateStarted || v.state == StateUp {
		return fmt.Errorf("%w: vdev %d is %s, stop it first", ErrInvalidState, id, v.state)
	}
	d.stopAssociationLocked(v)
	d.cleanupPeersLocked(id)

	if err := d.bridge.Send(wmi.OpVdevDelete, wmi.VdevIDParams{VdevID: uint32(id)}); err != nil {
		return err
	}
	v.state = StateDeleted
	d.dataMu.Lock()
	delete(d.vdevs, id)
	d.dataMu.Unlock()
	d.freeVdevIDLocked(id)
	if d.monitorVdev == v {
		d.monitorVdev = nil
	}
	d.logger.Info("vdev deleted", zap.Int("vdev", id))
	return d.recalcMonitorLocked()
}

// StartVdev starts the vdev on a channel. It blocks on the start-response
// completion; on timeout the state is unchanged and the caller may retry.
func (d *Device) StartVdev(ctx context.Context, id, channel int, width wlan.ChannelWidth) error {
	return d.startVdev(ctx, id, channel, width, false)
}

// RestartVdev re-tunes a started vdev without tearing down its BSS state.
func (d *Device) RestartVdev(ctx context.Context, id, channel int, width wlan.ChannelWidth) error {
	return d.startVdev(ctx, id, channel, width, true)
}

func (d *Device) startVdev(ctx context.Context, id, channel int, width wlan.ChannelWidth, restart bool) error {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	v, ok := d.vdevs[id]
	if !ok {
		return fmt.Errorf("%w: vdev %d", ErrNotFound, id)
	}
	if restart && v.state != StateStarted && v.state != StateUp {
		return fmt.Errorf("%w: restart of vdev %d in state %s", ErrInvalidState, id, v.state)
	}

	desc, err := d.resolveChannelLocked(channel, width)
	if err != nil {
		return err
	}
	if err := d.startVdevOnChannelLocked(ctx, v, desc, restart); err != nil {
		return err
	}
	return d.recalcMonitorLocked()
}

// resolveChannelLocked looks the channel up and rejects radar-blocked ones.
func (d *Device) resolveChannelLocked(channel int, width wlan.ChannelWidth) (wlan.ChannelDesc, error) {
	ch, ok := d.channels.Lookup(channel)
	if !ok {
		return wlan.ChannelDesc{}, fmt.Errorf("%w: channel %d", ErrChannelNotFound, channel)
	}
	d.dataMu.Lock()
	_, blocked := d.blockedChannels[channel]
	d.dataMu.Unlock()
	if blocked {
		return wlan.ChannelDesc{}, fmt.Errorf("%w: channel %d", ErrChannelUnavailable, channel)
	}
	return wlan.ChannelDesc{Channel: ch, Width: width}, nil
}

// startVdevOnChannelLocked issues vdev start/restart and waits for the
// response. It is shared by the caller-facing start path and the monitor
// machinery.
func (d *Device) startVdevOnChannelLocked(ctx context.Context, v *Vdev, desc wlan.ChannelDesc, restart bool) error {
	op := wmi.OpVdevStart
	if restart {
		op = wmi.OpVdevRestart
	}

	c, err := d.completions.Begin(completion.Tag{VdevID: v.id, Kind: completion.KindVdevStart})
	if err != nil {
		return err
	}

	ht := desc.Width != wlan.CBW20
	vht := desc.Width == wlan.CBW80 || desc.Width == wlan.CBW160 || desc.Width == wlan.CBW80P80
	mode := wlan.DerivePHYMode(desc, ht, vht, false)

	if err := d.bridge.Send(op, wmi.VdevStartParams{
		VdevID:      uint32(v.id),
		FreqMHz:     desc.Channel.FreqMHz,
		CenterFreq1: desc.CenterFreq1(),
		CenterFreq2: desc.CenterFreq2MHz,
		PHYMode:     uint32(mode),
		BeaconIntTU: v.beaconIntTU,
		DTIMPeriod:  v.dtimPeriod,
		Passive:     desc.Channel.Passive() || v.cac,
		ChanRadar:   desc.Channel.Radar(),
		MaxPowerDBm: uint32(desc.Channel.MaxPowerDBm),
	}); err != nil {
		d.completions.Abandon(c)
		return err
	}

	if err := d.wait(ctx, c, op, d.timeouts.VdevSetup); err != nil {
		d.logger.Warn("vdev start not acknowledged",
			zap.Int("vdev", v.id), zap.Stringer("op", op), zap.Error(err))
		return err
	}

	if !restart {
		d.startedVdevs++
	}
	v.state = StateStarted
	v.chanDesc = &desc
	d.logger.Info("vdev started",
		zap.Int("vdev", v.id),
		zap.Stringer("channel", desc.Channel),
		zap.Stringer("width", desc.Width),
		zap.Bool("restart", restart))
	return nil
}

// StopVdev stops a started vdev and waits for the stopped event. Calling it
// with the started counter already at zero logs and proceeds; best-effort
// cleanup paths depend on that.
func (d *Device) StopVdev(ctx context.Context, id int) error {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	v, ok := d.vdevs[id]
	if !ok {
		return fmt.Errorf("%w: vdev %d", ErrNotFound, id)
	}
	if err := d.stopVdevLocked(ctx, v); err != nil {
		return err
	}
	return d.recalcMonitorLocked()
}

func (d *Device) stopVdevLocked(ctx context.Context, v *Vdev) error {
	c, err := d.completions.Begin(completion.Tag{VdevID: v.id, Kind: completion.KindVdevStop})
	if err != nil {
		return err
	}
	if err := d.bridge.Send(wmi.OpVdevStop, wmi.VdevIDParams{VdevID: uint32(v.id)}); err != nil {
		d.completions.Abandon(c)
		return err
	}
	if err := d.wait(ctx, c, wmi.OpVdevStop, d.timeouts.VdevSetup); err != nil {
		d.logger.Warn("vdev stop not acknowledged", zap.Int("vdev", v.id), zap.Error(err))
		return err
	}

	if d.startedVdevs == 0 {
		d.logger.Warn("vdev stop with started counter already zero", zap.Int("vdev", v.id))
	} else {
		d.startedVdevs--
	}
	v.state = StateStopped
	v.chanDesc = nil
	d.logger.Info("vdev stopped", zap.Int("vdev", v.id))
	return nil
}

// UpVdev brings a started vdev up with its association identity. The up
// command has no response event.
func (d *Device) UpVdev(id int, assocID uint16, bssid net.HardwareAddr) error {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	v, ok := d.vdevs[id]
	if !ok {
		return fmt.Errorf("%w: vdev %d", ErrNotFound, id)
	}
	return d.upVdevLocked(v, assocID, bssid)
}

func (d *Device) upVdevLocked(v *Vdev, assocID uint16, bssid net.HardwareAddr) error {
	if v.state != StateStarted && v.state != StateUp {
		return fmt.Errorf("%w: vdev %d is %s, not started", ErrInvalidState, v.id, v.state)
	}
	if err := d.bridge.Send(wmi.OpVdevUp, wmi.VdevUpParams{
		VdevID:  uint32(v.id),
		AssocID: uint32(assocID),
		BSSID:   bssid,
	}); err != nil {
		return err
	}
	v.state = StateUp
	v.assocID = assocID
	v.bssid = append(net.HardwareAddr(nil), bssid...)
	d.logger.Info("vdev up", zap.Int("vdev", v.id),
		zap.Uint16("assoc_id", assocID), zap.String("bssid", bssid.String()))
	return nil
}

// DownVdev takes an up vdev back to started-but-down.
func (d *Device) DownVdev(id int) error {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	v, ok := d.vdevs[id]
	if !ok {
		return fmt.Errorf("%w: vdev %d", ErrNotFound, id)
	}
	return d.downVdevLocked(v)
}

func (d *Device) downVdevLocked(v *Vdev) error {
	if v.state != StateUp {
		return fmt.Errorf("%w: vdev %d is %s, not up", ErrInvalidState, v.id, v.state)
	}
	if err := d.bridge.Send(wmi.OpVdevDown, wmi.VdevIDParams{VdevID: uint32(v.id)}); err != nil {
		return err
	}
	v.state = StateStarted
	v.assocID = 0
	d.logger.Info("vdev down", zap.Int("vdev", v.id))
	return nil
}

// SetTxPower sets the vdev's transmit-power ceiling in dBm.
func (d *Device) SetTxPower(id, dbm int) error {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	v, ok := d.vdevs[id]
	if !ok {
		return fmt.Errorf("%w: vdev %d", ErrNotFound, id)
	}
	if err := d.bridge.Send(wmi.OpSetTxPower, wmi.SetTxPowerParams{
		VdevID:   uint32(id),
		PowerDBm: uint32(dbm),
	}); err != nil {
		return err
	}
	v.txPowerDBm = dbm
	return nil
}

// SetRawCrypto disables hardware key installation for the vdev; installs
// then short-circuit with ErrNotSupported before touching the wire.
func (d *Device) SetRawCrypto(id int, raw bool) error {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	v, ok := d.vdevs[id]
	if !ok {
		return fmt.Errorf("%w: vdev %d", ErrNotFound, id)
	}
	v.rawCrypto = raw
	return nil
}

// allocVdevIDLocked takes the lowest clear bit of the free-id bitmap.
func (d *Device) allocVdevIDLocked() (int, bool) {
	if len(d.vdevs) >= d.limits.MaxVdevs {
		return 0, false
	}
	free := ^d.vdevBitmap
	if free == 0 {
		return 0, false
	}
	id := bits.TrailingZeros64(free)
	if id >= d.limits.MaxVdevs {
		return 0, false
	}
	d.vdevBitmap |= 1 << uint(id)
	return id, true
}

func (d *Device) freeVdevIDLocked(id int) {
	d.vdevBitmap &^= 1 << uint(id)
}
