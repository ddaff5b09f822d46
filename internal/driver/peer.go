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

// Peer is one firmware-visible link endpoint. The registry entry carries
// the owning vdev by id, never by pointer: a peer must survive a dangling
// lookup after its vdev is gone without keeping the vdev alive.
type Peer struct {
	handle   int
	mac      net.HardwareAddr
	vdevID   int
	peerType wlan.PeerType

	// peerIDs are the firmware id slots the peer occupies; firmware may
	// assign more than one.
	peerIDs []uint32

	// keys holds the installed key slots by key index.
	keys [wlan.MaxKeyIndex + 1]*wlan.Key
}

// MAC returns the peer's MAC address.
func (p *Peer) MAC() net.HardwareAddr { return p.mac }

// VdevID returns the id of the owning vdev.
func (p *Peer) VdevID() int { return p.vdevID }

type peerKey struct {
	vdevID int
	mac    string
}

// peerRegistry is an arena of peers with secondary indices. All access is
// under the device's data lock; deletion removes from every index
// atomically so no stale handle survives.
type peerRegistry struct {
	nextHandle int
	byHandle   map[int]*Peer
	byAddr     map[peerKey]int
	byPeerID   map[uint32]int
}

func (r *peerRegistry) init() {
	r.byHandle = make(map[int]*Peer)
	r.byAddr = make(map[peerKey]int)
	r.byPeerID = make(map[uint32]int)
}

func (r *peerRegistry) count() int { return len(r.byHandle) }

func (r *peerRegistry) insert(p *Peer) {
	p.handle = r.nextHandle
	r.nextHandle++
	r.byHandle[p.handle] = p
	r.byAddr[peerKey{p.vdevID, p.mac.String()}] = p.handle
	for _, id := range p.peerIDs {
		r.byPeerID[id] = p.handle
	}
}

func (r *peerRegistry) lookup(vdevID int, mac net.HardwareAddr) *Peer {
	h, ok := r.byAddr[peerKey{vdevID, mac.String()}]
	if !ok {
		return nil
	}
	return r.byHandle[h]
}

func (r *peerRegistry) lookupByPeerID(id uint32) *Peer {
	h, ok := r.byPeerID[id]
	if !ok {
		return nil
	}
	return r.byHandle[h]
}

func (r *peerRegistry) remove(p *Peer) {
	delete(r.byHandle, p.handle)
	delete(r.byAddr, peerKey{p.vdevID, p.mac.String()})
	for _, id := range p.peerIDs {
		delete(r.byPeerID, id)
	}
}

// vdevPeers returns every peer owned by the vdev.
func (r *peerRegistry) vdevPeers(vdevID int) []*Peer {
	var out []*Peer
	for _, p := range r.byHandle {
		if p.vdevID == vdevID {
			out = append(out, p)
		}
	}
	return out
}

// CreatePeer creates a firmware peer for the vdev. The joint peer/vdev
// budget is enforced before anything is sent.
func (d *Device) CreatePeer(ctx context.Context, vdevID int, mac net.HardwareAddr, typ wlan.PeerType) error {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	if _, ok := d.vdevs[vdevID]; !ok {
		return fmt.Errorf("%w: vdev %d", ErrNotFound, vdevID)
	}
	return d.createPeerLocked(ctx, vdevID, mac, typ)
}

func (d *Device) createPeerLocked(ctx context.Context, vdevID int, mac net.HardwareAddr, typ wlan.PeerType) error {
	d.dataMu.Lock()
	numPeers := d.peers.count()
	dup := d.peers.lookup(vdevID, mac) != nil
	d.dataMu.Unlock()
	if numPeers+len(d.vdevs) >= d.limits.MaxPeers {
		return fmt.Errorf("%w: peer table full (%d peers, %d vdevs, max %d)",
			ErrResourceExhausted, numPeers, len(d.vdevs), d.limits.MaxPeers)
	}
	if dup {
		return fmt.Errorf("%w: peer %s already exists on vdev %d", ErrInvalidState, mac, vdevID)
	}

	c, err := d.completions.Begin(completion.Tag{VdevID: vdevID, Kind: completion.KindPeerCreate})
	if err != nil {
		return err
	}
	if err := d.bridge.Send(wmi.OpPeerCreate, wmi.PeerCreateParams{
		VdevID:   uint32(vdevID),
		MAC:      mac,
		PeerType: uint32(typ),
	}); err != nil {
		d.completions.Abandon(c)
		return err
	}
	if err := d.wait(ctx, c, wmi.OpPeerCreate, d.timeouts.PeerOp); err != nil {
		return err
	}

	// The event path inserts the registry entry (it carries the firmware
	// peer id). If the entry is missing even though firmware acknowledged
	// the create, host and firmware disagree; delete firmware's copy and
	// report the peer absent.
	d.dataMu.Lock()
	p := d.peers.lookup(vdevID, mac)
	d.dataMu.Unlock()
	if p == nil {
		d.logger.Error("peer acknowledged but not in registry, force-deleting",
			zap.Int("vdev", vdevID), zap.String("mac", mac.String()))
		if err := d.bridge.Send(wmi.OpPeerDelete, wmi.PeerDeleteParams{
			VdevID: uint32(vdevID), MAC: mac,
		}); err != nil {
			d.logger.Warn("inconsistency repair delete failed", zap.Error(err))
		}
		return fmt.Errorf("%w: peer %s on vdev %d", ErrNotFound, mac, vdevID)
	}
	d.logger.Info("peer created", zap.Int("vdev", vdevID),
		zap.String("mac", mac.String()), zap.Stringer("type", typ))
	return nil
}

// peerCreated runs on the event path and inserts the acknowledged peer
// into the registry before the waiting creator resumes.
func (d *Device) peerCreated(e wmi.PeerCreateDoneEvent) {
	if e.Status != wmi.StatusOK {
		d.logger.Warn("peer create rejected by firmware",
			zap.Uint32("vdev", e.VdevID), zap.Uint32("status", e.Status))
		return
	}
	d.dataMu.Lock()
	defer d.dataMu.Unlock()
	if existing := d.peers.lookup(int(e.VdevID), e.MAC); existing != nil {
		// Duplicate acknowledgement; keep the first entry.
		d.logger.Debug("duplicate peer-create event ignored",
			zap.Uint32("vdev", e.VdevID), zap.String("mac", e.MAC.String()))
		return
	}
	d.peers.insert(&Peer{
		mac:     append(net.HardwareAddr(nil), e.MAC...),
		vdevID:  int(e.VdevID),
		peerIDs: []uint32{e.PeerID},
	})
}

// DeletePeer deletes the peer from firmware and the registry.
func (d *Device) DeletePeer(ctx context.Context, vdevID int, mac net.HardwareAddr) error {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}
	return d.deletePeerLocked(ctx, vdevID, mac)
}

func (d *Device) deletePeerLocked(ctx context.Context, vdevID int, mac net.HardwareAddr) error {
	d.dataMu.Lock()
	p := d.peers.lookup(vdevID, mac)
	d.dataMu.Unlock()
	if p == nil {
		return fmt.Errorf("%w: peer %s on vdev %d", ErrNotFound, mac, vdevID)
	}

	c, err := d.completions.Begin(completion.Tag{VdevID: vdevID, Kind: completion.KindPeerDelete})
	if err != nil {
		return err
	}
	if err := d.bridge.Send(wmi.OpPeerDelete, wmi.PeerDeleteParams{
		VdevID: uint32(vdevID), MAC: mac,
	}); err != nil {
		d.completions.Abandon(c)
		return err
	}
	if err := d.wait(ctx, c, wmi.OpPeerDelete, d.timeouts.PeerOp); err != nil {
		return err
	}

	d.dataMu.Lock()
	d.peers.remove(p)
	d.dataMu.Unlock()
	d.logger.Info("peer deleted", zap.Int("vdev", vdevID), zap.String("mac", mac.String()))
	return nil
}

// cleanupPeersLocked force-removes every peer of the vdev from the registry
// without waiting on firmware. Teardown path: firmware may be unreachable,
// and the host map is authoritative for absence.
func (d *Device) cleanupPeersLocked(vdevID int) {
	d.dataMu.Lock()
	peers := d.peers.vdevPeers(vdevID)
	for _, p := range peers {
		d.peers.remove(p)
	}
	d.dataMu.Unlock()
	if len(peers) > 0 {
		d.logger.Info("force-removed peers", zap.Int("vdev", vdevID), zap.Int("count", len(peers)))
	}
}

// peerKickedOut handles firmware dropping a peer on its own. The registry
// entry stays; teardown is caller policy, this only surfaces the event.
func (d *Device) peerKickedOut(e wmi.PeerKickoutEvent) {
	d.dataMu.Lock()
	p := d.peers.lookup(int(e.VdevID), e.MAC)
	d.dataMu.Unlock()
	if p == nil {
		// Stale event: any peer id not in the map is treated as absent.
		d.logger.Debug("kickout for unknown peer ignored", zap.String("mac", e.MAC.String()))
		return
	}
	d.logger.Warn("peer kicked out by firmware",
		zap.Int("vdev", p.vdevID), zap.String("mac", e.MAC.String()), zap.Uint32("reason", e.Reason))
}

// PeerCount returns the number of live peers.
func (d *Device) PeerCount() int {
	d.dataMu.Lock()
	defer d.dataMu.Unlock()
	return d.peers.count()
}

// LookupPeerByFirmwareID resolves a firmware peer id. Ids not in the map
// are absent by definition, even if firmware still references them.
func (d *Device) LookupPeerByFirmwareID(id uint32) (*Peer, bool) {
	d.dataMu.Lock()
	defer d.dataMu.Unlock()
	p := d.peers.lookupByPeerID(id)
	return p, p != nil
}
