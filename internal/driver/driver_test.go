package driver

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/tmorgen/airvane/internal/chantab"
	"github.com/tmorgen/airvane/internal/completion"
	"github.com/tmorgen/airvane/internal/config"
	"github.com/tmorgen/airvane/internal/testutil"
	"github.com/tmorgen/airvane/internal/wmi"
	"github.com/tmorgen/airvane/pkg/wlan"
)

const testVariant = wmi.VariantMain

// harness wires a Device to a scripted transport that answers commands the
// way well-behaved firmware would. Individual ops can be muted to simulate
// firmware that never answers.
type harness struct {
	t     *testing.T
	dev   *Device
	tr    *testutil.MockTransport
	muted map[wmi.Op]bool

	nextPeerID uint32
}

func newHarness(t *testing.T, opts ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		tr:    testutil.NewMockTransport(),
		muted: make(map[wmi.Op]bool),
	}

	o := Options{
		Variant:   testVariant,
		Services:  wmi.ServiceMap{}.With(wmi.ServiceStaPSWorkaround),
		Transport: h.tr,
		Channels:  chantab.Default(),
		Timeouts: config.Timeouts{
			VdevSetup:  100 * time.Millisecond,
			PeerOp:     100 * time.Millisecond,
			KeyInstall: 100 * time.Millisecond,
			ScanStart:  100 * time.Millisecond,
			ScanStop:   100 * time.Millisecond,
		},
		Logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	dev, err := New(o)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.dev = dev
	h.tr.OnSend = h.respond
	return h
}

func (h *harness) mute(ops ...wmi.Op) {
	for _, op := range ops {
		h.muted[op] = true
	}
}

func (h *harness) deliver(ev wmi.Event) {
	h.dev.DeliverEvent(wmi.MarshalEvent(testVariant, ev))
}

// respond plays firmware: every command that has a response event gets a
// success answer, synchronously.
func (h *harness) respond(cmdID uint32, payload []byte) {
	op, ok := opForID(cmdID)
	if !ok {
		h.t.Errorf("unknown command id %#x", cmdID)
		return
	}
	if h.muted[op] {
		return
	}
	vdevID := leU32(payload, 0)

	switch op {
	case wmi.OpVdevStart, wmi.OpVdevRestart:
		h.deliver(wmi.VdevStartResponseEvent{VdevID: vdevID, Status: wmi.StatusOK})
	case wmi.OpVdevStop:
		h.deliver(wmi.VdevStoppedEvent{VdevID: vdevID})
	case wmi.OpPeerCreate:
		h.nextPeerID++
		h.deliver(wmi.PeerCreateDoneEvent{
			VdevID: vdevID,
			MAC:    macAt(payload, 4),
			PeerID: h.nextPeerID,
			Status: wmi.StatusOK,
		})
	case wmi.OpPeerDelete:
		h.deliver(wmi.PeerDeleteDoneEvent{VdevID: vdevID, MAC: macAt(payload, 4), Status: wmi.StatusOK})
	case wmi.OpKeyInstall:
		h.deliver(wmi.KeyInstallDoneEvent{VdevID: vdevID, Status: wmi.StatusOK})
	case wmi.OpScanStart:
		h.deliver(wmi.ScanEvent{VdevID: vdevID, ScanID: leU32(payload, 4), Type: wmi.ScanEventStarted})
	case wmi.OpScanStop:
		h.deliver(wmi.ScanEvent{
			VdevID: vdevID, ScanID: leU32(payload, 4),
			Type:   wmi.ScanEventCompleted | wmi.ScanEventDequeued,
			Reason: wmi.ScanReasonCancelled,
		})
	}
}

func opForID(cmdID uint32) (wmi.Op, bool) {
	for op := wmi.OpVdevCreate; op <= wmi.OpExtResourceConfig; op++ {
		if id, ok := testVariant.CommandID(op); ok && id == cmdID {
			return op, true
		}
	}
	return 0, false
}

func leU32(b []byte, off int) uint32 {
	if len(b) < off+4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b[off:])
}

func macAt(b []byte, off int) net.HardwareAddr {
	if len(b) < off+6 {
		return nil
	}
	return net.HardwareAddr(append([]byte(nil), b[off:off+6]...))
}

func (h *harness) mustCreateStartedVdev(role wlan.VdevRole, last byte) int {
	h.t.Helper()
	id, err := h.dev.CreateVdev(role, testutil.MAC(last))
	if err != nil {
		h.t.Fatalf("CreateVdev: %v", err)
	}
	if err := h.dev.StartVdev(context.Background(), id, 36, wlan.CBW20); err != nil {
		h.t.Fatalf("StartVdev: %v", err)
	}
	return id
}

func TestVdevLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id, err := h.dev.CreateVdev(wlan.RoleClient, testutil.MAC(1))
	if err != nil {
		t.Fatalf("CreateVdev: %v", err)
	}
	if id != 0 {
		t.Errorf("first vdev id = %d, want 0", id)
	}
	if st, _ := h.dev.VdevState(id); st != StateCreated {
		t.Errorf("state = %s, want created", st)
	}

	if err := h.dev.StartVdev(ctx, id, 36, wlan.CBW20); err != nil {
		t.Fatalf("StartVdev: %v", err)
	}
	if st, _ := h.dev.VdevState(id); st != StateStarted {
		t.Errorf("state = %s, want started", st)
	}

	bssid := testutil.MAC(0x10)
	if err := h.dev.UpVdev(id, 1, bssid); err != nil {
		t.Fatalf("UpVdev: %v", err)
	}
	if st, _ := h.dev.VdevState(id); st != StateUp {
		t.Errorf("state = %s, want up", st)
	}

	if err := h.dev.DownVdev(id); err != nil {
		t.Fatalf("DownVdev: %v", err)
	}
	if err := h.dev.StopVdev(ctx, id); err != nil {
		t.Fatalf("StopVdev: %v", err)
	}
	if st, _ := h.dev.VdevState(id); st != StateStopped {
		t.Errorf("state = %s, want stopped", st)
	}

	if err := h.dev.DeleteVdev(id); err != nil {
		t.Fatalf("DeleteVdev: %v", err)
	}
	if _, err := h.dev.VdevState(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("VdevState after delete = %v, want ErrNotFound", err)
	}
}

func TestDeleteRunningVdevRejected(t *testing.T) {
	h := newHarness(t)
	id := h.mustCreateStartedVdev(wlan.RoleClient, 1)

	if err := h.dev.DeleteVdev(id); !errors.Is(err, ErrInvalidState) {
		t.Errorf("DeleteVdev on started = %v, want ErrInvalidState", err)
	}
}

func TestVdevIDReuse(t *testing.T) {
	h := newHarness(t)

	id0, _ := h.dev.CreateVdev(wlan.RoleClient, testutil.MAC(1))
	id1, _ := h.dev.CreateVdev(wlan.RoleAP, testutil.MAC(2))
	if id0 != 0 || id1 != 1 {
		t.Fatalf("ids = %d,%d, want 0,1", id0, id1)
	}

	if err := h.dev.DeleteVdev(id0); err != nil {
		t.Fatalf("DeleteVdev: %v", err)
	}
	again, err := h.dev.CreateVdev(wlan.RoleClient, testutil.MAC(3))
	if err != nil {
		t.Fatalf("CreateVdev: %v", err)
	}
	if again != 0 {
		t.Errorf("reused id = %d, want lowest free 0", again)
	}
}

func TestJointCapacityRejectsBeforeSend(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Limits = config.Limits{MaxVdevs: 8, MaxPeers: 2}
	})

	if _, err := h.dev.CreateVdev(wlan.RoleClient, testutil.MAC(1)); err != nil {
		t.Fatalf("CreateVdev: %v", err)
	}
	if _, err := h.dev.CreateVdev(wlan.RoleAP, testutil.MAC(2)); err != nil {
		t.Fatalf("CreateVdev: %v", err)
	}

	sent := len(h.tr.Commands())
	if _, err := h.dev.CreateVdev(wlan.RoleClient, testutil.MAC(3)); !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("third CreateVdev = %v, want ErrResourceExhausted", err)
	}
	if got := len(h.tr.Commands()); got != sent {
		t.Errorf("rejected create still sent %d commands", got-sent)
	}
}

func TestStartVdevChannelErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id, _ := h.dev.CreateVdev(wlan.RoleClient, testutil.MAC(1))

	if err := h.dev.StartVdev(ctx, id, 37, wlan.CBW20); !errors.Is(err, ErrChannelNotFound) {
		t.Errorf("unknown channel = %v, want ErrChannelNotFound", err)
	}

	// Radar on 5260 MHz blocks channel 52 until a regulatory update.
	h.deliver(wmi.RadarDetectedEvent{FreqMHz: 5260})
	if err := h.dev.StartVdev(ctx, id, 52, wlan.CBW20); !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("blocked channel = %v, want ErrChannelUnavailable", err)
	}

	if err := h.dev.SetRegDomain(0x5553, 0x3a); err != nil {
		t.Fatalf("SetRegDomain: %v", err)
	}
	if err := h.dev.StartVdev(ctx, id, 52, wlan.CBW20); err != nil {
		t.Errorf("start after regdomain reset = %v, want nil", err)
	}
}

func TestStartVdevTimeoutKeepsState(t *testing.T) {
	h := newHarness(t)
	h.mute(wmi.OpVdevStart)
	id, _ := h.dev.CreateVdev(wlan.RoleClient, testutil.MAC(1))

	err := h.dev.StartVdev(context.Background(), id, 36, wlan.CBW20)
	if !completion.IsTimeout(err) {
		t.Fatalf("StartVdev = %v, want timeout", err)
	}
	if st, _ := h.dev.VdevState(id); st != StateCreated {
		t.Errorf("state after timeout = %s, want created", st)
	}

	// A retry with firmware healthy again must succeed on the same tag.
	h.muted = map[wmi.Op]bool{}
	if err := h.dev.StartVdev(context.Background(), id, 36, wlan.CBW20); err != nil {
		t.Errorf("retry = %v, want nil", err)
	}
}

func TestStopVdevTwiceKeepsCounterAtZero(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.mustCreateStartedVdev(wlan.RoleClient, 1)

	if err := h.dev.StopVdev(ctx, id); err != nil {
		t.Fatalf("StopVdev: %v", err)
	}
	// Second stop has the counter at zero already; it logs and proceeds.
	if err := h.dev.StopVdev(ctx, id); err != nil {
		t.Fatalf("second StopVdev: %v", err)
	}
	h.dev.confMu.Lock()
	counter := h.dev.startedVdevs
	h.dev.confMu.Unlock()
	if counter != 0 {
		t.Errorf("startedVdevs = %d, want 0", counter)
	}
}

func TestPeerLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.mustCreateStartedVdev(wlan.RoleAP, 1)
	mac := testutil.MAC(0x20)

	if err := h.dev.CreatePeer(ctx, id, mac, wlan.PeerDefault); err != nil {
		t.Fatalf("CreatePeer: %v", err)
	}
	if got := h.dev.PeerCount(); got != 1 {
		t.Errorf("PeerCount = %d, want 1", got)
	}
	p, ok := h.dev.LookupPeerByFirmwareID(1)
	if !ok {
		t.Fatal("LookupPeerByFirmwareID(1) missing")
	}
	if p.MAC().String() != mac.String() {
		t.Errorf("peer MAC = %s, want %s", p.MAC(), mac)
	}

	if err := h.dev.CreatePeer(ctx, id, mac, wlan.PeerDefault); !errors.Is(err, ErrInvalidState) {
		t.Errorf("duplicate CreatePeer = %v, want ErrInvalidState", err)
	}

	if err := h.dev.DeletePeer(ctx, id, mac); err != nil {
		t.Fatalf("DeletePeer: %v", err)
	}
	if got := h.dev.PeerCount(); got != 0 {
		t.Errorf("PeerCount = %d, want 0", got)
	}
	if _, ok := h.dev.LookupPeerByFirmwareID(1); ok {
		t.Error("deleted peer still resolvable by firmware id")
	}
}

func TestPeerCapacityCountsVdevs(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Limits = config.Limits{MaxVdevs: 8, MaxPeers: 2}
	})
	ctx := context.Background()
	id := h.mustCreateStartedVdev(wlan.RoleAP, 1)

	// One vdev occupies one budget slot, so one peer fits and two do not.
	if err := h.dev.CreatePeer(ctx, id, testutil.MAC(0x20), wlan.PeerDefault); err != nil {
		t.Fatalf("CreatePeer: %v", err)
	}
	sent := len(h.tr.Commands())
	err := h.dev.CreatePeer(ctx, id, testutil.MAC(0x21), wlan.PeerDefault)
	if !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("CreatePeer = %v, want ErrResourceExhausted", err)
	}
	if got := len(h.tr.Commands()); got != sent {
		t.Errorf("rejected create still sent %d commands", got-sent)
	}
}

func TestPeerKickoutUnknownIgnored(t *testing.T) {
	h := newHarness(t)
	// Must not panic or mutate anything.
	h.deliver(wmi.PeerKickoutEvent{VdevID: 0, MAC: testutil.MAC(0x66), Reason: 1})
	if got := h.dev.PeerCount(); got != 0 {
		t.Errorf("PeerCount = %d, want 0", got)
	}
}

func TestDeleteVdevForceCleansPeers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.mustCreateStartedVdev(wlan.RoleAP, 1)
	if err := h.dev.CreatePeer(ctx, id, testutil.MAC(0x20), wlan.PeerDefault); err != nil {
		t.Fatalf("CreatePeer: %v", err)
	}

	if err := h.dev.StopVdev(ctx, id); err != nil {
		t.Fatalf("StopVdev: %v", err)
	}
	if err := h.dev.DeleteVdev(id); err != nil {
		t.Fatalf("DeleteVdev: %v", err)
	}
	if got := h.dev.PeerCount(); got != 0 {
		t.Errorf("PeerCount after vdev delete = %d, want 0", got)
	}
}

func TestInstallKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.mustCreateStartedVdev(wlan.RoleClient, 1)
	mac := testutil.MAC(0x30)
	if err := h.dev.CreatePeer(ctx, id, mac, wlan.PeerBSS); err != nil {
		t.Fatalf("CreatePeer: %v", err)
	}

	key := wlan.Key{
		Cipher:   wlan.CipherCCMP,
		Index:    0,
		Material: make([]byte, 16),
		Flags:    wlan.KeyFlagPairwise,
	}
	if err := h.dev.InstallKey(ctx, id, mac, key); err != nil {
		t.Fatalf("InstallKey: %v", err)
	}
	if !h.tr.SentOp(testVariant, wmi.OpKeyInstall) {
		t.Error("no key-install command on the wire")
	}

	if err := h.dev.RemoveKey(ctx, id, mac, 0); err != nil {
		t.Fatalf("RemoveKey: %v", err)
	}
}

func TestWEPDefaultKeySlot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.mustCreateStartedVdev(wlan.RoleClient, 1)
	mac := testutil.MAC(0x30)
	if err := h.dev.CreatePeer(ctx, id, mac, wlan.PeerBSS); err != nil {
		t.Fatalf("CreatePeer: %v", err)
	}

	key := wlan.Key{
		Cipher:   wlan.CipherWEP104,
		Index:    2,
		Material: make([]byte, 13),
		Flags:    wlan.KeyFlagPairwise | wlan.KeyFlagTxUsage,
	}
	if err := h.dev.InstallKey(ctx, id, mac, key); err != nil {
		t.Fatalf("InstallKey: %v", err)
	}
	h.dev.confMu.Lock()
	def := h.dev.vdevs[id].defKeyIndex
	h.dev.confMu.Unlock()
	if def != 2 {
		t.Errorf("default key index = %d, want 2", def)
	}

	if err := h.dev.RemoveKey(ctx, id, mac, 2); err != nil {
		t.Fatalf("RemoveKey: %v", err)
	}
	h.dev.confMu.Lock()
	def = h.dev.vdevs[id].defKeyIndex
	h.dev.confMu.Unlock()
	if def != -1 {
		t.Errorf("default key index after removal = %d, want -1", def)
	}
}

func TestInstallKeyRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.mustCreateStartedVdev(wlan.RoleClient, 1)
	mac := testutil.MAC(0x30)
	if err := h.dev.CreatePeer(ctx, id, mac, wlan.PeerBSS); err != nil {
		t.Fatalf("CreatePeer: %v", err)
	}

	base := wlan.Key{Cipher: wlan.CipherCCMP, Material: make([]byte, 16)}

	t.Run("management cipher", func(t *testing.T) {
		k := base
		k.Cipher = wlan.CipherAESCMAC
		if err := h.dev.InstallKey(ctx, id, mac, k); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})
	t.Run("index out of range", func(t *testing.T) {
		k := base
		k.Index = wlan.MaxKeyIndex + 1
		if err := h.dev.InstallKey(ctx, id, mac, k); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("err = %v, want ErrInvalidArgument", err)
		}
	})
	t.Run("unknown peer", func(t *testing.T) {
		if err := h.dev.InstallKey(ctx, id, testutil.MAC(0x99), base); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
	t.Run("raw crypto vdev", func(t *testing.T) {
		if err := h.dev.SetRawCrypto(id, true); err != nil {
			t.Fatalf("SetRawCrypto: %v", err)
		}
		sent := len(h.tr.Commands())
		if err := h.dev.InstallKey(ctx, id, mac, base); !errors.Is(err, ErrNotSupported) {
			t.Errorf("err = %v, want ErrNotSupported", err)
		}
		if got := len(h.tr.Commands()); got != sent {
			t.Error("raw-crypto rejection still touched the wire")
		}
	})
}

func TestScanLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.mustCreateStartedVdev(wlan.RoleClient, 1)

	if _, err := h.dev.StartScan(ctx, id); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	if got := h.dev.ScanState(); got != ScanRunning {
		t.Fatalf("ScanState = %s, want running", got)
	}

	// A second scan while one runs is refused without touching firmware.
	sent := len(h.tr.Commands())
	if _, err := h.dev.StartScan(ctx, id); !errors.Is(err, ErrBusy) {
		t.Errorf("overlapping StartScan = %v, want ErrBusy", err)
	}
	if got := len(h.tr.Commands()); got != sent {
		t.Error("rejected scan still sent commands")
	}

	// Firmware finishing the scan idles the controller.
	h.dev.dataMu.Lock()
	scanID := h.dev.scan.scanID
	h.dev.dataMu.Unlock()
	h.deliver(wmi.ScanEvent{
		VdevID: uint32(id), ScanID: scanID,
		Type: wmi.ScanEventCompleted, Reason: wmi.ScanReasonCompleted,
	})
	if got := h.dev.ScanState(); got != ScanIdle {
		t.Errorf("ScanState = %s, want idle", got)
	}

	// And a new scan can start.
	if _, err := h.dev.StartScan(ctx, id); err != nil {
		t.Errorf("StartScan after completion = %v, want nil", err)
	}
}

func TestScanStaleEventIgnored(t *testing.T) {
	h := newHarness(t)
	id := h.mustCreateStartedVdev(wlan.RoleClient, 1)
	if _, err := h.dev.StartScan(context.Background(), id); err != nil {
		t.Fatalf("StartScan: %v", err)
	}

	// Completion for a different scan id must not end this session.
	h.deliver(wmi.ScanEvent{
		VdevID: uint32(id), ScanID: 9999,
		Type: wmi.ScanEventCompleted, Reason: wmi.ScanReasonCompleted,
	})
	if got := h.dev.ScanState(); got != ScanRunning {
		t.Errorf("ScanState = %s, want running after stale event", got)
	}
}

func TestAbortScan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.mustCreateStartedVdev(wlan.RoleClient, 1)

	// Abort with nothing running is a no-op.
	if err := h.dev.AbortScan(ctx); err != nil {
		t.Fatalf("idle AbortScan: %v", err)
	}

	if _, err := h.dev.StartScan(ctx, id); err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	if err := h.dev.AbortScan(ctx); err != nil {
		t.Fatalf("AbortScan: %v", err)
	}
	if got := h.dev.ScanState(); got != ScanIdle {
		t.Errorf("ScanState = %s, want idle", got)
	}
}

func TestAbortScanUnconfirmedStillIdles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.mustCreateStartedVdev(wlan.RoleClient, 1)
	if _, err := h.dev.StartScan(ctx, id); err != nil {
		t.Fatalf("StartScan: %v", err)
	}

	h.mute(wmi.OpScanStop)
	if err := h.dev.AbortScan(ctx); err == nil {
		t.Error("AbortScan with mute firmware should report the wait failure")
	}
	// The host session must be idle regardless.
	if got := h.dev.ScanState(); got != ScanIdle {
		t.Errorf("ScanState = %s, want idle", got)
	}
}

func TestStartScanTimeoutRollsBack(t *testing.T) {
	h := newHarness(t)
	id := h.mustCreateStartedVdev(wlan.RoleClient, 1)

	h.mute(wmi.OpScanStart)
	_, err := h.dev.StartScan(context.Background(), id)
	if !completion.IsTimeout(err) {
		t.Fatalf("StartScan = %v, want timeout", err)
	}
	if got := h.dev.ScanState(); got != ScanIdle {
		t.Errorf("ScanState = %s, want idle", got)
	}
	// The rollback must have told firmware to stop whatever it started.
	if !h.tr.SentOp(testVariant, wmi.OpScanStop) {
		t.Error("no scan-stop rollback on the wire")
	}
}

func TestAssociation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.mustCreateStartedVdev(wlan.RoleClient, 1)
	bssid := testutil.MAC(0x40)

	done, err := h.dev.BeginAssociation(id, bssid, "lab-net")
	if err != nil {
		t.Fatalf("BeginAssociation: %v", err)
	}

	h.deliver(wmi.MgmtRxEvent{
		VdevID: uint32(id), FreqMHz: 5180, RSSI: -50,
		Frame: testutil.AssocResponseFrame(bssid),
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("association did not complete")
	}

	if st, _ := h.dev.VdevState(id); st != StateUp {
		t.Errorf("state = %s, want up", st)
	}
	if got := h.dev.PeerCount(); got != 1 {
		t.Errorf("PeerCount = %d, want 1 BSS peer", got)
	}
	if !h.tr.SentOp(testVariant, wmi.OpPeerAssoc) {
		t.Error("no peer-assoc command on the wire")
	}
	// The power-save poke is advertised by the service map in this harness.
	if !h.tr.SentOp(testVariant, wmi.OpPeerSetParam) {
		t.Error("no power-save poke on the wire")
	}

	if err := h.dev.Disassociate(ctx, id); err != nil {
		t.Fatalf("Disassociate: %v", err)
	}
	if st, _ := h.dev.VdevState(id); st != StateStarted {
		t.Errorf("state after disassociate = %s, want started", st)
	}
	if got := h.dev.PeerCount(); got != 0 {
		t.Errorf("PeerCount after disassociate = %d, want 0", got)
	}
	if err := h.dev.Disassociate(ctx, id); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Disassociate = %v, want ErrInvalidState", err)
	}
}

func TestAssociationIgnoresWrongBSSID(t *testing.T) {
	h := newHarness(t)
	id := h.mustCreateStartedVdev(wlan.RoleClient, 1)
	target := testutil.MAC(0x40)

	done, err := h.dev.BeginAssociation(id, target, "lab-net")
	if err != nil {
		t.Fatalf("BeginAssociation: %v", err)
	}

	// Response from a different BSS, then a rejection from the right one.
	h.deliver(wmi.MgmtRxEvent{
		VdevID: uint32(id),
		Frame:  testutil.AssocResponseFrame(testutil.MAC(0x41)),
	})
	h.deliver(wmi.MgmtRxEvent{
		VdevID: uint32(id),
		Frame:  testutil.AssocResponseFrame(target, testutil.WithStatus(17)),
	})

	select {
	case <-done:
		t.Fatal("association completed from wrong or rejected response")
	case <-time.After(50 * time.Millisecond):
	}
	if st, _ := h.dev.VdevState(id); st != StateStarted {
		t.Errorf("state = %s, want started", st)
	}

	if err := h.dev.CancelAssociation(id); err != nil {
		t.Fatalf("CancelAssociation: %v", err)
	}
}

func TestBeginAssociationPreconditions(t *testing.T) {
	h := newHarness(t)
	id, _ := h.dev.CreateVdev(wlan.RoleClient, testutil.MAC(1))

	// Not started yet.
	if _, err := h.dev.BeginAssociation(id, testutil.MAC(0x40), "x"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}

	ap := h.mustCreateStartedVdev(wlan.RoleAP, 2)
	if _, err := h.dev.BeginAssociation(ap, testutil.MAC(0x40), "x"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("AP association = %v, want ErrInvalidState", err)
	}
}

func TestMonitorFollowsPromiscuous(t *testing.T) {
	h := newHarness(t)
	h.mustCreateStartedVdev(wlan.RoleClient, 1)

	if err := h.dev.SetPromiscuous(true); err != nil {
		t.Fatalf("SetPromiscuous(true): %v", err)
	}
	h.dev.confMu.Lock()
	mon := h.dev.monitorVdev
	h.dev.confMu.Unlock()
	if mon == nil {
		t.Fatal("no monitor vdev after promiscuous on")
	}
	if mon.role != wlan.RoleMonitor {
		t.Errorf("monitor role = %s", mon.role)
	}
	if mon.state != StateStarted {
		t.Errorf("monitor state = %s, want started on the active channel", mon.state)
	}

	// Idempotent: a second enable must not create another vdev.
	creates := countOp(h.tr, wmi.OpVdevCreate)
	if err := h.dev.SetPromiscuous(true); err != nil {
		t.Fatalf("second SetPromiscuous(true): %v", err)
	}
	if got := countOp(h.tr, wmi.OpVdevCreate); got != creates {
		t.Errorf("vdev creates = %d, want %d", got, creates)
	}

	if err := h.dev.SetPromiscuous(false); err != nil {
		t.Fatalf("SetPromiscuous(false): %v", err)
	}
	h.dev.confMu.Lock()
	mon = h.dev.monitorVdev
	h.dev.confMu.Unlock()
	if mon != nil {
		t.Error("monitor vdev survived promiscuous off")
	}
}

func countOp(tr *testutil.MockTransport, op wmi.Op) int {
	id, _ := testVariant.CommandID(op)
	n := 0
	for _, cid := range tr.CommandIDs() {
		if cid == id {
			n++
		}
	}
	return n
}

func TestCAC(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Channel 36 carries no DFS requirement.
	if err := h.dev.StartCAC(ctx, 36, wlan.CBW20); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("StartCAC(36) = %v, want ErrInvalidArgument", err)
	}

	if err := h.dev.StartCAC(ctx, 52, wlan.CBW20); err != nil {
		t.Fatalf("StartCAC(52): %v", err)
	}
	if err := h.dev.FinishCAC(ctx); err != nil {
		t.Fatalf("FinishCAC: %v", err)
	}
	if err := h.dev.FinishCAC(ctx); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second FinishCAC = %v, want ErrInvalidState", err)
	}

	// Channel 52 passed the check and stays usable.
	id, _ := h.dev.CreateVdev(wlan.RoleAP, testutil.MAC(1))
	if err := h.dev.StartVdev(ctx, id, 52, wlan.CBW20); err != nil {
		t.Errorf("StartVdev(52) after CAC = %v, want nil", err)
	}
}

func TestCACStartFailureBlocksChannel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.mute(wmi.OpVdevStart)
	if err := h.dev.StartCAC(ctx, 52, wlan.CBW20); !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("StartCAC = %v, want ErrChannelUnavailable", err)
	}

	// The failed check counts as a radar hit: the channel is blocked.
	h.muted = map[wmi.Op]bool{}
	id, _ := h.dev.CreateVdev(wlan.RoleAP, testutil.MAC(1))
	if err := h.dev.StartVdev(ctx, id, 52, wlan.CBW20); !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("StartVdev(52) = %v, want ErrChannelUnavailable", err)
	}
}

func TestCloseRejectsFurtherOps(t *testing.T) {
	h := newHarness(t)
	h.mustCreateStartedVdev(wlan.RoleClient, 1)

	h.dev.Close()
	if _, err := h.dev.CreateVdev(wlan.RoleClient, testutil.MAC(2)); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("CreateVdev after Close = %v, want ErrDeviceClosed", err)
	}
	if err := h.dev.SetPromiscuous(true); !errors.Is(err, ErrDeviceClosed) {
		t.Errorf("SetPromiscuous after Close = %v, want ErrDeviceClosed", err)
	}
	// Close is idempotent.
	h.dev.Close()
}
