package main

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tmorgen/airvane/internal/wmi"
	"github.com/tmorgen/airvane/pkg/wlan"
)

// simBSS is one access point the simulated firmware can see.
type simBSS struct {
	BSSID   net.HardwareAddr
	SSID    string
	FreqMHz uint32
	RSSI    int32
}

// simFirmware emulates the firmware side of the WMI link: commands in,
// paced response events out. Event delivery runs on one goroutine so
// arrival order matches emission order, as the real interconnect
// guarantees.
type simFirmware struct {
	variant  wmi.Variant
	logger   *zap.Logger
	limiter  *rate.Limiter
	networks []simBSS

	nextPeerID atomic.Uint32

	mu      sync.Mutex
	deliver func(raw []byte)
	queue   chan []byte
	done    chan struct{}
}

func newSimFirmware(variant wmi.Variant, networks []simBSS, logger *zap.Logger) *simFirmware {
	f := &simFirmware{
		variant:  variant,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Limit(200), 20),
		networks: networks,
		queue:    make(chan []byte, 128),
		done:     make(chan struct{}),
	}
	go f.deliveryLoop()
	return f
}

// Attach wires the event consumer. Must be called before any command.
func (f *simFirmware) Attach(deliver func(raw []byte)) {
	f.mu.Lock()
	f.deliver = deliver
	f.mu.Unlock()
}

// Stop ends the delivery loop.
func (f *simFirmware) Stop() {
	close(f.done)
}

func (f *simFirmware) deliveryLoop() {
	for {
		select {
		case <-f.done:
			return
		case raw := <-f.queue:
			if err := f.limiter.Wait(context.Background()); err != nil {
				return
			}
			f.mu.Lock()
			deliver := f.deliver
			f.mu.Unlock()
			if deliver != nil {
				deliver(raw)
			}
		}
	}
}

func (f *simFirmware) emit(ev wmi.Event) {
	select {
	case f.queue <- wmi.MarshalEvent(f.variant, ev):
	default:
		f.logger.Warn("sim event queue full, dropping", zap.Stringer("type", ev.EventType()))
	}
}

// Send implements wmi.Transport. Commands are matched back to logical
// operations through the variant's own id table.
func (f *simFirmware) Send(cmdID uint32, payload []byte) error {
	op, ok := f.opForID(cmdID)
	if !ok {
		f.logger.Warn("sim: unknown command id", zap.Uint32("cmd_id", cmdID))
		return nil
	}
	vdevID := leU32(payload, 0)

	switch op {
	case wmi.OpVdevStart, wmi.OpVdevRestart:
		f.emit(wmi.VdevStartResponseEvent{VdevID: vdevID, Status: wmi.StatusOK})
	case wmi.OpVdevStop:
		f.emit(wmi.VdevStoppedEvent{VdevID: vdevID})
	case wmi.OpPeerCreate:
		f.emit(wmi.PeerCreateDoneEvent{
			VdevID: vdevID,
			MAC:    macAt(payload, 4),
			PeerID: f.nextPeerID.Add(1),
			Status: wmi.StatusOK,
		})
	case wmi.OpPeerDelete:
		f.emit(wmi.PeerDeleteDoneEvent{VdevID: vdevID, MAC: macAt(payload, 4), Status: wmi.StatusOK})
	case wmi.OpKeyInstall:
		f.emit(wmi.KeyInstallDoneEvent{VdevID: vdevID, Status: wmi.StatusOK})
	case wmi.OpScanStart:
		f.runScan(vdevID, leU32(payload, 4))
	case wmi.OpScanStop:
		f.emit(wmi.ScanEvent{
			VdevID: vdevID,
			ScanID: leU32(payload, 4),
			Type:   wmi.ScanEventCompleted | wmi.ScanEventDequeued,
			Reason: wmi.ScanReasonCancelled,
		})
	}
	return nil
}

// runScan emits the full scan event train: started, one beacon per visible
// BSS, completed.
func (f *simFirmware) runScan(vdevID, scanID uint32) {
	f.emit(wmi.ScanEvent{VdevID: vdevID, ScanID: scanID, Type: wmi.ScanEventStarted})
	for _, bss := range f.networks {
		f.emit(wmi.ScanEvent{
			VdevID: vdevID, ScanID: scanID,
			Type: wmi.ScanEventForeignChannel, FreqMHz: bss.FreqMHz,
		})
		f.emit(wmi.MgmtRxEvent{
			VdevID:  vdevID,
			FreqMHz: bss.FreqMHz,
			RSSI:    bss.RSSI,
			Frame:   beaconFrame(bss.BSSID, bss.SSID),
		})
	}
	f.emit(wmi.ScanEvent{
		VdevID: vdevID, ScanID: scanID,
		Type: wmi.ScanEventCompleted, Reason: wmi.ScanReasonCompleted,
	})
}

// AnnounceAssoc makes the named BSS accept an association on the vdev.
func (f *simFirmware) AnnounceAssoc(vdevID uint32, bss simBSS, aid uint16) {
	f.emit(wmi.MgmtRxEvent{
		VdevID:  vdevID,
		FreqMHz: bss.FreqMHz,
		RSSI:    bss.RSSI,
		Frame:   assocResponseFrame(bss.BSSID, aid),
	})
}

func (f *simFirmware) opForID(cmdID uint32) (wmi.Op, bool) {
	for op := wmi.OpVdevCreate; op <= wmi.OpExtResourceConfig; op++ {
		if id, ok := f.variant.CommandID(op); ok && id == cmdID {
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

// beaconFrame builds a minimal beacon for the given BSS.
func beaconFrame(bssid net.HardwareAddr, ssid string) []byte {
	frame := make([]byte, 24)
	frame[0] = 0x80
	copy(frame[16:22], bssid)
	frame = append(frame, make([]byte, 8)...)               // timestamp
	frame = binary.LittleEndian.AppendUint16(frame, 100)    // beacon interval
	frame = binary.LittleEndian.AppendUint16(frame, 0x0431) // capability
	frame = append(frame, 0, byte(len(ssid)))
	frame = append(frame, ssid...)
	return frame
}

// assocResponseFrame builds a successful association response.
func assocResponseFrame(bssid net.HardwareAddr, aid uint16) []byte {
	frame := make([]byte, 24)
	frame[0] = 0x10
	copy(frame[16:22], bssid)
	frame = binary.LittleEndian.AppendUint16(frame, 0x0431) // capability
	frame = binary.LittleEndian.AppendUint16(frame, wlan.StatusSuccess)
	frame = binary.LittleEndian.AppendUint16(frame, aid|0xc000)
	frame = append(frame, 1, 4, 0x02, 0x04, 0x0b, 0x16) // supported rates
	return frame
}
