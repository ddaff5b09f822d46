package driver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tmorgen/airvane/internal/completion"
	"github.com/tmorgen/airvane/internal/survey"
	"github.com/tmorgen/airvane/internal/wmi"
	"github.com/tmorgen/airvane/pkg/wlan"
)

// ScanState is the host-side scan controller state. The device runs at most
// one scan at a time regardless of how many vdevs exist.
type ScanState int

const (
	ScanIdle ScanState = iota
	ScanStarting
	ScanRunning
	ScanAborting
)

// String returns the string representation of a ScanState.
func (s ScanState) String() string {
	switch s {
	case ScanIdle:
		return "idle"
	case ScanStarting:
		return "starting"
	case ScanRunning:
		return "running"
	case ScanAborting:
		return "aborting"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Default per-channel dwell time for a scan sweep.
const defaultDwellMs = 50

// scanSession is the current scan, guarded by the device's data lock. The
// scan id disambiguates stale events: firmware may still emit progress for a
// scan the host already declared over.
type scanSession struct {
	state    ScanState
	scanID   uint32
	nextID   uint32
	vdevID   int
	surveyID string
}

// ScanState returns the controller state at the time of the call.
func (d *Device) ScanState() ScanState {
	d.dataMu.Lock()
	defer d.dataMu.Unlock()
	return d.scan.state
}

// StartScan sweeps every non-blocked channel in the table, probing for the
// given SSIDs (none means a passive listen on each channel). It blocks until
// firmware confirms the scan started; an unconfirmed start is rolled back
// with a best-effort stop so firmware cannot keep scanning behind an idle
// host. The returned id names the survey record, empty when persistence is
// disabled.
func (d *Device) StartScan(ctx context.Context, vdevID int, ssids ...string) (string, error) {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return "", err
	}
	if _, ok := d.vdevs[vdevID]; !ok {
		return "", fmt.Errorf("%w: vdev %d", ErrNotFound, vdevID)
	}

	d.dataMu.Lock()
	if d.scan.state != ScanIdle {
		state := d.scan.state
		d.dataMu.Unlock()
		return "", fmt.Errorf("%w: scan already %s", ErrBusy, state)
	}
	d.scan.nextID++
	scanID := d.scan.nextID
	d.scan.state = ScanStarting
	d.scan.scanID = scanID
	d.scan.vdevID = vdevID
	freqs := d.scanFreqsLocked()
	d.dataMu.Unlock()

	if len(freqs) == 0 {
		d.resetScanLocked()
		return "", fmt.Errorf("%w: no scannable channels", ErrChannelUnavailable)
	}

	ssidBytes := make([][]byte, 0, len(ssids))
	for _, s := range ssids {
		ssidBytes = append(ssidBytes, []byte(s))
	}

	c, err := d.completions.Begin(completion.Tag{VdevID: vdevID, Kind: completion.KindScanStart})
	if err != nil {
		d.resetScanLocked()
		return "", err
	}
	if err := d.bridge.Send(wmi.OpScanStart, wmi.ScanStartParams{
		VdevID:   uint32(vdevID),
		ScanID:   scanID,
		FreqsMHz: freqs,
		SSIDs:    ssidBytes,
		DwellMs:  defaultDwellMs,
	}); err != nil {
		d.completions.Abandon(c)
		d.resetScanLocked()
		return "", err
	}

	if err := d.wait(ctx, c, wmi.OpScanStart, d.timeouts.ScanStart); err != nil {
		// Unconfirmed start: firmware may or may not be scanning. Stop it
		// either way, then declare idle; a late started event is stale by
		// scan id and gets dropped.
		d.logger.Warn("scan start not confirmed, stopping",
			zap.Int("vdev", vdevID), zap.Uint32("scan_id", scanID), zap.Error(err))
		if serr := d.bridge.Send(wmi.OpScanStop, wmi.ScanStopParams{
			VdevID: uint32(vdevID), ScanID: scanID,
		}); serr != nil {
			d.logger.Debug("rollback scan stop failed", zap.Error(serr))
		}
		d.resetScanLocked()
		return "", err
	}

	surveyID := d.beginSurvey(ctx, vdevID)

	d.dataMu.Lock()
	if d.scan.state != ScanStarting || d.scan.scanID != scanID {
		// The scan already ended (completed event beat the waiter). The
		// session was reset on the event path; just close out the record.
		d.dataMu.Unlock()
		d.endSurvey(surveyID, survey.StatusCompleted)
		return surveyID, nil
	}
	d.scan.state = ScanRunning
	d.scan.surveyID = surveyID
	d.dataMu.Unlock()

	d.logger.Info("scan running", zap.Int("vdev", vdevID),
		zap.Uint32("scan_id", scanID), zap.Int("channels", len(freqs)))
	return surveyID, nil
}

// AbortScan cancels the running scan and waits for firmware to confirm the
// stop. Whatever firmware answers, the host session ends up idle: an abort
// must never leave the controller stuck.
func (d *Device) AbortScan(ctx context.Context) error {
	d.confMu.Lock()
	defer d.confMu.Unlock()
	if err := d.checkOpenLocked(); err != nil {
		return err
	}

	d.dataMu.Lock()
	state := d.scan.state
	scanID := d.scan.scanID
	vdevID := d.scan.vdevID
	if state == ScanRunning {
		d.scan.state = ScanAborting
	}
	d.dataMu.Unlock()

	switch state {
	case ScanIdle:
		return nil
	case ScanStarting, ScanAborting:
		d.logger.Debug("abort ignored, scan transitioning", zap.Stringer("state", state))
		return nil
	}

	var waitErr error
	c, err := d.completions.Begin(completion.Tag{VdevID: vdevID, Kind: completion.KindScanStop})
	if err != nil {
		waitErr = err
	} else if err := d.bridge.Send(wmi.OpScanStop, wmi.ScanStopParams{
		VdevID: uint32(vdevID), ScanID: scanID,
	}); err != nil {
		d.completions.Abandon(c)
		waitErr = err
	} else {
		waitErr = d.wait(ctx, c, wmi.OpScanStop, d.timeouts.ScanStop)
	}

	d.forceScanIdle(survey.StatusCancelled)
	if waitErr != nil {
		d.logger.Warn("scan abort not confirmed, forcing idle", zap.Error(waitErr))
		return waitErr
	}
	d.logger.Info("scan aborted", zap.Uint32("scan_id", scanID))
	return nil
}

// scanFreqsLocked builds the sweep frequency list: the whole channel table
// minus radar-blocked channels. Data lock held.
func (d *Device) scanFreqsLocked() []uint32 {
	var freqs []uint32
	for _, c := range d.channels.Channels() {
		if _, blocked := d.blockedChannels[c.Number]; blocked {
			continue
		}
		freqs = append(freqs, c.FreqMHz)
	}
	return freqs
}

// resetScanLocked returns the session to idle with no survey to close.
// Named for the configuration lock, which callers hold; the data lock is
// taken inside.
func (d *Device) resetScanLocked() {
	d.dataMu.Lock()
	d.scan.state = ScanIdle
	d.scan.surveyID = ""
	d.dataMu.Unlock()
}

// forceScanIdle unconditionally idles the scan session and closes its survey
// record with the given terminal status. Safe to call in any state.
func (d *Device) forceScanIdle(status string) {
	d.dataMu.Lock()
	surveyID := d.forceScanIdleLocked()
	d.dataMu.Unlock()
	d.endSurvey(surveyID, status)
}

// forceScanIdleLocked is forceScanIdle under an already-held data lock. It
// returns the survey id the caller must close out, if any.
func (d *Device) forceScanIdleLocked() string {
	surveyID := d.scan.surveyID
	d.scan.state = ScanIdle
	d.scan.surveyID = ""
	return surveyID
}

// scanEventReceived tracks firmware scan progress on the event path. Only
// the data lock is taken; a caller blocked inside StartScan or AbortScan
// holds the configuration lock while this runs.
func (d *Device) scanEventReceived(e wmi.ScanEvent) {
	d.dataMu.Lock()
	if d.scan.state == ScanIdle || e.ScanID != d.scan.scanID {
		d.dataMu.Unlock()
		d.logger.Debug("stale scan event dropped",
			zap.Uint32("scan_id", e.ScanID), zap.Uint32("type", e.Type))
		return
	}

	if e.Type&(wmi.ScanEventCompleted|wmi.ScanEventDequeued) != 0 {
		surveyID := d.forceScanIdleLocked()
		d.dataMu.Unlock()
		status := scanReasonStatus(e.Reason)
		d.endSurvey(surveyID, status)
		d.logger.Info("scan finished",
			zap.Uint32("scan_id", e.ScanID), zap.String("status", status))
		return
	}
	d.dataMu.Unlock()

	if e.Type&(wmi.ScanEventBSSChannel|wmi.ScanEventForeignChannel) != 0 {
		d.logger.Debug("scan channel change",
			zap.Uint32("scan_id", e.ScanID), zap.Uint32("freq_mhz", e.FreqMHz))
	}
}

// scanReasonStatus maps a firmware completion reason to a survey status.
func scanReasonStatus(reason uint32) string {
	switch reason {
	case wmi.ScanReasonCompleted:
		return survey.StatusCompleted
	case wmi.ScanReasonCancelled:
		return survey.StatusCancelled
	case wmi.ScanReasonTimedOut:
		return survey.StatusTimedOut
	default:
		return survey.StatusError
	}
}

// beginSurvey opens a survey record. Persistence is best-effort: a nil
// store or a failed insert disables recording for this scan only.
func (d *Device) beginSurvey(ctx context.Context, vdevID int) string {
	if d.surveyStore == nil {
		return ""
	}
	id, err := d.surveyStore.BeginScan(ctx, vdevID)
	if err != nil {
		d.logger.Warn("survey record open failed", zap.Error(err))
		return ""
	}
	return id
}

// endSurvey closes a survey record off the caller's goroutine; the event
// path must not block on the database.
func (d *Device) endSurvey(surveyID, status string) {
	if surveyID == "" || d.surveyStore == nil {
		return
	}
	go func() {
		if err := d.surveyStore.EndScan(context.Background(), surveyID, status); err != nil {
			d.logger.Warn("survey record close failed",
				zap.String("survey_id", surveyID), zap.Error(err))
		}
	}()
}

// recordScanSighting persists one BSS observed mid-scan. Runs from the
// event path, so the insert happens on its own goroutine.
func (d *Device) recordScanSighting(surveyID string, e wmi.MgmtRxEvent) {
	if d.surveyStore == nil {
		return
	}
	info, err := wlan.ParseBSSReport(e.Frame)
	if err != nil {
		d.logger.Debug("unparseable BSS report dropped", zap.Error(err))
		return
	}
	sighting := survey.Sighting{
		BSSID:   info.BSSID.String(),
		SSID:    info.SSID,
		FreqMHz: int(e.FreqMHz),
		RSSI:    int(e.RSSI),
	}
	go func() {
		if err := d.surveyStore.RecordSighting(context.Background(), surveyID, sighting); err != nil {
			d.logger.Warn("sighting record failed", zap.Error(err))
		}
	}()
}
