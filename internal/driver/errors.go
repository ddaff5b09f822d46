package driver

import "errors"

// Sentinel errors returned by driver operations. Host-side precondition
// failures (capacity, unsupported feature, invalid state) are returned
// before any wire command is issued.
var (
	// ErrResourceExhausted means no free vdev id remains or the joint
	// peer/vdev budget is spent.
	ErrResourceExhausted = errors.New("driver: resource exhausted")

	// ErrChannelNotFound means the requested channel number is not in the
	// device's channel table.
	ErrChannelNotFound = errors.New("driver: channel not found")

	// ErrChannelUnavailable means radar was detected (or CAC failed, which
	// is treated the same) and transmission on the channel is disabled
	// until the region is re-evaluated.
	ErrChannelUnavailable = errors.New("driver: channel unavailable after radar")

	// ErrNotFound means a vdev or peer lookup against a caller-supplied
	// identifier failed.
	ErrNotFound = errors.New("driver: not found")

	// ErrInvalidState means the operation is undefined in the entity's
	// current state.
	ErrInvalidState = errors.New("driver: invalid state")

	// ErrInvalidArgument rejects caller input that can never succeed, such
	// as installing a management-frame integrity cipher.
	ErrInvalidArgument = errors.New("driver: invalid argument")

	// ErrNotSupported means the current mode or negotiated firmware has no
	// way to perform the operation (e.g. hardware crypto disabled).
	ErrNotSupported = errors.New("driver: not supported")

	// ErrBusy rejects a scan request while another scan session exists.
	ErrBusy = errors.New("driver: scan already in progress")

	// ErrDeviceClosed means the device context was torn down.
	ErrDeviceClosed = errors.New("driver: device closed")
)
