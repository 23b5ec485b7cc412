package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDevice) {
//	    // timeout or disconnected
//	}
var (
	// ErrDevice is returned when the control system times out, is
	// disconnected, or rejects a write.
	ErrDevice = errors.New("device: control system error")

	// ErrAccessorPut is returned for writes to read-only accessors, to
	// accessors whose type is not writable, or with values that cannot be
	// converted to the accessor's type.
	ErrAccessorPut = errors.New("device: accessor not writable")

	// ErrDestroyed is returned by every operation after Destroy.
	ErrDestroyed = errors.New("device: destroyed")

	// ErrMonitorRegistered is returned by a second call to Monitor.
	ErrMonitorRegistered = errors.New("device: monitor already registered")

	// ErrMonitorAfterUse is returned by Monitor after Get or Put opened the channel.
	ErrMonitorAfterUse = errors.New("device: monitor must be called before get/put")

	// ErrUnknownAccessor is returned for accessor names the device does not have.
	ErrUnknownAccessor = errors.New("device: unknown accessor")
)
