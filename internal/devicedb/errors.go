package devicedb

import "errors"

// Domain errors for the devicedb package.
//
//	if errors.Is(err, devicedb.ErrDeviceNotFound) {
//	    // 404
//	}
var (
	// ErrDeviceNotFound is returned when a device name is not in the catalog.
	ErrDeviceNotFound = errors.New("devicedb: device not found")

	// ErrUnknownDeviceType is returned for device types outside DeviceTypes.
	ErrUnknownDeviceType = errors.New("devicedb: unknown device type")

	// ErrNoAccessors is returned when a device has no accessors defined.
	ErrNoAccessors = errors.New("devicedb: no accessors")

	// ErrNoDevices is returned when a beam path has no devices of the requested type.
	ErrNoDevices = errors.New("devicedb: no devices")

	// ErrInvalidDevice is returned when device metadata fails validation.
	ErrInvalidDevice = errors.New("devicedb: invalid device")
)
