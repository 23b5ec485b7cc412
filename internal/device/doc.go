// Package device gives typed, lazily connected access to the control-system
// values of one beamline device.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────┐
//	│                         Device                              │
//	│   name, catalog metadata, accessors created on demand       │
//	│                                                             │
//	│   ┌──────────────┐  ┌──────────────┐  ┌──────────────┐      │
//	│   │  Accessor    │  │  Accessor    │  │  Accessor    │ ...  │
//	│   │ target_status│  │   image      │  │  acquire     │      │
//	│   └──────┬───────┘  └──────┬───────┘  └──────┬───────┘      │
//	└──────────│─────────────────│─────────────────│──────────────┘
//	           ▼                 ▼                 ▼
//	┌────────────────────────────────────────────────────────────┐
//	│                controlsys.Client (MQTT / memory)            │
//	└────────────────────────────────────────────────────────────┘
//
// An Accessor opens its control-system channel on first use. Exactly one
// caller performs the open; concurrent callers wait for it, bounded by the
// accessor timeout.
//
// # Monitoring
//
// Monitor must be called before any Get or Put on the same accessor. The
// callback receives a Change for each value update, connection change, or
// error notice (missing value, empty image). Callbacks run on the
// control-system client's goroutine and should only hand the Change off,
// typically to an actionloop.Loop.
//
// # Usage
//
//	dev, err := device.Open(ctx, catalog, client, "YAG01", device.Options{Timeout: 5 * time.Second})
//	if err != nil {
//	    return err
//	}
//	defer dev.Destroy()
//
//	status, err := dev.Get(ctx, "target_status")
//	err = dev.Put(ctx, "target_control", 1)
//
// # Thread Safety
//
// Device and Accessor are safe for concurrent use. Destroy is idempotent;
// every operation after it fails with ErrDestroyed.
package device
