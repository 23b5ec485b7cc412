// Package controlsys is the boundary to the accelerator control system.
//
// A Client opens a Channel on a process-variable address. Channels answer
// Get and Put and, when opened with a Monitor, deliver connection changes
// and value updates in order on a goroutine owned by the channel.
//
// Two clients are provided:
//   - Memory, an in-process simulator used by tests and the "memory" backend
//   - MQTTClient, which talks to a PV gateway through the MQTT broker
//
// Values are normalised to bool, int64, float64 or []float64.
package controlsys
