package mqtt

import "fmt"

// DefaultTopicPrefix is the root used when no prefix is configured.
const DefaultTopicPrefix = "beamline"

// Topics builds the MQTT topics used by Beamline Core.
//
// Every topic lives under Prefix (control.topic_prefix):
//
//	<prefix>/pv/<address>          retained value published by the gateway
//	<prefix>/pv/<address>/put      write request from Core
//	<prefix>/pv/<address>/ack      write acknowledgement from the gateway
//	<prefix>/screen/<device>/<kind> screen errors and move requests
//	<prefix>/screen/<device>/update/<accessor> retained accessor values
//	<prefix>/system/status         Core online/offline status (LWT)
//
// A zero Topics uses DefaultTopicPrefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// PVValue returns the value topic for a control-system address.
//
// Example: beamline/pv/YAG:IN20:241:TGT_STS
func (t Topics) PVValue(address string) string {
	return fmt.Sprintf("%s/pv/%s", t.prefix(), address)
}

// PVPut returns the topic write requests for an address are published on.
//
// Example: beamline/pv/YAG:IN20:241:PNEUMATIC/put
func (t Topics) PVPut(address string) string {
	return t.PVValue(address) + "/put"
}

// PVAck returns the topic the gateway acknowledges writes on.
//
// Example: beamline/pv/YAG:IN20:241:PNEUMATIC/ack
func (t Topics) PVAck(address string) string {
	return t.PVValue(address) + "/ack"
}

// ScreenEvent returns the topic screen events of one kind are published on.
//
// Example: beamline/screen/YAG03/update
func (t Topics) ScreenEvent(device, kind string) string {
	return fmt.Sprintf("%s/screen/%s/%s", t.prefix(), device, kind)
}

// ScreenUpdate returns the retained topic for one accessor of a screen.
//
// Example: beamline/screen/YAG03/update/target_status
func (t Topics) ScreenUpdate(device, accessor string) string {
	return t.ScreenEvent(device, "update") + "/" + accessor
}

// SystemStatus returns the system status topic.
//
// Example: beamline/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix())
}

// AllScreenEvents returns a pattern matching every screen event.
//
// Pattern: beamline/screen/#
func (t Topics) AllScreenEvents() string {
	return fmt.Sprintf("%s/screen/#", t.prefix())
}

// AllTopics returns a pattern matching all Beamline Core topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: beamline/#
func (t Topics) AllTopics() string {
	return t.prefix() + "/#"
}
