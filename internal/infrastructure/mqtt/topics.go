package mqtt

import "strings"

// Topic scheme version for device-originated traffic. Devices in the
// field embed this in their publish topics, so changing it is a
// fleet-wide firmware event.
const topicVersion = "1.0.0"

// Topics provides topic construction for the Nimbus MQTT namespace.
//
// Device-originated topics carry the scheme version and end with the
// device identifier:
//
//	iot/data/1.0.0/{deviceID}     - telemetry readings
//	iot/version/1.0.0/{deviceID}  - firmware check-ins
//
// Service-originated topics:
//
//	iot/commands/{deviceID}  - commands to a specific device
//	nimbus/system/status     - service online/offline status (retained + LWT)
type Topics struct{}

// DataIngress returns the wildcard subscription for telemetry readings
// from all devices.
func (Topics) DataIngress() string {
	return "iot/data/" + topicVersion + "/+"
}

// VersionIngress returns the wildcard subscription for firmware
// check-ins from all devices.
func (Topics) VersionIngress() string {
	return "iot/version/" + topicVersion + "/+"
}

// DeviceData returns the telemetry topic for a specific device.
// Used in tests and tooling; devices construct this themselves.
func (Topics) DeviceData(deviceID string) string {
	return "iot/data/" + topicVersion + "/" + deviceID
}

// DeviceVersion returns the firmware check-in topic for a specific device.
func (Topics) DeviceVersion(deviceID string) string {
	return "iot/version/" + topicVersion + "/" + deviceID
}

// DeviceCommand returns the command topic for a specific device.
// Devices subscribe to their own command topic only.
func (Topics) DeviceCommand(deviceID string) string {
	return "iot/commands/" + deviceID
}

// SystemStatus returns the service status topic (retained, also the LWT target).
func (Topics) SystemStatus() string {
	return "nimbus/system/status"
}

// DeviceIDFromTopic extracts the device identifier from a
// device-originated topic. The identifier is always the final segment.
//
// Returns an empty string if the topic has no segments or ends with a
// separator, which callers must treat as malformed input.
func DeviceIDFromTopic(topic string) string {
	idx := strings.LastIndexByte(topic, '/')
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}
