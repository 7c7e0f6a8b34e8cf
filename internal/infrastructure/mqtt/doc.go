// Package mqtt provides the broker connection shared by all
// device-facing traffic: telemetry ingress, firmware check-ins, and
// outbound device commands.
//
// # Topic Namespace
//
// Device-originated topics are versioned and end with the device
// identifier:
//
//	iot/data/1.0.0/{deviceID}     telemetry readings
//	iot/version/1.0.0/{deviceID}  firmware check-ins
//
// Service-originated topics:
//
//	iot/commands/{deviceID}  commands to one device
//	nimbus/system/status     service status (retained, LWT target)
//
// # Connection Management
//
// The client maintains a persistent session (CleanSession=false) so the
// broker queues QoS 1 telemetry while the service restarts. Auto
// reconnect uses exponential backoff between the configured initial and
// maximum delays, and active subscriptions are restored on every
// reconnect.
//
// # Offline Detection
//
// A Last Will message with status "lost" is registered at connect time.
// Graceful shutdown publishes status "offline" instead, so operators
// can distinguish a crash from a planned restart.
package mqtt
