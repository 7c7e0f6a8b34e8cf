package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nimbus-iot/nimbus-core/internal/history"
)

// telemetryMessage is the wire shape of a telemetry reading.
type telemetryMessage struct {
	DeviceID  string   `json:"deviceId"`
	Channel   string   `json:"channel"`
	Value     *float64 `json:"value"`
	Timestamp string   `json:"timestamp"`
}

// parseReading decodes and validates one telemetry payload.
//
// The device ID embedded in the payload must match the topic's device
// segment; a mismatch means a confused or misbehaving device and the
// message is treated as malformed.
func parseReading(topicDeviceID string, payload []byte) (history.Reading, error) {
	var msg telemetryMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return history.Reading{}, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}

	if msg.DeviceID == "" {
		return history.Reading{}, fmt.Errorf("%w: missing deviceId", ErrMalformedInput)
	}
	if msg.DeviceID != topicDeviceID {
		return history.Reading{}, fmt.Errorf("%w: payload device %q does not match topic device %q",
			ErrMalformedInput, msg.DeviceID, topicDeviceID)
	}
	if msg.Channel == "" {
		return history.Reading{}, fmt.Errorf("%w: missing channel", ErrMalformedInput)
	}
	if msg.Value == nil {
		return history.Reading{}, fmt.Errorf("%w: missing value", ErrMalformedInput)
	}

	recordedAt, err := time.Parse(time.RFC3339, msg.Timestamp)
	if err != nil {
		return history.Reading{}, fmt.Errorf("%w: bad timestamp %q: %w", ErrMalformedInput, msg.Timestamp, err)
	}

	return history.Reading{
		DeviceID:   msg.DeviceID,
		Channel:    msg.Channel,
		Value:      *msg.Value,
		RecordedAt: recordedAt,
	}, nil
}

// versionMessage is the wire shape of a firmware check-in.
type versionMessage struct {
	DeviceID string `json:"deviceId"`
	Version  string `json:"version"`
}

// parseVersionCheckin decodes and validates one check-in payload.
func parseVersionCheckin(topicDeviceID string, payload []byte) (versionMessage, error) {
	var msg versionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return versionMessage{}, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	if msg.DeviceID == "" {
		msg.DeviceID = topicDeviceID
	}
	if msg.DeviceID != topicDeviceID {
		return versionMessage{}, fmt.Errorf("%w: payload device %q does not match topic device %q",
			ErrMalformedInput, msg.DeviceID, topicDeviceID)
	}
	if msg.Version == "" {
		return versionMessage{}, fmt.Errorf("%w: missing version", ErrMalformedInput)
	}
	return msg, nil
}
