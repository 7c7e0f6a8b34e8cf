package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteReading writes a single accepted telemetry reading.
//
// This is the primary method for recording device telemetry. The write
// is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Unique identifier for the device
//   - channel: Sensor channel name (e.g. "temperature", "humidity")
//   - value: The numeric reading
//   - recordedAt: Device-reported timestamp of the reading
func (c *Client) WriteReading(deviceID, channel string, value float64, recordedAt time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"telemetry",
		map[string]string{
			"device_id": deviceID,
			"channel":   channel,
		},
		map[string]interface{}{
			"value": value,
		},
		recordedAt,
	)

	c.writeAPI.WritePoint(point)
}

// WriteRollup writes an hourly per-channel aggregate for a device.
//
// Rollups carry the mean value over the hour ending at bucketEnd and
// the sample count that produced it.
//
// Parameters:
//   - deviceID: Device identifier
//   - channel: Sensor channel name
//   - avg: Mean value over the hour
//   - samples: Number of readings aggregated
//   - bucketEnd: End of the hour bucket (used as the point timestamp)
func (c *Client) WriteRollup(deviceID, channel string, avg float64, samples int, bucketEnd time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"telemetry_hourly",
		map[string]string{
			"device_id": deviceID,
			"channel":   channel,
		},
		map[string]interface{}{
			"avg":     avg,
			"samples": samples,
		},
		bucketEnd,
	)

	c.writeAPI.WritePoint(point)
}

// WriteAlertEvent records a dispatched or failed alert for audit trails.
//
// Parameters:
//   - deviceID: Device whose rule violation produced the alert
//   - ruleID: Identifier of the violated rule
//   - outcome: "delivered", "suppressed", or "failed"
func (c *Client) WriteAlertEvent(deviceID, ruleID, outcome string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"alert_events",
		map[string]string{
			"device_id": deviceID,
			"rule_id":   ruleID,
			"outcome":   outcome,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
