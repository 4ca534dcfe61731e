package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementDeviceSync records one device sync attempt.
const MeasurementDeviceSync = "device_sync"

// WriteSyncOutcome records a sync attempt as a device_sync point tagged by
// device id and type. The point is queued on the non-blocking write API;
// write failures surface through the OnError callback.
//
// Parameters:
//   - deviceID, deviceType: become the device_id and device_type tags
//   - success: whether every sync hook succeeded
//   - durationMS: wall time of the sync body
//   - at: the sync record timestamp
//
// Example:
//
//	client.WriteSyncOutcome("mt5-01", "terminal", true, 42, time.Now())
func (c *Client) WriteSyncOutcome(deviceID, deviceType string, success bool, durationMS int64, at time.Time) {
	c.WritePointWithTime(MeasurementDeviceSync,
		map[string]string{
			"device_id":   deviceID,
			"device_type": deviceType,
		},
		map[string]any{
			"success":     success,
			"duration_ms": durationMS,
		},
		at,
	)
}

// WritePoint writes a point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp. Points
// written after Close are dropped silently; callers that need to know should
// check IsConnected first.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
