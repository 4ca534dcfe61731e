// Package influxdb provides optional InfluxDB telemetry for DeviceHub Core.
//
// Every sync attempt can be recorded as a device_sync point:
//
//	device_sync,device_id=mt5-01,device_type=terminal success=true,duration_ms=42i
//
// Writes are batched by the underlying influxdb-client-go WriteAPI and never
// block the caller.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.SetOnError(func(err error) { log.Warn("influx write failed", "error", err) })
//	client.WriteSyncOutcome("mt5-01", "terminal", true, 42, time.Now())
package influxdb
