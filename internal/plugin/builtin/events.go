package builtin

import (
	"context"
	"fmt"

	"github.com/nerrad567/devicehub-core/internal/device"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicehub-core/internal/plugin"
)

// NewMQTTEvents publishes every lifecycle event as JSON on
// devicehub/events/{event}/{device_id}. It needs the MQTT publisher.
//
// Settings:
//
//	retain  publish events as retained messages (false)
func NewMQTTEvents(m plugin.Manifest, deps plugin.Deps) (plugin.Plugin, error) {
	if deps.Publisher == nil {
		return nil, fmt.Errorf("%w: mqtt_events needs mqtt.enabled", plugin.ErrMissingDependency)
	}
	pub := deps.Publisher
	retain, _ := m.Settings["retain"].(bool)
	topics := mqtt.Topics{}

	return plugin.NewEventForwarder(m.Name, func(_ context.Context, e plugin.Event) error {
		return pub.PublishJSON(topics.Event(e.Short(), e.DeviceID), e, retain)
	}), nil
}

// InfluxTelemetry writes one device_sync point per completed or failed sync.
type InfluxTelemetry struct {
	name      string
	telemetry plugin.Telemetry
}

// NewInfluxTelemetry is the influx_telemetry plugin factory. It needs the
// InfluxDB client.
func NewInfluxTelemetry(m plugin.Manifest, deps plugin.Deps) (plugin.Plugin, error) {
	if deps.Telemetry == nil {
		return nil, fmt.Errorf("%w: influx_telemetry needs influxdb.enabled", plugin.ErrMissingDependency)
	}
	return &InfluxTelemetry{name: m.Name, telemetry: deps.Telemetry}, nil
}

// Name returns the manifest name.
func (i *InfluxTelemetry) Name() string { return i.name }

// Initialize is a no-op.
func (i *InfluxTelemetry) Initialize(context.Context, plugin.DeviceReader) error { return nil }

// OnDeviceSynced writes one device_sync point for a completed or failed
// sync. Skipped syncs are not recorded. Writes are buffered by the InfluxDB
// client, so this never blocks on the network.
func (i *InfluxTelemetry) OnDeviceSynced(_ context.Context, d *device.Device, rec device.SyncRecord) error {
	if rec.Skipped {
		return nil
	}
	i.telemetry.WriteSyncOutcome(d.ID, string(d.Type), rec.Success, rec.DurationMS, rec.Timestamp)
	return nil
}
