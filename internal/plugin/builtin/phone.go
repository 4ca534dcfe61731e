package builtin

import (
	"context"

	"github.com/nerrad567/devicehub-core/internal/device"
	"github.com/nerrad567/devicehub-core/internal/plugin"
)

// Phone metadata keys and capabilities.
const (
	MetadataBattery    = "battery"
	MetadataLowBattery = "low_battery"
	CapabilityPush     = "push"
)

// Phone tracks battery level reported in metadata and whether the phone can
// receive push notifications.
//
// Settings:
//
//	low_battery  battery percentage below which a phone is flagged (15)
type Phone struct {
	name      string
	threshold float64
	log       plugin.Logger
}

// NewPhone is the phone plugin factory.
func NewPhone(m plugin.Manifest, deps plugin.Deps) (plugin.Plugin, error) {
	return &Phone{
		name:      m.Name,
		threshold: float64(m.Int("low_battery", 15)),
		log:       logger(deps),
	}, nil
}

// Name returns the manifest name.
func (p *Phone) Name() string { return p.name }

// Initialize is a no-op.
func (p *Phone) Initialize(context.Context, plugin.DeviceReader) error { return nil }

// OnDeviceStatusChanged warns when a phone reports a battery level below
// the low_battery setting.
func (p *Phone) OnDeviceStatusChanged(_ context.Context, d *device.Device, _ device.Status) error {
	if d.Type != device.TypePhone {
		return nil
	}
	if level, ok := number(d.Metadata[MetadataBattery]); ok && level < p.threshold {
		p.log.Warn("phone battery low", "device_id", d.ID, "battery", level)
	}
	return nil
}

// OnDeviceSync contributes push capability, OS and battery state for phone
// devices. A phone without a numeric battery reading contributes no
// metadata. It never fails.
func (p *Phone) OnDeviceSync(_ context.Context, d *device.Device, _ *device.SyncPayload) (plugin.SyncContribution, error) {
	if d.Type != device.TypePhone {
		return plugin.SyncContribution{}, nil
	}

	data := map[string]any{
		"push_enabled": d.HasCapability(CapabilityPush),
	}
	if os, ok := d.Config["os"].(string); ok {
		data["os"] = os
	}

	level, ok := number(d.Metadata[MetadataBattery])
	if !ok {
		return plugin.SyncContribution{Data: data}, nil
	}

	low := level < p.threshold
	data[MetadataBattery] = level
	data[MetadataLowBattery] = low
	return plugin.SyncContribution{
		Data:     data,
		Metadata: map[string]any{MetadataLowBattery: low},
	}, nil
}
