package plugin

import (
	"context"
	"net/http"
	"time"

	"github.com/nerrad567/devicehub-core/internal/device"
)

// Logger defines the logging interface used by plugins and the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Plugin is a named capability handler. A plugin reacts to device lifecycle
// events by implementing any of the optional hook interfaces below.
type Plugin interface {
	Name() string

	// Initialize runs once before the plugin becomes active. An error keeps
	// the plugin out of the active set.
	Initialize(ctx context.Context, devices DeviceReader) error
}

// DeviceReader is the read-only registry view handed to plugins.
type DeviceReader interface {
	GetDevice(ctx context.Context, id string) (*device.Device, error)
	GetDevices(ctx context.Context, f device.Filter) []*device.Device
}

// RegisteredHook is called after a device is registered or re-registered.
type RegisteredHook interface {
	OnDeviceRegistered(ctx context.Context, d *device.Device) error
}

// StatusChangedHook is called after UpdateDeviceStatus.
type StatusChangedHook interface {
	OnDeviceStatusChanged(ctx context.Context, d *device.Device, previous device.Status) error
}

// SyncHook takes part in a device sync. An error fails the sync.
type SyncHook interface {
	OnDeviceSync(ctx context.Context, d *device.Device, payload *device.SyncPayload) (SyncContribution, error)
}

// RemovedHook is called before a device is deleted.
type RemovedHook interface {
	OnDeviceRemoved(ctx context.Context, d *device.Device) error
}

// SyncObserver is told the outcome of every completed or failed sync.
type SyncObserver interface {
	OnDeviceSynced(ctx context.Context, d *device.Device, rec device.SyncRecord) error
}

// SyncContribution is what a SyncHook adds to a sync. Data is stored in the
// payload under the plugin's name; Metadata is merged into the device.
type SyncContribution struct {
	Data     any
	Metadata map[string]any
}

// Publisher sends JSON messages to the MQTT broker.
type Publisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// Telemetry records sync outcomes as time-series points.
type Telemetry interface {
	WriteSyncOutcome(deviceID, deviceType string, success bool, durationMS int64, at time.Time)
}

// Deps are the shared services available to plugin factories. Publisher and
// Telemetry are nil when their backends are disabled.
type Deps struct {
	Logger     Logger
	Publisher  Publisher
	Telemetry  Telemetry
	HTTPClient *http.Client
}

// hookNames lists the hooks a plugin implements, for diagnostics.
func hookNames(p Plugin) []string {
	var hooks []string
	if _, ok := p.(RegisteredHook); ok {
		hooks = append(hooks, "registered")
	}
	if _, ok := p.(StatusChangedHook); ok {
		hooks = append(hooks, "status_changed")
	}
	if _, ok := p.(SyncHook); ok {
		hooks = append(hooks, "sync")
	}
	if _, ok := p.(SyncObserver); ok {
		hooks = append(hooks, "synced")
	}
	if _, ok := p.(RemovedHook); ok {
		hooks = append(hooks, "removed")
	}
	return hooks
}
