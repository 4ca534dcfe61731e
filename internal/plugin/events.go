package plugin

import (
	"context"
	"strings"
	"time"

	"github.com/nerrad567/devicehub-core/internal/device"
)

// Lifecycle event types.
const (
	EventRegistered    = "device.registered"
	EventStatusChanged = "device.status_changed"
	EventSynced        = "device.synced"
	EventRemoved       = "device.removed"
)

// Event is a device lifecycle event as forwarded to external consumers.
type Event struct {
	Type           string             `json:"type"`
	DeviceID       string             `json:"device_id"`
	Device         *device.Device     `json:"device,omitempty"`
	PreviousStatus device.Status      `json:"previous_status,omitempty"`
	Sync           *device.SyncRecord `json:"sync,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
}

// Short returns the event type without its "device." prefix.
func (e Event) Short() string {
	return strings.TrimPrefix(e.Type, "device.")
}

// EmitFunc delivers one event.
type EmitFunc func(ctx context.Context, e Event) error

// EventForwarder is a plugin that turns every lifecycle hook into an Event
// and hands it to an EmitFunc.
type EventForwarder struct {
	name string
	emit EmitFunc
	now  func() time.Time
}

// NewEventForwarder creates a forwarder plugin.
func NewEventForwarder(name string, emit EmitFunc) *EventForwarder {
	return &EventForwarder{
		name: name,
		emit: emit,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the plugin name.
func (f *EventForwarder) Name() string { return f.name }

// Initialize is a no-op.
func (f *EventForwarder) Initialize(context.Context, DeviceReader) error { return nil }

// OnDeviceRegistered emits device.registered.
func (f *EventForwarder) OnDeviceRegistered(ctx context.Context, d *device.Device) error {
	return f.emit(ctx, Event{Type: EventRegistered, DeviceID: d.ID, Device: d, Timestamp: f.now()})
}

// OnDeviceStatusChanged emits device.status_changed.
func (f *EventForwarder) OnDeviceStatusChanged(ctx context.Context, d *device.Device, previous device.Status) error {
	return f.emit(ctx, Event{
		Type:           EventStatusChanged,
		DeviceID:       d.ID,
		Device:         d,
		PreviousStatus: previous,
		Timestamp:      f.now(),
	})
}

// OnDeviceSynced emits device.synced.
func (f *EventForwarder) OnDeviceSynced(ctx context.Context, d *device.Device, rec device.SyncRecord) error {
	return f.emit(ctx, Event{Type: EventSynced, DeviceID: d.ID, Device: d, Sync: &rec, Timestamp: f.now()})
}

// OnDeviceRemoved emits device.removed.
func (f *EventForwarder) OnDeviceRemoved(ctx context.Context, d *device.Device) error {
	return f.emit(ctx, Event{Type: EventRemoved, DeviceID: d.ID, Device: d, Timestamp: f.now()})
}
