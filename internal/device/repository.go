package device

import (
	"context"
	"sync"
	"time"
)

// Store persists the whole device collection.
//
// Load returns an empty map (not an error) when nothing has been saved yet.
// Save replaces the persisted collection atomically: a failed Save must leave
// the previous contents intact.
type Store interface {
	Load(ctx context.Context) (map[string]*Device, error)
	Save(ctx context.Context, devices map[string]*Device) error
}

// PayloadStore persists the most recent sync payload per device.
//
// DeletePayload succeeds when no payload exists.
type PayloadStore interface {
	SavePayload(ctx context.Context, payload *SyncPayload) error
	LoadPayload(ctx context.Context, id string) (*SyncPayload, error)
	DeletePayload(ctx context.Context, id string) error
}

// Notifier receives device lifecycle events after they are persisted.
//
// Devices passed to a Notifier are copies owned by the receiver.
type Notifier interface {
	DeviceRegistered(ctx context.Context, d *Device)
	DeviceStatusChanged(ctx context.Context, d *Device, previous Status)
	DeviceRemoved(ctx context.Context, d *Device)
	DeviceSynced(ctx context.Context, d *Device, rec SyncRecord)
}

// DriverState exposes the periodic sync driver to the status aggregate.
type DriverState interface {
	Running() bool
	LastPass() *time.Time
}

type noopNotifier struct{}

func (noopNotifier) DeviceRegistered(context.Context, *Device)            {}
func (noopNotifier) DeviceStatusChanged(context.Context, *Device, Status) {}
func (noopNotifier) DeviceRemoved(context.Context, *Device)               {}
func (noopNotifier) DeviceSynced(context.Context, *Device, SyncRecord)    {}

// MemoryStore is an in-process Store and PayloadStore. It never fails and is
// intended for tests and ephemeral deployments.
type MemoryStore struct {
	mu       sync.Mutex
	devices  map[string]*Device
	payloads map[string]*SyncPayload
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices:  make(map[string]*Device),
		payloads: make(map[string]*SyncPayload),
	}
}

// Load returns copies of every saved device.
func (m *MemoryStore) Load(_ context.Context) (map[string]*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*Device, len(m.devices))
	for id, d := range m.devices {
		out[id] = d.DeepCopy()
	}
	return out, nil
}

// Save replaces the stored collection.
func (m *MemoryStore) Save(_ context.Context, devices map[string]*Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = make(map[string]*Device, len(devices))
	for id, d := range devices {
		m.devices[id] = d.DeepCopy()
	}
	return nil
}

// SavePayload stores a copy of the payload.
func (m *MemoryStore) SavePayload(_ context.Context, p *SyncPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads[p.DeviceID] = p.DeepCopy()
	return nil
}

// LoadPayload returns ErrDeviceNotFound when no payload is stored.
func (m *MemoryStore) LoadPayload(_ context.Context, id string) (*SyncPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payloads[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return p.DeepCopy(), nil
}

// DeletePayload removes the payload if present.
func (m *MemoryStore) DeletePayload(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.payloads, id)
	return nil
}
