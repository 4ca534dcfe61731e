package device

import "time"

// Type is the category of an external endpoint. It is fixed at registration.
type Type string

// Known device types.
const (
	TypeTerminal    Type = "terminal"
	TypePhone       Type = "phone"
	TypeExternalAPI Type = "external-api"
)

// AllTypes returns every recognised device type.
func AllTypes() []Type {
	return []Type{TypeTerminal, TypePhone, TypeExternalAPI}
}

// Status is the lifecycle state of a device.
//
//	registered → syncing → {online, error}
//	online/error → syncing (next sync attempt)
//	any → disabled (manual; reactivated by another status update)
type Status string

// Device statuses.
const (
	StatusRegistered Status = "registered"
	StatusSyncing    Status = "syncing"
	StatusOnline     Status = "online"
	StatusError      Status = "error"
	StatusDisabled   Status = "disabled"
)

// AllStatuses returns every recognised device status.
func AllStatuses() []Status {
	return []Status{StatusRegistered, StatusSyncing, StatusOnline, StatusError, StatusDisabled}
}

// MetadataLastError is the metadata key holding the most recent sync failure.
const MetadataLastError = "last_error"

// Device represents one external endpoint under management.
type Device struct {
	ID           string         `json:"id"`
	Type         Type           `json:"type"`
	Name         string         `json:"name"`
	Status       Status         `json:"status"`
	Config       map[string]any `json:"config"`
	Capabilities []string       `json:"capabilities"`
	Metadata     map[string]any `json:"metadata"`

	RegisteredAt time.Time  `json:"registered_at"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	LastSync     *time.Time `json:"last_sync,omitempty"`

	// LastSyncRecord is the outcome of the most recent sync attempt.
	LastSyncRecord *SyncRecord `json:"last_sync_record,omitempty"`
}

// HasCapability reports whether the device advertises the capability.
func (d *Device) HasCapability(capability string) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// DeepCopy creates a complete independent copy of the Device.
// All map and slice fields are cloned so modifications to the copy
// do not affect the registry's record.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	cpy.Config = deepCopyMap(d.Config)
	cpy.Metadata = deepCopyMap(d.Metadata)

	if d.Capabilities != nil {
		cpy.Capabilities = make([]string, len(d.Capabilities))
		copy(cpy.Capabilities, d.Capabilities)
	}

	if d.LastSyncRecord != nil {
		rec := d.LastSyncRecord.DeepCopy()
		cpy.LastSyncRecord = &rec
	}

	// *time.Time fields point at immutable values and are reassigned, never mutated.
	return &cpy
}

// Summary is the flattened per-device view used by the sync status aggregate.
type Summary struct {
	ID       string     `json:"id"`
	Type     Type       `json:"type"`
	Name     string     `json:"name"`
	Status   Status     `json:"status"`
	LastSync *time.Time `json:"last_sync,omitempty"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// Summary returns the device's flattened summary.
func (d *Device) Summary() Summary {
	return Summary{
		ID:       d.ID,
		Type:     d.Type,
		Name:     d.Name,
		Status:   d.Status,
		LastSync: d.LastSync,
		LastSeen: d.LastSeen,
	}
}

// SyncRecord is the outcome of one synchronization attempt for one device.
type SyncRecord struct {
	DeviceID   string         `json:"device_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Success    bool           `json:"success"`
	Skipped    bool           `json:"skipped,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// DeepCopy returns a copy of the record with its payload cloned.
func (s SyncRecord) DeepCopy() SyncRecord {
	s.Payload = deepCopyMap(s.Payload)
	return s
}

// SyncPayload is the snapshot built for each sync and persisted as the
// device's side file. Plugins contribute entries to Data, keyed by plugin name.
type SyncPayload struct {
	DeviceID     string         `json:"device_id"`
	Type         Type           `json:"type"`
	Name         string         `json:"name"`
	Config       map[string]any `json:"config"`
	Capabilities []string       `json:"capabilities"`
	Metadata     map[string]any `json:"metadata"`
	Timestamp    time.Time      `json:"timestamp"`
	Data         map[string]any `json:"data"`
}

// NewSyncPayload snapshots a device into a fresh payload.
func NewSyncPayload(d *Device, now time.Time) *SyncPayload {
	caps := make([]string, len(d.Capabilities))
	copy(caps, d.Capabilities)
	return &SyncPayload{
		DeviceID:     d.ID,
		Type:         d.Type,
		Name:         d.Name,
		Config:       deepCopyMap(d.Config),
		Capabilities: caps,
		Metadata:     deepCopyMap(d.Metadata),
		Timestamp:    now,
		Data:         make(map[string]any),
	}
}

// DeepCopy returns an independent copy of the payload.
func (p *SyncPayload) DeepCopy() *SyncPayload {
	if p == nil {
		return nil
	}
	cpy := *p
	cpy.Config = deepCopyMap(p.Config)
	cpy.Metadata = deepCopyMap(p.Metadata)
	cpy.Data = deepCopyMap(p.Data)
	if p.Capabilities != nil {
		cpy.Capabilities = make([]string, len(p.Capabilities))
		copy(cpy.Capabilities, p.Capabilities)
	}
	return &cpy
}

// SyncStatus is the derived aggregate view over the registry.
type SyncStatus struct {
	Total           int            `json:"total"`
	ByStatus        map[Status]int `json:"by_status"`
	LastSyncService *time.Time     `json:"last_sync_service,omitempty"`
	DriverRunning   bool           `json:"driver_running"`
	Devices         []Summary      `json:"devices"`
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalDevices int            `json:"total_devices"`
	ByType       map[Type]int   `json:"by_type"`
	ByStatus     map[Status]int `json:"by_status"`
}

// deepCopyMap creates a deep copy of a map[string]any.
// Nested maps and slices are recursively copied.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	case []string:
		cpy := make([]string, len(val))
		copy(cpy, val)
		return cpy
	default:
		return v
	}
}

// CopyMap returns a deep copy of m. Exported for plugins that build
// contributions from device config without aliasing registry state.
func CopyMap(m map[string]any) map[string]any {
	return deepCopyMap(m)
}
