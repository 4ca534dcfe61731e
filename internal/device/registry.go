package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DefaultHistorySize is the number of sync records retained per device.
const DefaultHistorySize = 10

// Skip reasons reported on SyncRecord.Reason.
const (
	SkipReasonDisabled  = "disabled"
	SkipReasonNotNeeded = "not needed"
)

// Options configures a Registry.
type Options struct {
	Store       Store
	Payloads    PayloadStore
	Notifier    Notifier
	Logger      Logger
	HistorySize int
}

// Filter narrows GetDevices results. Zero fields match everything.
type Filter struct {
	Type   Type
	Status Status
}

// Registry is the authoritative in-memory catalogue of devices.
//
// Every mutation is written through to the Store before it returns. Store
// failures are logged and returned wrapped in ErrPersistence; the in-memory
// change is kept.
//
// All public methods are thread-safe. Mutations of one device are
// serialised through a per-device lock; reads never wait on it.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*Device
	history map[string][]SyncRecord

	// saveMu orders flushes so the newest snapshot is always the last written.
	saveMu sync.Mutex

	locks *KeyedMutex

	store       Store
	payloads    PayloadStore
	notifier    Notifier
	driver      DriverState
	logger      Logger
	historySize int
	now         func() time.Time
}

// NewRegistry creates a new device registry. A nil Store keeps state in memory.
func NewRegistry(opts Options) *Registry {
	r := &Registry{
		devices:     make(map[string]*Device),
		history:     make(map[string][]SyncRecord),
		locks:       NewKeyedMutex(),
		store:       opts.Store,
		payloads:    opts.Payloads,
		notifier:    opts.Notifier,
		logger:      opts.Logger,
		historySize: opts.HistorySize,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if r.store == nil {
		mem := NewMemoryStore()
		r.store = mem
		if r.payloads == nil {
			r.payloads = mem
		}
	}
	if r.notifier == nil {
		r.notifier = noopNotifier{}
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}
	if r.historySize <= 0 {
		r.historySize = DefaultHistorySize
	}
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetNotifier replaces the lifecycle notifier. Call before serving traffic.
func (r *Registry) SetNotifier(n Notifier) {
	if n == nil {
		n = noopNotifier{}
	}
	r.notifier = n
}

// SetDriverState wires the periodic sync driver into GetSyncStatus.
func (r *Registry) SetDriverState(d DriverState) {
	r.mu.Lock()
	r.driver = d
	r.mu.Unlock()
}

// Load replaces the in-memory catalogue with the Store's contents.
// It is called once at startup.
func (r *Registry) Load(ctx context.Context) error {
	devices, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = make(map[string]*Device, len(devices))
	for id, d := range devices {
		if d == nil {
			continue
		}
		d.ID = id
		if d.Config == nil {
			d.Config = make(map[string]any)
		}
		if d.Metadata == nil {
			d.Metadata = make(map[string]any)
		}
		r.devices[id] = d
	}
	r.history = make(map[string][]SyncRecord)

	r.logger.Info("device registry loaded", "count", len(r.devices))
	return nil
}

// LockDevice acquires the per-device mutation lock and returns its release
// function. Holders may call BeginSync, CompleteSync and FailSync; they must
// not call RegisterDevice, UpdateDeviceStatus or RemoveDevice for the same id.
func (r *Registry) LockDevice(id string) func() {
	return r.locks.Lock(id)
}

// RegisterDevice records a new device, or re-registers an existing one.
//
// A re-registration overwrites name and config, merges metadata, unions
// capabilities, keeps registered_at and resets status to registered. The
// returned device is a copy. On a persistence failure both the device and an
// ErrPersistence error are returned.
func (r *Registry) RegisterDevice(ctx context.Context, in RegisterInput) (*Device, error) {
	if err := ValidateRegisterInput(in); err != nil {
		return nil, err
	}

	now := r.now()
	id := in.ID
	if id == "" {
		id = GenerateID(in.Type, in.Name, now)
	}

	unlock := r.locks.Lock(id)
	defer unlock()

	r.mu.Lock()
	existing, ok := r.devices[id]
	if ok && existing.Type != in.Type {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: device %s is %s, not %s", ErrTypeChanged, id, existing.Type, in.Type)
	}

	var d *Device
	if ok {
		d = existing
		if in.Name != "" {
			d.Name = in.Name
		}
		if in.Config != nil {
			d.Config = deepCopyMap(in.Config)
		}
		for k, v := range in.Metadata {
			d.Metadata[k] = deepCopyValue(v)
		}
		d.Capabilities = mergeCapabilities(d.Capabilities, in.Capabilities)
	} else {
		d = &Device{
			ID:           id,
			Type:         in.Type,
			Name:         in.Name,
			Config:       deepCopyMap(in.Config),
			Metadata:     deepCopyMap(in.Metadata),
			Capabilities: mergeCapabilities(nil, in.Capabilities),
			RegisteredAt: now,
		}
		if d.Name == "" {
			d.Name = DefaultName(d.Type, id)
		}
		if d.Config == nil {
			d.Config = make(map[string]any)
		}
		if d.Metadata == nil {
			d.Metadata = make(map[string]any)
		}
		r.devices[id] = d
	}
	d.Status = StatusRegistered
	seen := now
	d.LastSeen = &seen
	out := d.DeepCopy()
	r.mu.Unlock()

	if ok {
		r.logger.Info("device re-registered", "device_id", id, "type", d.Type)
	} else {
		r.logger.Info("device registered", "device_id", id, "type", d.Type)
	}

	perr := r.flush(ctx)
	r.notifier.DeviceRegistered(ctx, out.DeepCopy())
	return out, perr
}

// UpdateDeviceStatus sets a device's status and shallow-merges patch into its
// metadata. Any valid status is accepted, including leaving disabled.
func (r *Registry) UpdateDeviceStatus(ctx context.Context, id string, status Status, patch map[string]any) (*Device, error) {
	if err := ValidateStatus(status); err != nil {
		return nil, err
	}

	unlock := r.locks.Lock(id)
	defer unlock()

	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	previous := d.Status
	d.Status = status
	for k, v := range patch {
		d.Metadata[k] = deepCopyValue(v)
	}
	seen := r.now()
	d.LastSeen = &seen
	out := d.DeepCopy()
	r.mu.Unlock()

	r.logger.Debug("device status updated", "device_id", id, "from", previous, "to", status)

	perr := r.flush(ctx)
	r.notifier.DeviceStatusChanged(ctx, out.DeepCopy(), previous)
	return out, perr
}

// TouchDevice records that a device was seen: it refreshes last_seen and
// shallow-merges patch into metadata. The status is left alone, so a
// disabled or failed device stays that way. No status hook fires.
func (r *Registry) TouchDevice(ctx context.Context, id string, patch map[string]any) (*Device, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	for k, v := range patch {
		d.Metadata[k] = deepCopyValue(v)
	}
	seen := r.now()
	d.LastSeen = &seen
	out := d.DeepCopy()
	r.mu.Unlock()

	return out, r.flush(ctx)
}

// RemoveDevice deletes a device. Removal hooks run before the record is
// dropped; the device's sync payload is deleted afterwards.
func (r *Registry) RemoveDevice(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()

	r.mu.RLock()
	d, ok := r.devices[id]
	var snapshot *Device
	if ok {
		snapshot = d.DeepCopy()
	}
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	r.notifier.DeviceRemoved(ctx, snapshot)

	r.mu.Lock()
	delete(r.devices, id)
	delete(r.history, id)
	r.mu.Unlock()

	r.logger.Info("device removed", "device_id", id)

	perr := r.flush(ctx)
	if r.payloads != nil {
		if err := r.payloads.DeletePayload(ctx, id); err != nil {
			r.logger.Warn("deleting sync payload failed", "device_id", id, "error", err)
			perr = errors.Join(perr, fmt.Errorf("%w: deleting payload for %s: %w", ErrPersistence, id, err))
		}
	}
	return perr
}

// GetDevice retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(_ context.Context, id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d.DeepCopy(), nil
}

// GetDevices returns copies of all devices matching f, sorted by ID.
func (r *Registry) GetDevices(_ context.Context, f Filter) []*Device {
	r.mu.RLock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		if f.Type != "" && d.Type != f.Type {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		out = append(out, d.DeepCopy())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeviceIDs returns the IDs of all devices, sorted.
func (r *Registry) DeviceIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// GetSyncStatus computes the aggregate sync view.
//
// last_sync_service is the driver's last completed pass, or the most recent
// device sync when no pass has run.
func (r *Registry) GetSyncStatus() SyncStatus {
	r.mu.RLock()
	status := SyncStatus{
		Total:    len(r.devices),
		ByStatus: make(map[Status]int),
		Devices:  make([]Summary, 0, len(r.devices)),
	}
	var latest *time.Time
	for _, d := range r.devices {
		status.ByStatus[d.Status]++
		status.Devices = append(status.Devices, d.Summary())
		if d.LastSync != nil && (latest == nil || d.LastSync.After(*latest)) {
			latest = d.LastSync
		}
	}
	driver := r.driver
	r.mu.RUnlock()

	if driver != nil {
		status.DriverRunning = driver.Running()
		if pass := driver.LastPass(); pass != nil {
			latest = pass
		}
	}
	status.LastSyncService = latest

	sort.Slice(status.Devices, func(i, j int) bool { return status.Devices[i].ID < status.Devices[j].ID })
	return status
}

// GetStats returns device counts by type and status.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.devices),
		ByType:       make(map[Type]int),
		ByStatus:     make(map[Status]int),
	}
	for _, d := range r.devices {
		stats.ByType[d.Type]++
		stats.ByStatus[d.Status]++
	}
	return stats
}

// GetDeviceCount returns the number of registered devices.
func (r *Registry) GetDeviceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// BeginSync decides whether a device needs syncing and, if so, marks it
// syncing. The caller must hold LockDevice(id).
//
// When the device is skipped, a non-nil record with Skipped set is returned
// and the device is left untouched.
func (r *Registry) BeginSync(_ context.Context, id string, force bool, window time.Duration) (*Device, *SyncRecord, error) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	skip := ""
	switch {
	case d.Status == StatusDisabled:
		skip = SkipReasonDisabled
	case !force && d.LastSync != nil && now.Sub(*d.LastSync) < window:
		skip = SkipReasonNotNeeded
	}
	if skip != "" {
		return d.DeepCopy(), &SyncRecord{
			DeviceID:  id,
			Timestamp: now,
			Success:   true,
			Skipped:   true,
			Reason:    skip,
		}, nil
	}

	d.Status = StatusSyncing
	return d.DeepCopy(), nil, nil
}

// CompleteSync records a successful sync: status online, last_sync now,
// last_error cleared and patch merged into metadata. The caller must hold
// LockDevice(id).
func (r *Registry) CompleteSync(ctx context.Context, id string, rec SyncRecord, patch map[string]any) (*Device, error) {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	now := r.now()
	d.Status = StatusOnline
	d.LastSync = &now
	delete(d.Metadata, MetadataLastError)
	for k, v := range patch {
		d.Metadata[k] = deepCopyValue(v)
	}
	rec.Success = true
	stored := rec.DeepCopy()
	d.LastSyncRecord = &stored
	r.pushHistory(id, rec)
	out := d.DeepCopy()
	r.mu.Unlock()

	perr := r.flush(ctx)
	r.notifier.DeviceSynced(ctx, out.DeepCopy(), rec.DeepCopy())
	return out, perr
}

// FailSync records a failed sync: status error and the failure message in
// metadata.last_error. The caller must hold LockDevice(id).
func (r *Registry) FailSync(ctx context.Context, id string, rec SyncRecord) (*Device, error) {
	r.mu.Lock()
	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	d.Status = StatusError
	d.Metadata[MetadataLastError] = rec.Error
	rec.Success = false
	stored := rec.DeepCopy()
	d.LastSyncRecord = &stored
	r.pushHistory(id, rec)
	out := d.DeepCopy()
	r.mu.Unlock()

	perr := r.flush(ctx)
	r.notifier.DeviceSynced(ctx, out.DeepCopy(), rec.DeepCopy())
	return out, perr
}

// SyncHistory returns the retained sync records for a device, newest first.
func (r *Registry) SyncHistory(id string) ([]SyncRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.devices[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	h := r.history[id]
	out := make([]SyncRecord, 0, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		out = append(out, h[i].DeepCopy())
	}
	return out, nil
}

// SavePayload writes a device's sync payload to the payload store.
func (r *Registry) SavePayload(ctx context.Context, p *SyncPayload) error {
	if r.payloads == nil {
		return nil
	}
	if err := r.payloads.SavePayload(ctx, p); err != nil {
		return fmt.Errorf("%w: saving payload for %s: %w", ErrPersistence, p.DeviceID, err)
	}
	return nil
}

// Flush writes the current catalogue to the Store. It is used for the final
// flush on shutdown.
func (r *Registry) Flush(ctx context.Context) error {
	return r.flush(ctx)
}

// pushHistory appends rec to the device's ring. Caller holds r.mu.
func (r *Registry) pushHistory(id string, rec SyncRecord) {
	h := append(r.history[id], rec.DeepCopy())
	if len(h) > r.historySize {
		h = h[len(h)-r.historySize:]
	}
	r.history[id] = h
}

// flush snapshots the catalogue and saves it. The snapshot is taken after
// saveMu is held, so concurrent flushes never regress the stored state.
func (r *Registry) flush(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.RLock()
	snapshot := make(map[string]*Device, len(r.devices))
	for id, d := range r.devices {
		snapshot[id] = d.DeepCopy()
	}
	r.mu.RUnlock()

	if err := r.store.Save(ctx, snapshot); err != nil {
		r.logger.Error("persisting device registry failed", "error", err, "devices", len(snapshot))
		if errors.Is(err, ErrPersistence) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}
