package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/devicehub-core/internal/device"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/config"
)

// Backend names accepted in storage.backend.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Logger is the logging interface used by the stores.
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

// Backend is a device store together with its payload store.
type Backend interface {
	device.Store
	device.PayloadStore
	Close() error
}

// Open builds the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig, logger Logger) (Backend, error) {
	switch cfg.Backend {
	case BackendJSON, "":
		return NewJSONStore(cfg.DataDir, logger)
	case BackendSQLite:
		return OpenSQLite(ctx, cfg.Database, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// record is the on-disk form of a device. Timestamps are kept as strings so
// one malformed value does not poison the whole document.
type record struct {
	ID             string             `json:"id"`
	Type           device.Type        `json:"type"`
	Name           string             `json:"name"`
	Status         device.Status      `json:"status"`
	Config         map[string]any     `json:"config"`
	Capabilities   []string           `json:"capabilities"`
	Metadata       map[string]any     `json:"metadata"`
	RegisteredAt   string             `json:"registered_at"`
	LastSeen       string             `json:"last_seen,omitempty"`
	LastSync       string             `json:"last_sync,omitempty"`
	LastSyncRecord *device.SyncRecord `json:"last_sync_record,omitempty"`
}

func toRecord(d *device.Device) record {
	r := record{
		ID:             d.ID,
		Type:           d.Type,
		Name:           d.Name,
		Status:         d.Status,
		Config:         d.Config,
		Capabilities:   d.Capabilities,
		Metadata:       d.Metadata,
		RegisteredAt:   d.RegisteredAt.UTC().Format(time.RFC3339Nano),
		LastSyncRecord: d.LastSyncRecord,
	}
	if d.LastSeen != nil {
		r.LastSeen = d.LastSeen.UTC().Format(time.RFC3339Nano)
	}
	if d.LastSync != nil {
		r.LastSync = d.LastSync.UTC().Format(time.RFC3339Nano)
	}
	return r
}

// decodeDevice parses one stored device. A bad document or registered_at is
// an error; a bad optional timestamp is logged and left unset.
func decodeDevice(id string, raw []byte, logger Logger) (*device.Device, error) {
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decoding device %s: %w", id, err)
	}
	registered, err := time.Parse(time.RFC3339Nano, r.RegisteredAt)
	if err != nil {
		return nil, fmt.Errorf("device %s registered_at: %w", id, err)
	}

	d := &device.Device{
		ID:             id,
		Type:           r.Type,
		Name:           r.Name,
		Status:         r.Status,
		Config:         r.Config,
		Capabilities:   r.Capabilities,
		Metadata:       r.Metadata,
		RegisteredAt:   registered,
		LastSyncRecord: r.LastSyncRecord,
	}
	d.LastSeen = optionalTime(id, "last_seen", r.LastSeen, logger)
	d.LastSync = optionalTime(id, "last_sync", r.LastSync, logger)
	if d.Config == nil {
		d.Config = make(map[string]any)
	}
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
	return d, nil
}

func optionalTime(id, field, value string, logger Logger) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		logger.Warn("ignoring malformed timestamp", "device_id", id, "field", field, "value", value)
		return nil
	}
	return &t
}
