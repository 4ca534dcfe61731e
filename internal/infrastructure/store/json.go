package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/nerrad567/devicehub-core/internal/device"
)

const (
	devicesFile = "devices.json"
	payloadDir  = "sync"

	dirPermissions  = 0750
	filePermissions = 0600
)

// JSONStore keeps the registry in a single devices.json document and each
// device's latest sync payload in sync/<id>.json. Every write replaces the
// target file atomically.
type JSONStore struct {
	dir    string
	logger Logger

	// mu serialises writers to the same directory.
	mu sync.Mutex
}

// NewJSONStore creates dir (and its sync subdirectory) if needed.
func NewJSONStore(dir string, logger Logger) (*JSONStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: data directory is empty", device.ErrPersistence)
	}
	if logger == nil {
		logger = noopLogger{}
	}
	if err := os.MkdirAll(filepath.Join(dir, payloadDir), dirPermissions); err != nil {
		return nil, fmt.Errorf("%w: creating data directory: %w", device.ErrPersistence, err)
	}
	return &JSONStore{dir: dir, logger: logger}, nil
}

// Dir returns the data directory.
func (s *JSONStore) Dir() string {
	return s.dir
}

// Load reads devices.json. A missing file yields an empty map. Records that
// cannot be decoded are logged and skipped.
func (s *JSONStore) Load(_ context.Context) (map[string]*device.Device, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, devicesFile))
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("no device file found, starting empty", "path", filepath.Join(s.dir, devicesFile))
		return make(map[string]*device.Device), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", device.ErrPersistence, devicesFile, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", device.ErrPersistence, devicesFile, err)
	}

	out := make(map[string]*device.Device, len(raw))
	for id, doc := range raw {
		d, err := decodeDevice(id, doc, s.logger)
		if err != nil {
			s.logger.Warn("skipping unreadable device record", "device_id", id, "error", err)
			continue
		}
		out[id] = d
	}
	return out, nil
}

// Save rewrites devices.json with the given devices.
func (s *JSONStore) Save(_ context.Context, devices map[string]*device.Device) error {
	doc := make(map[string]record, len(devices))
	for id, d := range devices {
		doc[id] = toRecord(d)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding devices: %w", device.ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(filepath.Join(s.dir, devicesFile), data); err != nil {
		return fmt.Errorf("%w: %w", device.ErrPersistence, err)
	}
	return nil
}

// SavePayload writes sync/<id>.json.
func (s *JSONStore) SavePayload(_ context.Context, p *device.SyncPayload) error {
	path, err := s.payloadPath(p.DeviceID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", device.ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("%w: %w", device.ErrPersistence, err)
	}
	return nil
}

// LoadPayload reads sync/<id>.json. A missing file is ErrDeviceNotFound.
func (s *JSONStore) LoadPayload(_ context.Context, id string) (*device.SyncPayload, error) {
	path, err := s.payloadPath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: no sync payload for %s", device.ErrDeviceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading payload: %w", device.ErrPersistence, err)
	}
	var p device.SyncPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: decoding payload for %s: %w", device.ErrPersistence, id, err)
	}
	return &p, nil
}

// DeletePayload removes sync/<id>.json; an absent file is not an error.
func (s *JSONStore) DeletePayload(_ context.Context, id string) error {
	path, err := s.payloadPath(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: removing payload: %w", device.ErrPersistence, err)
	}
	return nil
}

// Close is a no-op; the JSON store holds no open handles.
func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) payloadPath(id string) (string, error) {
	if err := device.ValidateID(id); err != nil {
		return "", fmt.Errorf("%w: %w", device.ErrPersistence, err)
	}
	return filepath.Join(s.dir, payloadDir, id+".json"), nil
}

// writeFileAtomic writes data to a temp file beside path, syncs it and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) } //nolint:errcheck // best effort

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // already failing
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck // already failing
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, filePermissions); err != nil {
		cleanup()
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()  //nolint:errcheck // directory fsync is advisory
		_ = d.Close() //nolint:errcheck // read-only handle
	}
	return nil
}
