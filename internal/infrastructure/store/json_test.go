package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/devicehub-core/internal/device"
)

func sampleDevices() map[string]*device.Device {
	registered := time.Date(2026, 2, 10, 8, 30, 0, 123456789, time.UTC)
	seen := registered.Add(time.Minute)
	synced := registered.Add(2 * time.Minute)
	return map[string]*device.Device{
		"mt5-01": {
			ID:           "mt5-01",
			Type:         device.TypeTerminal,
			Name:         "MT5 Live",
			Status:       device.StatusOnline,
			Config:       map[string]any{"server": "live-3", "leverage": float64(100), "hedging": true},
			Capabilities: []string{"orders", "quotes"},
			Metadata:     map[string]any{"balance": float64(1520.5)},
			RegisteredAt: registered,
			LastSeen:     &seen,
			LastSync:     &synced,
			LastSyncRecord: &device.SyncRecord{
				DeviceID:   "mt5-01",
				Timestamp:  synced,
				Success:    true,
				DurationMS: 42,
			},
		},
		"pixel-1": {
			ID:           "pixel-1",
			Type:         device.TypePhone,
			Name:         "Pixel-1",
			Status:       device.StatusRegistered,
			Config:       map[string]any{},
			Capabilities: []string{},
			Metadata:     map[string]any{},
			RegisteredAt: registered,
		},
	}
}

func assertDevicesEqual(t *testing.T, got, want map[string]*device.Device) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for id, w := range want {
		g, ok := got[id]
		if !ok {
			t.Errorf("device %s missing", id)
			continue
		}
		if g.ID != w.ID || g.Type != w.Type || g.Name != w.Name || g.Status != w.Status {
			t.Errorf("%s identity = %+v, want %+v", id, g, w)
		}
		if !reflect.DeepEqual(g.Config, w.Config) {
			t.Errorf("%s config = %v, want %v", id, g.Config, w.Config)
		}
		if !reflect.DeepEqual(g.Metadata, w.Metadata) {
			t.Errorf("%s metadata = %v, want %v", id, g.Metadata, w.Metadata)
		}
		if !reflect.DeepEqual(g.Capabilities, w.Capabilities) {
			t.Errorf("%s capabilities = %v, want %v", id, g.Capabilities, w.Capabilities)
		}
		if !g.RegisteredAt.Equal(w.RegisteredAt) {
			t.Errorf("%s registered_at = %v, want %v", id, g.RegisteredAt, w.RegisteredAt)
		}
		if !timePtrEqual(g.LastSeen, w.LastSeen) || !timePtrEqual(g.LastSync, w.LastSync) {
			t.Errorf("%s last_seen/last_sync = %v/%v, want %v/%v", id, g.LastSeen, g.LastSync, w.LastSeen, w.LastSync)
		}
		if (g.LastSyncRecord == nil) != (w.LastSyncRecord == nil) {
			t.Errorf("%s last_sync_record presence mismatch", id)
		} else if w.LastSyncRecord != nil && g.LastSyncRecord.DurationMS != w.LastSyncRecord.DurationMS {
			t.Errorf("%s last_sync_record = %+v", id, g.LastSyncRecord)
		}
	}
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func TestJSONStore_RoundTrip(t *testing.T) {
	s, err := NewJSONStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewJSONStore() error = %v", err)
	}
	ctx := context.Background()

	want := sampleDevices()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	assertDevicesEqual(t, got, want)
}

func TestJSONStore_MissingFile(t *testing.T) {
	s, err := NewJSONStore(filepath.Join(t.TempDir(), "fresh"), nil)
	if err != nil {
		t.Fatalf("NewJSONStore() error = %v", err)
	}
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Load() = %v, want empty", got)
	}
}

func TestJSONStore_CorruptRecords(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore(dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	doc := `{
  "good": {"id": "good", "type": "phone", "name": "ok", "status": "online", "registered_at": "2026-01-01T00:00:00Z"},
  "bad-registered": {"id": "bad-registered", "type": "phone", "registered_at": "yesterday"},
  "bad-shape": "not an object",
  "bad-optional": {"id": "bad-optional", "type": "terminal", "registered_at": "2026-01-01T00:00:00Z", "last_seen": "nope", "last_sync": "2026-01-02T00:00:00Z"}
}`
	if err := os.WriteFile(filepath.Join(dir, devicesFile), []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Load() kept %d records, want 2: %v", len(got), got)
	}
	if _, ok := got["good"]; !ok {
		t.Error("good record dropped")
	}
	opt, ok := got["bad-optional"]
	if !ok {
		t.Fatal("record with bad optional timestamp dropped")
	}
	if opt.LastSeen != nil {
		t.Errorf("LastSeen = %v, want unset", opt.LastSeen)
	}
	if opt.LastSync == nil {
		t.Error("valid LastSync lost")
	}
	if opt.Metadata == nil || opt.Config == nil {
		t.Error("nil maps not defaulted")
	}
}

func TestJSONStore_UnparseableDocument(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewJSONStore(dir, nil)
	if err := os.WriteFile(filepath.Join(dir, devicesFile), []byte("{broken"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(context.Background()); !errors.Is(err, device.ErrPersistence) {
		t.Errorf("Load() error = %v, want ErrPersistence", err)
	}
}

func TestJSONStore_AtomicSave(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewJSONStore(dir, nil)
	ctx := context.Background()

	if err := s.Save(ctx, sampleDevices()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	before, err := os.ReadFile(filepath.Join(dir, devicesFile))
	if err != nil {
		t.Fatal(err)
	}

	// Unencodable config fails before the file is touched.
	bad := sampleDevices()
	bad["pixel-1"].Config["ch"] = make(chan int)
	if err := s.Save(ctx, bad); !errors.Is(err, device.ErrPersistence) {
		t.Fatalf("Save() error = %v, want ErrPersistence", err)
	}

	after, _ := os.ReadFile(filepath.Join(dir, devicesFile))
	if string(before) != string(after) {
		t.Error("failed save modified devices.json")
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestJSONStore_Payloads(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewJSONStore(dir, nil)
	ctx := context.Background()

	p := &device.SyncPayload{
		DeviceID:  "pixel-1",
		Type:      device.TypePhone,
		Name:      "Pixel-1",
		Timestamp: time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
		Data:      map[string]any{"phone": map[string]any{"battery": float64(87)}},
	}
	if err := s.SavePayload(ctx, p); err != nil {
		t.Fatalf("SavePayload() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, payloadDir, "pixel-1.json")); err != nil {
		t.Fatalf("side file missing: %v", err)
	}

	got, err := s.LoadPayload(ctx, "pixel-1")
	if err != nil {
		t.Fatalf("LoadPayload() error = %v", err)
	}
	if !reflect.DeepEqual(got.Data, p.Data) || !got.Timestamp.Equal(p.Timestamp) {
		t.Errorf("LoadPayload() = %+v, want %+v", got, p)
	}

	if err := s.DeletePayload(ctx, "pixel-1"); err != nil {
		t.Fatalf("DeletePayload() error = %v", err)
	}
	if err := s.DeletePayload(ctx, "pixel-1"); err != nil {
		t.Errorf("DeletePayload() on absent file error = %v", err)
	}
	if _, err := s.LoadPayload(ctx, "pixel-1"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("LoadPayload() after delete error = %v, want ErrDeviceNotFound", err)
	}

	if err := s.SavePayload(ctx, &device.SyncPayload{DeviceID: "../escape"}); err == nil {
		t.Error("SavePayload() accepted traversal id")
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), configFor("redis", t.TempDir()), nil)
	if err == nil {
		t.Error("Open() with unknown backend returned nil error")
	}
}
