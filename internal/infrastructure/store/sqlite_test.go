package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nerrad567/devicehub-core/internal/device"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/config"
)

func configFor(backend, dir string) config.StorageConfig {
	return config.StorageConfig{
		Backend: backend,
		DataDir: dir,
		Database: config.DatabaseConfig{
			Path:        filepath.Join(dir, "devicehub.db"),
			WALMode:     true,
			BusyTimeout: 5,
		},
	}
}

func openTestSQLite(t *testing.T) Backend {
	t.Helper()
	b, err := Open(context.Background(), configFor(BackendSQLite, t.TempDir()), nil)
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	t.Cleanup(func() { b.Close() }) //nolint:errcheck // test cleanup
	return b
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	empty, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() on fresh db error = %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("fresh db has %d devices", len(empty))
	}

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

func TestSQLiteStore_SaveDeletesMissing(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	all := sampleDevices()
	if err := s.Save(ctx, all); err != nil {
		t.Fatal(err)
	}
	delete(all, "pixel-1")
	all["mt5-01"].Name = "Renamed"
	if err := s.Save(ctx, all); err != nil {
		t.Fatal(err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got["mt5-01"].Name != "Renamed" {
		t.Errorf("Name = %q, want Renamed", got["mt5-01"].Name)
	}
}

func TestSQLiteStore_Payloads(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	p := &device.SyncPayload{DeviceID: "mt5-01", Data: map[string]any{"terminal": "ok"}}
	if err := s.SavePayload(ctx, p); err != nil {
		t.Fatalf("SavePayload() error = %v", err)
	}
	p.Data["terminal"] = "updated"
	if err := s.SavePayload(ctx, p); err != nil {
		t.Fatalf("second SavePayload() error = %v", err)
	}

	got, err := s.LoadPayload(ctx, "mt5-01")
	if err != nil {
		t.Fatalf("LoadPayload() error = %v", err)
	}
	if got.Data["terminal"] != "updated" {
		t.Errorf("payload = %v", got.Data)
	}

	if err := s.DeletePayload(ctx, "mt5-01"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeletePayload(ctx, "mt5-01"); err != nil {
		t.Errorf("DeletePayload() on absent row error = %v", err)
	}
	if _, err := s.LoadPayload(ctx, "mt5-01"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("LoadPayload() after delete error = %v", err)
	}
}

func TestSQLiteStore_BackingRegistry(t *testing.T) {
	s := openTestSQLite(t)
	ctx := context.Background()

	reg := device.NewRegistry(device.Options{Store: s, Payloads: s})
	if _, err := reg.RegisterDevice(ctx, device.RegisterInput{ID: "feed-1", Type: device.TypeExternalAPI}); err != nil {
		t.Fatalf("RegisterDevice() error = %v", err)
	}

	reloaded := device.NewRegistry(device.Options{Store: s, Payloads: s})
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := reloaded.GetDevice(ctx, "feed-1"); err != nil {
		t.Errorf("device not persisted through sqlite: %v", err)
	}
}
