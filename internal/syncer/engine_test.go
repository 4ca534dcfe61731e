package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/devicehub-core/internal/device"
	"github.com/nerrad567/devicehub-core/internal/plugin"
)

// hookFunc adapts a function to HookRunner.
type hookFunc func(ctx context.Context, d *device.Device, p *device.SyncPayload) (map[string]any, []plugin.HookResult, error)

func (f hookFunc) RunSync(ctx context.Context, d *device.Device, p *device.SyncPayload) (map[string]any, []plugin.HookResult, error) {
	return f(ctx, d, p)
}

// pickyPlugin fails the sync of one device id.
type pickyPlugin struct{ failFor string }

func (p pickyPlugin) Name() string { return "picky" }

func (p pickyPlugin) Initialize(context.Context, plugin.DeviceReader) error { return nil }

func (p pickyPlugin) OnDeviceSync(_ context.Context, d *device.Device, _ *device.SyncPayload) (plugin.SyncContribution, error) {
	if d.ID == p.failFor {
		return plugin.SyncContribution{}, errors.New("terminal did not answer")
	}
	return plugin.SyncContribution{Data: map[string]any{"checked": true}, Metadata: map[string]any{"picky_ok": true}}, nil
}

// flakyStore fails every Save once armed.
type flakyStore struct {
	*device.MemoryStore
	fail atomic.Bool
}

func (s *flakyStore) Save(ctx context.Context, devices map[string]*device.Device) error {
	if s.fail.Load() {
		return errors.New("disk full")
	}
	return s.MemoryStore.Save(ctx, devices)
}

func newEngine(t *testing.T, hooks HookRunner) (*Engine, *device.Registry, *device.MemoryStore) {
	t.Helper()
	mem := device.NewMemoryStore()
	reg := device.NewRegistry(device.Options{Store: mem, Payloads: mem})
	eng := New(Options{Registry: reg, Hooks: hooks, Interval: time.Hour})
	return eng, reg, mem
}

func register(t *testing.T, reg *device.Registry, in device.RegisterInput) *device.Device {
	t.Helper()
	d, err := reg.RegisterDevice(context.Background(), in)
	if err != nil {
		t.Fatalf("RegisterDevice(%+v) error = %v", in, err)
	}
	return d
}

func TestSyncDevice_PhoneScenario(t *testing.T) {
	ctx := context.Background()
	eng, reg, _ := newEngine(t, nil)

	d := register(t, reg, device.RegisterInput{Type: device.TypePhone, Name: "Pixel-1"})
	if d.ID == "" {
		t.Fatal("expected a generated id")
	}
	if d.Status != device.StatusRegistered {
		t.Errorf("Status = %q, want registered", d.Status)
	}

	d, err := reg.UpdateDeviceStatus(ctx, d.ID, device.StatusOnline, map[string]any{"battery": 87})
	if err != nil {
		t.Fatalf("UpdateDeviceStatus() error = %v", err)
	}
	if d.Status != device.StatusOnline || d.Metadata["battery"] != 87 {
		t.Errorf("after update: status %q, battery %v", d.Status, d.Metadata["battery"])
	}

	before := time.Now().UTC()
	res, err := eng.SyncDevice(ctx, d.ID, true)
	if err != nil {
		t.Fatalf("SyncDevice() error = %v", err)
	}
	if !res.Success || res.Skipped {
		t.Errorf("Result = %+v, want a successful sync", res)
	}
	if res.Status != device.StatusOnline {
		t.Errorf("Status = %q, want online", res.Status)
	}
	if res.LastSync == nil || res.LastSync.Before(before) {
		t.Errorf("LastSync = %v, want >= %v", res.LastSync, before)
	}

	got, _ := reg.GetDevice(ctx, d.ID)
	if got.Status != device.StatusOnline || got.LastSync == nil {
		t.Errorf("stored device = %+v", got)
	}
}

func TestSyncDevice_SkipWithinWindow(t *testing.T) {
	ctx := context.Background()
	eng, reg, _ := newEngine(t, nil)
	d := register(t, reg, device.RegisterInput{ID: "mt5-01", Type: device.TypeTerminal})

	first, err := eng.SyncDevice(ctx, d.ID, false)
	if err != nil || first.Skipped {
		t.Fatalf("first sync = %+v, %v; want a real sync", first, err)
	}

	second, err := eng.SyncDevice(ctx, d.ID, false)
	if err != nil {
		t.Fatalf("second SyncDevice() error = %v", err)
	}
	if !second.Skipped || second.Reason != device.SkipReasonNotNeeded {
		t.Errorf("second = %+v, want skipped as not needed", second)
	}
	if !second.LastSync.Equal(*first.LastSync) {
		t.Errorf("skipped sync changed last_sync: %v -> %v", first.LastSync, second.LastSync)
	}

	forced, err := eng.SyncDevice(ctx, d.ID, true)
	if err != nil || forced.Skipped {
		t.Fatalf("forced sync = %+v, %v; want a real sync", forced, err)
	}
	if forced.LastSync.Before(*first.LastSync) {
		t.Errorf("forced last_sync %v before first %v", forced.LastSync, first.LastSync)
	}

	history, _ := reg.SyncHistory(d.ID)
	if len(history) != 2 {
		t.Errorf("history = %d records, want 2 (skips are not recorded)", len(history))
	}
}

func TestSyncDevice_SkipWindowIndependentOfInterval(t *testing.T) {
	ctx := context.Background()
	reg := device.NewRegistry(device.Options{})
	eng := New(Options{Registry: reg, Interval: time.Hour, SkipWindow: time.Nanosecond})
	d := register(t, reg, device.RegisterInput{ID: "api-1", Type: device.TypeExternalAPI})

	_, _ = eng.SyncDevice(ctx, d.ID, false)
	time.Sleep(time.Millisecond)
	res, err := eng.SyncDevice(ctx, d.ID, false)
	if err != nil || res.Skipped {
		t.Errorf("second sync = %+v, %v; a tiny skip window should not skip", res, err)
	}
}

func TestSyncDevice_Disabled(t *testing.T) {
	ctx := context.Background()
	eng, reg, _ := newEngine(t, nil)
	d := register(t, reg, device.RegisterInput{ID: "old-phone", Type: device.TypePhone})
	if _, err := reg.UpdateDeviceStatus(ctx, d.ID, device.StatusDisabled, nil); err != nil {
		t.Fatal(err)
	}

	res, err := eng.SyncDevice(ctx, d.ID, true)
	if err != nil {
		t.Fatalf("SyncDevice() error = %v", err)
	}
	if !res.Skipped || res.Reason != device.SkipReasonDisabled || res.Status != device.StatusDisabled {
		t.Errorf("Result = %+v, want skipped as disabled", res)
	}
}

func TestSyncDevice_NotFound(t *testing.T) {
	eng, _, _ := newEngine(t, nil)
	_, err := eng.SyncDevice(context.Background(), "ghost", true)
	if !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("SyncDevice() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSyncDevice_HookFailureMarksError(t *testing.T) {
	ctx := context.Background()
	eng, reg, _ := newEngine(t, hookFunc(func(context.Context, *device.Device, *device.SyncPayload) (map[string]any, []plugin.HookResult, error) {
		return nil, nil, errors.New("broker rejected login")
	}))
	d := register(t, reg, device.RegisterInput{ID: "mt5-01", Type: device.TypeTerminal})

	res, err := eng.SyncDevice(ctx, d.ID, true)
	if !errors.Is(err, ErrSync) {
		t.Fatalf("SyncDevice() error = %v, want ErrSync", err)
	}
	if res.Success || res.Status != device.StatusError || res.Error == "" {
		t.Errorf("Result = %+v", res)
	}

	got, _ := reg.GetDevice(ctx, d.ID)
	if got.Metadata[device.MetadataLastError] == nil {
		t.Error("metadata.last_error should record the failure")
	}
	if got.LastSync != nil {
		t.Error("a failed sync must not set last_sync")
	}
}

func TestSyncDevice_PanicInHooks(t *testing.T) {
	ctx := context.Background()
	eng, reg, _ := newEngine(t, hookFunc(func(context.Context, *device.Device, *device.SyncPayload) (map[string]any, []plugin.HookResult, error) {
		panic("index out of range")
	}))
	d := register(t, reg, device.RegisterInput{ID: "mt5-01", Type: device.TypeTerminal})

	res, err := eng.SyncDevice(ctx, d.ID, true)
	if !errors.Is(err, ErrSync) {
		t.Fatalf("SyncDevice() error = %v, want ErrSync", err)
	}
	if res.Status != device.StatusError {
		t.Errorf("Status = %q, want error", res.Status)
	}
}

func TestSyncDevice_PayloadPersistedAfterEnrichment(t *testing.T) {
	ctx := context.Background()
	mgr := plugin.NewManager(plugin.Options{})
	if err := mgr.Attach(ctx, pickyPlugin{}); err != nil {
		t.Fatal(err)
	}
	eng, reg, mem := newEngine(t, mgr)
	d := register(t, reg, device.RegisterInput{ID: "mt5-01", Type: device.TypeTerminal, Config: map[string]any{"platform": "mt5"}})

	if _, err := eng.SyncDevice(ctx, d.ID, true); err != nil {
		t.Fatalf("SyncDevice() error = %v", err)
	}

	p, err := mem.LoadPayload(ctx, d.ID)
	if err != nil {
		t.Fatalf("LoadPayload() error = %v", err)
	}
	if _, ok := p.Data["picky"]; !ok {
		t.Errorf("payload data = %v, want the plugin contribution", p.Data)
	}
	if p.Config["platform"] != "mt5" {
		t.Errorf("payload config = %v", p.Config)
	}

	got, _ := reg.GetDevice(ctx, d.ID)
	if got.Metadata["picky_ok"] != true {
		t.Errorf("metadata = %v, want the plugin patch merged", got.Metadata)
	}
	if got.LastSyncRecord == nil || got.LastSyncRecord.Payload["picky"] == nil {
		t.Errorf("last sync record = %+v", got.LastSyncRecord)
	}
}

func TestSyncDevice_PersistenceWarning(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: device.NewMemoryStore()}
	reg := device.NewRegistry(device.Options{Store: store, Payloads: store})
	eng := New(Options{Registry: reg})
	d := register(t, reg, device.RegisterInput{ID: "mt5-01", Type: device.TypeTerminal})

	store.fail.Store(true)
	res, err := eng.SyncDevice(ctx, d.ID, true)
	if !errors.Is(err, device.ErrPersistence) {
		t.Fatalf("SyncDevice() error = %v, want ErrPersistence", err)
	}
	if !res.Success || res.Warning == "" || res.Status != device.StatusOnline {
		t.Errorf("Result = %+v, want success with a warning", res)
	}
}

func TestSyncAllDevices_FailingPluginIsolated(t *testing.T) {
	ctx := context.Background()
	mgr := plugin.NewManager(plugin.Options{})
	if err := mgr.Attach(ctx, pickyPlugin{failFor: "bad"}); err != nil {
		t.Fatal(err)
	}
	eng, reg, _ := newEngine(t, mgr)

	ids := []string{"a", "b", "bad", "c", "d"}
	for _, id := range ids {
		register(t, reg, device.RegisterInput{ID: id, Type: device.TypeTerminal})
	}

	results := eng.SyncAllDevices(ctx, false)
	if len(results) != len(ids) {
		t.Fatalf("got %d results, want %d", len(results), len(ids))
	}
	for i, res := range results {
		if res.DeviceID != ids[i] {
			t.Errorf("result %d is %s, want %s", i, res.DeviceID, ids[i])
		}
		if res.DeviceID == "bad" {
			if res.Success || res.Status != device.StatusError {
				t.Errorf("bad device result = %+v", res)
			}
			continue
		}
		if !res.Success || res.Status != device.StatusOnline {
			t.Errorf("%s result = %+v, want success", res.DeviceID, res)
		}
	}

	status := reg.GetSyncStatus()
	if status.ByStatus[device.StatusOnline] != 4 || status.ByStatus[device.StatusError] != 1 {
		t.Errorf("ByStatus = %v", status.ByStatus)
	}
}

// slowPlugin blocks in OnDeviceSync until released, then honours ctx the way
// a real network call would.
type slowPlugin struct{ release chan struct{} }

func (p slowPlugin) Name() string { return "slow" }

func (p slowPlugin) Initialize(context.Context, plugin.DeviceReader) error { return nil }

func (p slowPlugin) OnDeviceSync(ctx context.Context, _ *device.Device, _ *device.SyncPayload) (plugin.SyncContribution, error) {
	<-p.release
	if err := ctx.Err(); err != nil {
		return plugin.SyncContribution{}, err
	}
	return plugin.SyncContribution{Data: map[string]any{"slow": true}}, nil
}

func TestSyncDevice_CallerCancelledBeforeStart(t *testing.T) {
	mgr := plugin.NewManager(plugin.Options{})
	if err := mgr.Attach(context.Background(), pickyPlugin{}); err != nil {
		t.Fatal(err)
	}
	eng, reg, _ := newEngine(t, mgr)
	register(t, reg, device.RegisterInput{ID: "mt5-01", Type: device.TypeTerminal})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for range 20 {
		res, err := eng.SyncDevice(ctx, "mt5-01", true)
		if err != nil || !res.Success {
			t.Fatalf("SyncDevice(cancelled) = %+v, %v; want success", res, err)
		}
	}
	got, _ := reg.GetDevice(context.Background(), "mt5-01")
	if got.Status != device.StatusOnline {
		t.Errorf("Status = %q, want online", got.Status)
	}
	if _, ok := got.Metadata["last_error"]; ok {
		t.Errorf("last_error = %v, want unset", got.Metadata["last_error"])
	}
}

func TestSyncDevice_CallerCancelledMidSync(t *testing.T) {
	p := slowPlugin{release: make(chan struct{})}
	mgr := plugin.NewManager(plugin.Options{HookTimeout: 5 * time.Second})
	if err := mgr.Attach(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	eng, reg, _ := newEngine(t, mgr)
	register(t, reg, device.RegisterInput{ID: "pixel-1", Type: device.TypePhone})

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := eng.SyncDevice(ctx, "pixel-1", true)
		done <- outcome{res, err}
	}()

	cancel()
	close(p.release)

	select {
	case o := <-done:
		if o.err != nil || !o.res.Success || o.res.Status != device.StatusOnline {
			t.Errorf("SyncDevice() = %+v, %v; want an online success", o.res, o.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("SyncDevice did not return")
	}

	got, _ := reg.GetDevice(context.Background(), "pixel-1")
	if got.Status == device.StatusError {
		t.Errorf("device marked error after caller cancelled: %v", got.Metadata["last_error"])
	}
}

func TestSyncAllDevices_CallerCancelled(t *testing.T) {
	eng, reg, _ := newEngine(t, nil)
	for _, id := range []string{"a", "b", "c"} {
		register(t, reg, device.RegisterInput{ID: id, Type: device.TypeTerminal})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if results := eng.SyncAllDevices(ctx, true); len(results) != 0 {
		t.Errorf("got %d results, want none started", len(results))
	}
	for _, d := range reg.GetDevices(context.Background(), device.Filter{}) {
		if d.Status != device.StatusRegistered {
			t.Errorf("%s status = %q, want registered", d.ID, d.Status)
		}
	}
}

func TestSyncAllDevices_Empty(t *testing.T) {
	eng, _, _ := newEngine(t, nil)
	results := eng.SyncAllDevices(context.Background(), false)
	if results == nil || len(results) != 0 {
		t.Errorf("SyncAllDevices() = %v, want an empty list", results)
	}
}

func TestSyncDevice_OverlappingCallsSerialize(t *testing.T) {
	ctx := context.Background()

	var active, maxActive, runs atomic.Int32
	hooks := hookFunc(func(context.Context, *device.Device, *device.SyncPayload) (map[string]any, []plugin.HookResult, error) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		runs.Add(1)
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return nil, nil, nil
	})
	eng, reg, _ := newEngine(t, hooks)
	d := register(t, reg, device.RegisterInput{ID: "mt5-01", Type: device.TypeTerminal})

	var wg sync.WaitGroup
	var skipped atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := eng.SyncDevice(ctx, d.ID, false)
			if err != nil {
				t.Errorf("SyncDevice() error = %v", err)
			}
			if res.Skipped {
				skipped.Add(1)
			}
		}()
	}
	wg.Wait()

	if maxActive.Load() != 1 {
		t.Errorf("max concurrent syncs of one device = %d, want 1", maxActive.Load())
	}
	if runs.Load() != 1 || skipped.Load() != 4 {
		t.Errorf("runs = %d, skipped = %d; want 1 and 4", runs.Load(), skipped.Load())
	}
}

func TestEngine_StartStop(t *testing.T) {
	reg := device.NewRegistry(device.Options{})
	eng := New(Options{Registry: reg, Interval: 20 * time.Millisecond})
	register(t, reg, device.RegisterInput{ID: "mt5-01", Type: device.TypeTerminal})

	// Stop before Start is a no-op.
	eng.Stop()

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := eng.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}
	if !eng.Running() || !reg.GetSyncStatus().DriverRunning {
		t.Error("driver should report running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for eng.LastPass() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if eng.LastPass() == nil {
		t.Fatal("driver never completed a pass")
	}

	d, _ := reg.GetDevice(context.Background(), "mt5-01")
	if d.Status != device.StatusOnline {
		t.Errorf("Status = %q, want online after a pass", d.Status)
	}
	if got := reg.GetSyncStatus().LastSyncService; got == nil {
		t.Error("LastSyncService should be set after a pass")
	}

	eng.Stop()
	eng.Stop()
	if eng.Running() {
		t.Error("driver should report stopped")
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Errorf("restart error = %v", err)
	}
	eng.Stop()
}

func TestEngine_ParentContextCancelled(t *testing.T) {
	reg := device.NewRegistry(device.Options{})
	eng := New(Options{Registry: reg, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	if err := eng.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for eng.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if eng.Running() {
		t.Error("driver should stop when its context is cancelled")
	}
	eng.Stop()
}
