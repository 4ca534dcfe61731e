package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/devicehub-core/internal/device"
	"github.com/nerrad567/devicehub-core/internal/plugin"
)

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakePublisher) PublishJSON(topic string, v any, retained bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, published{topic: topic, payload: data, retained: retained})
	f.mu.Unlock()
	return nil
}

type sample struct {
	id, typ  string
	success  bool
	duration int64
}

type fakeTelemetry struct {
	mu      sync.Mutex
	samples []sample
}

func (f *fakeTelemetry) WriteSyncOutcome(id, typ string, success bool, ms int64, _ time.Time) {
	f.mu.Lock()
	f.samples = append(f.samples, sample{id, typ, success, ms})
	f.mu.Unlock()
}

func manifest(t *testing.T, yaml string) plugin.Manifest {
	t.Helper()
	m, err := plugin.ParseManifest([]byte(yaml))
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}
	return m
}

func syncHook(t *testing.T, p plugin.Plugin) plugin.SyncHook {
	t.Helper()
	h, ok := p.(plugin.SyncHook)
	if !ok {
		t.Fatalf("%s does not implement SyncHook", p.Name())
	}
	return h
}

func runSync(t *testing.T, p plugin.Plugin, d *device.Device) (plugin.SyncContribution, error) {
	t.Helper()
	return syncHook(t, p).OnDeviceSync(context.Background(), d, device.NewSyncPayload(d, time.Now()))
}

func TestRegister(t *testing.T) {
	c := plugin.NewCatalog()
	Register(c)
	want := []string{KindExternalAPI, KindInfluxTelemetry, KindMQTTEvents, KindPhone, KindTerminal}
	if got := c.Kinds(); !reflect.DeepEqual(got, want) {
		t.Errorf("Kinds() = %v, want %v", got, want)
	}
}

func TestTerminal(t *testing.T) {
	p, err := NewTerminal(manifest(t, "kind: terminal\nsettings:\n  default_platform: mt4\n"), plugin.Deps{})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		dev      *device.Device
		wantErr  bool
		platform string
		symbols  []string
	}{
		{
			name: "configured terminal",
			dev: &device.Device{ID: "mt5-01", Type: device.TypeTerminal, Config: map[string]any{
				"platform": "mt5", "server": "Broker-Live", "symbols": []any{"GBPUSD", "EURUSD"},
			}},
			platform: "mt5",
			symbols:  []string{"EURUSD", "GBPUSD"},
		},
		{
			name:     "defaults",
			dev:      &device.Device{ID: "mt4-01", Type: device.TypeTerminal, Config: map[string]any{}},
			platform: "mt4",
			symbols:  []string{},
		},
		{
			name:    "symbols not a list",
			dev:     &device.Device{ID: "mt5-02", Type: device.TypeTerminal, Config: map[string]any{"symbols": "EURUSD"}},
			wantErr: true,
		},
		{
			name:    "symbols with non-strings",
			dev:     &device.Device{ID: "mt5-03", Type: device.TypeTerminal, Config: map[string]any{"symbols": []any{"EURUSD", 3}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := runSync(t, p, tt.dev)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("OnDeviceSync() error = %v", err)
			}
			data := c.Data.(map[string]any)
			if data["platform"] != tt.platform {
				t.Errorf("platform = %v, want %s", data["platform"], tt.platform)
			}
			if !reflect.DeepEqual(data["symbols"], tt.symbols) {
				t.Errorf("symbols = %v, want %v", data["symbols"], tt.symbols)
			}
			if c.Metadata["symbol_count"] != len(tt.symbols) {
				t.Errorf("symbol_count = %v", c.Metadata["symbol_count"])
			}
		})
	}

	t.Run("ignores other types", func(t *testing.T) {
		c, err := runSync(t, p, &device.Device{ID: "p1", Type: device.TypePhone})
		if err != nil || c.Data != nil || c.Metadata != nil {
			t.Errorf("got %+v, %v; want empty contribution", c, err)
		}
	})
}

func TestPhone(t *testing.T) {
	p, err := NewPhone(manifest(t, "kind: phone\nsettings:\n  low_battery: 20\n"), plugin.Deps{})
	if err != nil {
		t.Fatal(err)
	}

	d := &device.Device{
		ID:           "pixel-1",
		Type:         device.TypePhone,
		Config:       map[string]any{"os": "android"},
		Capabilities: []string{"push"},
		Metadata:     map[string]any{"battery": 87},
	}
	c, err := runSync(t, p, d)
	if err != nil {
		t.Fatalf("OnDeviceSync() error = %v", err)
	}
	data := c.Data.(map[string]any)
	if data["push_enabled"] != true || data["os"] != "android" || data["battery"] != 87.0 {
		t.Errorf("data = %v", data)
	}
	if c.Metadata[MetadataLowBattery] != false {
		t.Errorf("low_battery = %v, want false", c.Metadata[MetadataLowBattery])
	}

	d.Metadata["battery"] = 12.5
	c, _ = runSync(t, p, d)
	if c.Metadata[MetadataLowBattery] != true {
		t.Errorf("low_battery = %v, want true", c.Metadata[MetadataLowBattery])
	}

	delete(d.Metadata, "battery")
	c, _ = runSync(t, p, d)
	if c.Metadata != nil {
		t.Errorf("no battery reading should not patch metadata, got %v", c.Metadata)
	}

	sc := p.(plugin.StatusChangedHook)
	if err := sc.OnDeviceStatusChanged(context.Background(), d, device.StatusRegistered); err != nil {
		t.Errorf("OnDeviceStatusChanged() error = %v", err)
	}
}

func TestExternalAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	p, err := NewExternalAPI(manifest(t, "kind: external_api\nsettings:\n  timeout: 1\n"), plugin.Deps{HTTPClient: srv.Client()})
	if err != nil {
		t.Fatal(err)
	}

	api := func(endpoint string) *device.Device {
		cfg := map[string]any{}
		if endpoint != "" {
			cfg["endpoint"] = endpoint
		}
		return &device.Device{ID: "broker-api", Type: device.TypeExternalAPI, Config: cfg}
	}

	c, err := runSync(t, p, api(srv.URL+"/health"))
	if err != nil {
		t.Fatalf("healthy probe error = %v", err)
	}
	data := c.Data.(map[string]any)
	if data["status_code"] != http.StatusOK || data["probed"] != true {
		t.Errorf("data = %v", data)
	}
	if c.Metadata["api_reachable"] != true {
		t.Errorf("metadata = %v", c.Metadata)
	}

	if _, err := runSync(t, p, api(srv.URL+"/down")); err == nil {
		t.Error("503 should fail the sync")
	}

	if _, err := runSync(t, p, api("ftp://example.com")); err == nil {
		t.Error("non-http endpoint should fail the sync")
	}

	c, err = runSync(t, p, api(""))
	if err != nil || c.Data.(map[string]any)["probed"] != false {
		t.Errorf("no endpoint: %+v, %v", c, err)
	}

	start := time.Now()
	if _, err := runSync(t, p, api(srv.URL+"/slow")); err == nil {
		t.Error("slow endpoint should time out")
	}
	if time.Since(start) > 1900*time.Millisecond {
		t.Error("probe timeout was not applied")
	}

	if _, err := NewExternalAPI(manifest(t, "kind: external_api\nsettings:\n  method: POST\n"), plugin.Deps{}); err == nil {
		t.Error("POST should be rejected")
	}
}

func TestExternalAPI_ExpectStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p, _ := NewExternalAPI(manifest(t, "kind: external_api\nsettings:\n  expect_status: 200\n  method: head\n"), plugin.Deps{})
	d := &device.Device{ID: "api", Type: device.TypeExternalAPI, Config: map[string]any{"endpoint": srv.URL}}
	if _, err := runSync(t, p, d); err == nil {
		t.Error("204 should fail when 200 is required")
	}
}

func TestMQTTEvents(t *testing.T) {
	if _, err := NewMQTTEvents(manifest(t, "kind: mqtt_events\n"), plugin.Deps{}); !errors.Is(err, plugin.ErrMissingDependency) {
		t.Fatalf("without publisher error = %v, want ErrMissingDependency", err)
	}

	pub := &fakePublisher{}
	p, err := NewMQTTEvents(manifest(t, "kind: mqtt_events\n"), plugin.Deps{Publisher: pub})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	d := &device.Device{ID: "mt5-01", Type: device.TypeTerminal, Status: device.StatusOnline}
	_ = p.(plugin.RegisteredHook).OnDeviceRegistered(ctx, d)
	_ = p.(plugin.StatusChangedHook).OnDeviceStatusChanged(ctx, d, device.StatusRegistered)
	_ = p.(plugin.SyncObserver).OnDeviceSynced(ctx, d, device.SyncRecord{DeviceID: "mt5-01", Success: true})
	_ = p.(plugin.RemovedHook).OnDeviceRemoved(ctx, d)

	wantTopics := []string{
		"devicehub/events/registered/mt5-01",
		"devicehub/events/status_changed/mt5-01",
		"devicehub/events/synced/mt5-01",
		"devicehub/events/removed/mt5-01",
	}
	if len(pub.msgs) != len(wantTopics) {
		t.Fatalf("published %d messages, want %d", len(pub.msgs), len(wantTopics))
	}
	for i, topic := range wantTopics {
		if pub.msgs[i].topic != topic {
			t.Errorf("msg %d topic = %q, want %q", i, pub.msgs[i].topic, topic)
		}
	}

	var evt plugin.Event
	if err := json.Unmarshal(pub.msgs[1].payload, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Type != plugin.EventStatusChanged || evt.PreviousStatus != device.StatusRegistered {
		t.Errorf("event = %+v", evt)
	}
}

func TestInfluxTelemetry(t *testing.T) {
	if _, err := NewInfluxTelemetry(manifest(t, "kind: influx_telemetry\n"), plugin.Deps{}); !errors.Is(err, plugin.ErrMissingDependency) {
		t.Fatalf("without telemetry error = %v, want ErrMissingDependency", err)
	}

	tel := &fakeTelemetry{}
	p, err := NewInfluxTelemetry(manifest(t, "kind: influx_telemetry\n"), plugin.Deps{Telemetry: tel})
	if err != nil {
		t.Fatal(err)
	}
	obs := p.(plugin.SyncObserver)
	d := &device.Device{ID: "mt5-01", Type: device.TypeTerminal}

	_ = obs.OnDeviceSynced(context.Background(), d, device.SyncRecord{Success: true, DurationMS: 42})
	_ = obs.OnDeviceSynced(context.Background(), d, device.SyncRecord{Success: false, DurationMS: 7})
	_ = obs.OnDeviceSynced(context.Background(), d, device.SyncRecord{Success: true, Skipped: true})

	want := []sample{{"mt5-01", "terminal", true, 42}, {"mt5-01", "terminal", false, 7}}
	if !reflect.DeepEqual(tel.samples, want) {
		t.Errorf("samples = %+v, want %+v", tel.samples, want)
	}
}
