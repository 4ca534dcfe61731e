package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/devicehub-core/internal/device"
	"github.com/nerrad567/devicehub-core/internal/plugin"
)

// ConfigEndpoint is the external-api config key probed on sync.
const ConfigEndpoint = "endpoint"

// ExternalAPI probes the endpoint of external-api devices on every sync. A
// transport error or an unexpected status fails the sync. Devices without an
// endpoint are reported as not probed.
//
// Settings:
//
//	method         GET or HEAD (GET)
//	timeout        probe timeout in seconds (5)
//	expect_status  required status code; 0 accepts any 2xx (0)
type ExternalAPI struct {
	name         string
	method       string
	timeout      time.Duration
	expectStatus int
	client       *http.Client
}

// NewExternalAPI is the external_api plugin factory.
func NewExternalAPI(m plugin.Manifest, deps plugin.Deps) (plugin.Plugin, error) {
	method := strings.ToUpper(m.String("method", http.MethodGet))
	if method != http.MethodGet && method != http.MethodHead {
		return nil, fmt.Errorf("external_api: unsupported method %q", method)
	}
	client := deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &ExternalAPI{
		name:         m.Name,
		method:       method,
		timeout:      m.Duration("timeout", 5*time.Second),
		expectStatus: m.Int("expect_status", 0),
		client:       client,
	}, nil
}

// Name returns the manifest name.
func (e *ExternalAPI) Name() string { return e.name }

// Initialize is a no-op.
func (e *ExternalAPI) Initialize(context.Context, plugin.DeviceReader) error { return nil }

// OnDeviceSync probes config.endpoint of external-api devices.
//
// The request uses the configured method and is bounded by the plugin
// timeout as well as ctx. The response body is drained and discarded.
//
// Returns:
//   - Data: probed, endpoint (credentials redacted), status_code, latency_ms
//   - Metadata: api_reachable and api_latency_ms
//   - error: for an invalid endpoint, a transport failure or an
//     unexpected status code
func (e *ExternalAPI) OnDeviceSync(ctx context.Context, d *device.Device, _ *device.SyncPayload) (plugin.SyncContribution, error) {
	if d.Type != device.TypeExternalAPI {
		return plugin.SyncContribution{}, nil
	}

	endpoint, _ := d.Config[ConfigEndpoint].(string)
	if endpoint == "" {
		return plugin.SyncContribution{Data: map[string]any{"probed": false}}, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return plugin.SyncContribution{}, fmt.Errorf("external api %s: invalid endpoint %q", d.ID, endpoint)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, e.method, u.String(), nil)
	if err != nil {
		return plugin.SyncContribution{}, fmt.Errorf("external api %s: %w", d.ID, err)
	}
	req.Header.Set("User-Agent", "devicehub-core")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return plugin.SyncContribution{}, fmt.Errorf("external api %s: probe failed: %w", d.ID, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	latency := time.Since(start).Milliseconds()

	if !e.statusOK(resp.StatusCode) {
		return plugin.SyncContribution{}, fmt.Errorf("external api %s: endpoint returned %d", d.ID, resp.StatusCode)
	}

	return plugin.SyncContribution{
		Data: map[string]any{
			"probed":      true,
			"endpoint":    u.Redacted(),
			"status_code": resp.StatusCode,
			"latency_ms":  latency,
		},
		Metadata: map[string]any{
			"api_reachable":  true,
			"api_latency_ms": latency,
		},
	}, nil
}

// statusOK honours expect_status, otherwise any 2xx.
func (e *ExternalAPI) statusOK(code int) bool {
	if e.expectStatus != 0 {
		return code == e.expectStatus
	}
	return code >= 200 && code < 300
}
