package builtin

import (
	"context"
	"fmt"
	"sort"

	"github.com/nerrad567/devicehub-core/internal/device"
	"github.com/nerrad567/devicehub-core/internal/plugin"
)

// Terminal config keys.
const (
	ConfigPlatform = "platform"
	ConfigServer   = "server"
	ConfigSymbols  = "symbols"
)

// Terminal handles trading terminals. On sync it reports the platform,
// server and the sorted symbol list from the device config.
//
// Settings:
//
//	default_platform  platform assumed when a terminal omits one (mt5)
type Terminal struct {
	name            string
	defaultPlatform string
	log             plugin.Logger
}

// NewTerminal is the terminal plugin factory.
func NewTerminal(m plugin.Manifest, deps plugin.Deps) (plugin.Plugin, error) {
	return &Terminal{
		name:            m.Name,
		defaultPlatform: m.String("default_platform", "mt5"),
		log:             logger(deps),
	}, nil
}

// Name returns the manifest name.
func (t *Terminal) Name() string { return t.name }

// Initialize logs how many terminals are already registered. It never fails.
func (t *Terminal) Initialize(ctx context.Context, devices plugin.DeviceReader) error {
	if devices != nil {
		n := len(devices.GetDevices(ctx, device.Filter{Type: device.TypeTerminal}))
		t.log.Info("terminal plugin ready", "terminals", n)
	}
	return nil
}

// OnDeviceRegistered notes terminals registered without a platform; sync
// will report them under default_platform.
func (t *Terminal) OnDeviceRegistered(_ context.Context, d *device.Device) error {
	if d.Type != device.TypeTerminal {
		return nil
	}
	if _, ok := d.Config[ConfigPlatform]; !ok {
		t.log.Info("terminal registered without platform", "device_id", d.ID, "assumed", t.defaultPlatform)
	}
	return nil
}

// OnDeviceSync contributes platform, symbols and server for terminal devices
// and ignores every other type.
//
// Returns:
//   - Data: platform, symbols (sorted) and server when configured
//   - Metadata: platform and symbol_count
//   - error: when config.symbols is not a list of strings
func (t *Terminal) OnDeviceSync(_ context.Context, d *device.Device, _ *device.SyncPayload) (plugin.SyncContribution, error) {
	if d.Type != device.TypeTerminal {
		return plugin.SyncContribution{}, nil
	}

	platform, _ := d.Config[ConfigPlatform].(string)
	if platform == "" {
		platform = t.defaultPlatform
	}

	symbols, err := stringList(d.Config[ConfigSymbols])
	if err != nil {
		return plugin.SyncContribution{}, fmt.Errorf("terminal %s: %s: %w", d.ID, ConfigSymbols, err)
	}

	data := map[string]any{
		"platform": platform,
		"symbols":  symbols,
	}
	if server, ok := d.Config[ConfigServer].(string); ok {
		data["server"] = server
	}

	return plugin.SyncContribution{
		Data:     data,
		Metadata: map[string]any{"platform": platform, "symbol_count": len(symbols)},
	}, nil
}

// stringList accepts nil, []string or a []any of strings.
func stringList(v any) ([]string, error) {
	var out []string
	switch l := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		out = append(out, l...)
	case []any:
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a list of strings, found %T", item)
			}
			out = append(out, s)
		}
	default:
		return nil, fmt.Errorf("expected a list, found %T", v)
	}
	sort.Strings(out)
	return out, nil
}
