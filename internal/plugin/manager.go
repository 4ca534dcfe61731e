package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/devicehub-core/internal/device"
)

// Defaults applied by NewManager.
const (
	DefaultHookTimeout = 5 * time.Second
	DefaultConcurrency = 4
)

// Plugin sources reported by Info.
const (
	SourceAttached = "attached"
	SourceManifest = "manifest"
)

// Options configures a Manager.
type Options struct {
	Catalog     *Catalog
	Deps        Deps
	Devices     DeviceReader
	HookTimeout time.Duration
	Concurrency int
	Logger      Logger
}

// Info describes an active plugin.
type Info struct {
	Name   string   `json:"name"`
	Kind   string   `json:"kind,omitempty"`
	Source string   `json:"source"`
	File   string   `json:"file,omitempty"`
	Hooks  []string `json:"hooks"`
}

type entry struct {
	plugin Plugin
	kind   string
	source string
	file   string
}

// Manager owns the active plugin set and runs hooks against it.
//
// Attached plugins are always active and come first; manifest plugins follow
// in file-name order and are replaced wholesale by Load and Reload. Every
// hook call is bounded by the hook timeout and recovers panics, so a single
// misbehaving plugin cannot stall or crash a caller.
//
// Manager implements device.Notifier.
type Manager struct {
	mu       sync.RWMutex
	attached []entry
	loaded   []entry
	dir      string

	// loadMu serialises Load and Reload.
	loadMu sync.Mutex

	catalog     *Catalog
	deps        Deps
	devices     DeviceReader
	timeout     time.Duration
	concurrency int
	logger      Logger
}

var _ device.Notifier = (*Manager)(nil)

// NewManager creates a Manager with no active plugins.
func NewManager(opts Options) *Manager {
	m := &Manager{
		catalog:     opts.Catalog,
		deps:        opts.Deps,
		devices:     opts.Devices,
		timeout:     opts.HookTimeout,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
	}
	if m.catalog == nil {
		m.catalog = NewCatalog()
	}
	if m.timeout <= 0 {
		m.timeout = DefaultHookTimeout
	}
	if m.concurrency <= 0 {
		m.concurrency = DefaultConcurrency
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	if m.deps.Logger == nil {
		m.deps.Logger = m.logger
	}
	return m
}

// Attach initialises p and adds it to the always-active set.
func (m *Manager) Attach(ctx context.Context, p Plugin) error {
	name := p.Name()
	m.mu.RLock()
	dup := m.hasNameLocked(name)
	m.mu.RUnlock()
	if dup {
		return fmt.Errorf("%w: %w: %s", ErrPluginLoad, ErrDuplicateName, name)
	}

	if err := m.initialize(ctx, p); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPluginLoad, name, err)
	}

	m.mu.Lock()
	m.attached = append(m.attached, entry{plugin: p, source: SourceAttached})
	m.mu.Unlock()

	m.logger.Info("plugin attached", "plugin", name, "hooks", hookNames(p))
	return nil
}

// Load scans dir for manifests and replaces the manifest plugin set.
//
// Each manifest is loaded independently: one that fails to parse, names an
// unknown kind, duplicates a name or fails Initialize is logged, reported in
// errs and skipped. A missing directory is not an error.
func (m *Manager) Load(ctx context.Context, dir string) (loaded []string, errs []error) {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if dir != "" {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			m.logger.Info("plugin directory not found, no manifest plugins loaded", "directory", dir)
		}
	}

	manifests, errs := ReadManifests(dir)

	m.mu.RLock()
	taken := make(map[string]bool, len(m.attached)+len(manifests))
	for _, e := range m.attached {
		taken[e.plugin.Name()] = true
	}
	m.mu.RUnlock()

	var next []entry
	for _, mf := range manifests {
		file := filepath.Base(mf.File)
		if !mf.IsEnabled() {
			m.logger.Debug("plugin disabled by manifest", "plugin", mf.Name, "file", file)
			continue
		}
		if taken[mf.Name] {
			errs = append(errs, fmt.Errorf("%w: %s: %w: %s", ErrPluginLoad, file, ErrDuplicateName, mf.Name))
			continue
		}

		p, err := m.build(ctx, mf)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %w", ErrPluginLoad, file, err))
			continue
		}

		taken[mf.Name] = true
		next = append(next, entry{plugin: p, kind: mf.Kind, source: SourceManifest, file: mf.File})
		loaded = append(loaded, mf.Name)
	}

	m.mu.Lock()
	previous := m.loaded
	m.loaded = next
	m.dir = dir
	m.mu.Unlock()

	for _, e := range previous {
		m.closePlugin(e.plugin)
	}

	for _, err := range errs {
		m.logger.Warn("plugin skipped", "error", err)
	}
	m.logger.Info("plugins loaded",
		"directory", dir,
		"loaded", len(loaded),
		"skipped", len(errs),
	)
	return loaded, errs
}

// Reload re-scans the directory given to the last Load.
func (m *Manager) Reload(ctx context.Context) ([]string, []error) {
	m.mu.RLock()
	dir := m.dir
	m.mu.RUnlock()
	return m.Load(ctx, dir)
}

// Plugins describes the active set in invocation order.
func (m *Manager) Plugins() []Info {
	active := m.active()
	out := make([]Info, 0, len(active))
	for _, e := range active {
		hooks := hookNames(e.plugin)
		if hooks == nil {
			hooks = []string{}
		}
		out = append(out, Info{
			Name:   e.plugin.Name(),
			Kind:   e.kind,
			Source: e.source,
			File:   e.file,
			Hooks:  hooks,
		})
	}
	return out
}

// Count returns the number of active plugins.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.attached) + len(m.loaded)
}

// Close closes every active plugin that implements io.Closer.
func (m *Manager) Close() error {
	m.mu.Lock()
	active := append(append([]entry(nil), m.attached...), m.loaded...)
	m.attached, m.loaded = nil, nil
	m.mu.Unlock()

	var errs []error
	for _, e := range active {
		if c, ok := e.plugin.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing plugin %s: %w", e.plugin.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// RunSync runs every SyncHook in order against the payload.
//
// Each hook sees its own copy of the device and of the payload as enriched
// by the hooks before it. Contributions are folded into payload (Data under
// the plugin's name, Metadata into payload.Metadata) and the accumulated
// metadata patch is returned. The first failing hook stops the run.
func (m *Manager) RunSync(ctx context.Context, d *device.Device, payload *device.SyncPayload) (map[string]any, []HookResult, error) {
	if payload.Data == nil {
		payload.Data = make(map[string]any)
	}
	if payload.Metadata == nil {
		payload.Metadata = make(map[string]any)
	}

	patch := make(map[string]any)
	var results []HookResult

	for _, e := range m.active() {
		h, ok := e.plugin.(SyncHook)
		if !ok {
			continue
		}
		name := e.plugin.Name()
		dev := d.DeepCopy()
		snapshot := payload.DeepCopy()

		start := time.Now()
		c, err := call(ctx, m.timeout, func(ctx context.Context) (SyncContribution, error) {
			return h.OnDeviceSync(ctx, dev, snapshot)
		})
		results = append(results, HookResult{Plugin: name, Hook: "sync", Err: err, Duration: time.Since(start)})
		if err != nil {
			return patch, results, fmt.Errorf("plugin %s: %w", name, err)
		}

		if c.Data != nil {
			payload.Data[name] = c.Data
		}
		for k, v := range c.Metadata {
			patch[k] = v
			payload.Metadata[k] = v
		}
	}
	return patch, results, nil
}

// DeviceRegistered fans out to every RegisteredHook.
func (m *Manager) DeviceRegistered(ctx context.Context, d *device.Device) {
	m.fanOut(ctx, "registered", func(p Plugin) func(context.Context) error {
		h, ok := p.(RegisteredHook)
		if !ok {
			return nil
		}
		dev := d.DeepCopy()
		return func(ctx context.Context) error { return h.OnDeviceRegistered(ctx, dev) }
	})
}

// DeviceStatusChanged fans out to every StatusChangedHook.
func (m *Manager) DeviceStatusChanged(ctx context.Context, d *device.Device, previous device.Status) {
	m.fanOut(ctx, "status_changed", func(p Plugin) func(context.Context) error {
		h, ok := p.(StatusChangedHook)
		if !ok {
			return nil
		}
		dev := d.DeepCopy()
		return func(ctx context.Context) error { return h.OnDeviceStatusChanged(ctx, dev, previous) }
	})
}

// DeviceRemoved fans out to every RemovedHook.
func (m *Manager) DeviceRemoved(ctx context.Context, d *device.Device) {
	m.fanOut(ctx, "removed", func(p Plugin) func(context.Context) error {
		h, ok := p.(RemovedHook)
		if !ok {
			return nil
		}
		dev := d.DeepCopy()
		return func(ctx context.Context) error { return h.OnDeviceRemoved(ctx, dev) }
	})
}

// DeviceSynced fans out to every SyncObserver.
func (m *Manager) DeviceSynced(ctx context.Context, d *device.Device, rec device.SyncRecord) {
	m.fanOut(ctx, "synced", func(p Plugin) func(context.Context) error {
		h, ok := p.(SyncObserver)
		if !ok {
			return nil
		}
		dev := d.DeepCopy()
		r := rec.DeepCopy()
		return func(ctx context.Context) error { return h.OnDeviceSynced(ctx, dev, r) }
	})
}

// fanOut runs one lifecycle hook across the active set with bounded
// concurrency. bind returns nil for plugins without the hook. Failures are
// logged and reported per plugin; they never reach the caller's control flow.
func (m *Manager) fanOut(ctx context.Context, hook string, bind func(Plugin) func(context.Context) error) []HookResult {
	type target struct {
		name string
		fn   func(context.Context) error
	}

	var targets []target
	for _, e := range m.active() {
		if fn := bind(e.plugin); fn != nil {
			targets = append(targets, target{name: e.plugin.Name(), fn: fn})
		}
	}
	if len(targets) == 0 {
		return nil
	}

	results := make([]HookResult, len(targets))
	var g errgroup.Group
	g.SetLimit(m.concurrency)

	for i, t := range targets {
		g.Go(func() error {
			start := time.Now()
			err := callErr(ctx, m.timeout, t.fn)
			results[i] = HookResult{Plugin: t.name, Hook: hook, Err: err, Duration: time.Since(start)}
			if err != nil {
				m.logger.Warn("plugin hook failed", "plugin", t.name, "hook", hook, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *Manager) build(ctx context.Context, mf Manifest) (p Plugin, err error) {
	factory, ok := m.catalog.Lookup(mf.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, mf.Kind)
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: factory: %v", ErrHookPanic, r)
			}
		}()
		p, err = factory(mf, m.deps)
	}()
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("factory for %q returned no plugin", mf.Kind)
	}

	if err := m.initialize(ctx, p); err != nil {
		m.closePlugin(p)
		return nil, err
	}
	return p, nil
}

func (m *Manager) initialize(ctx context.Context, p Plugin) error {
	err := callErr(ctx, m.timeout, func(ctx context.Context) error {
		return p.Initialize(ctx, m.devices)
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return nil
}

func (m *Manager) closePlugin(p Plugin) {
	c, ok := p.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		m.logger.Warn("closing plugin failed", "plugin", p.Name(), "error", err)
	}
}

// active returns a snapshot of the active set in invocation order.
func (m *Manager) active() []entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]entry, 0, len(m.attached)+len(m.loaded))
	out = append(out, m.attached...)
	return append(out, m.loaded...)
}

func (m *Manager) hasNameLocked(name string) bool {
	for _, e := range m.attached {
		if e.plugin.Name() == name {
			return true
		}
	}
	for _, e := range m.loaded {
		if e.plugin.Name() == name {
			return true
		}
	}
	return false
}
