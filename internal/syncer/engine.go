package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/devicehub-core/internal/device"
	"github.com/nerrad567/devicehub-core/internal/plugin"
)

// Defaults applied by New.
const (
	DefaultInterval    = 5 * time.Minute
	DefaultConcurrency = 4
)

// Logger defines the logging interface used by the Engine.
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

// HookRunner runs the plugin sync hooks for one device.
type HookRunner interface {
	RunSync(ctx context.Context, d *device.Device, payload *device.SyncPayload) (map[string]any, []plugin.HookResult, error)
}

type noHooks struct{}

func (noHooks) RunSync(context.Context, *device.Device, *device.SyncPayload) (map[string]any, []plugin.HookResult, error) {
	return nil, nil, nil
}

// Options configures an Engine.
type Options struct {
	Registry *device.Registry
	Hooks    HookRunner

	// Interval is the periodic driver interval.
	Interval time.Duration

	// SkipWindow is how recent last_sync must be for a non-forced sync to be
	// skipped. Zero means Interval.
	SkipWindow time.Duration

	// Concurrency bounds parallel device syncs in SyncAllDevices.
	Concurrency int

	Logger Logger
}

// Result is the outcome of syncing one device.
type Result struct {
	DeviceID   string        `json:"device_id"`
	Success    bool          `json:"success"`
	Skipped    bool          `json:"skipped,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Error      string        `json:"error,omitempty"`
	Warning    string        `json:"warning,omitempty"`
	Status     device.Status `json:"status,omitempty"`
	LastSync   *time.Time    `json:"last_sync,omitempty"`
	DurationMS int64         `json:"duration_ms"`
}

// Engine synchronises devices on demand and on a fixed interval.
//
// A device's whole sync runs under its registry lock, so an on-demand call
// overlapping the periodic driver waits and then sees the fresh last_sync.
// Failures are contained per device: a failing device is marked error and
// the rest of the pass carries on.
type Engine struct {
	reg         *device.Registry
	hooks       HookRunner
	interval    time.Duration
	skipWindow  time.Duration
	concurrency int
	logger      Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	lastPass *time.Time
}

var _ device.DriverState = (*Engine)(nil)

// New creates an Engine and registers it as the registry's driver state.
func New(opts Options) *Engine {
	e := &Engine{
		reg:         opts.Registry,
		hooks:       opts.Hooks,
		interval:    opts.Interval,
		skipWindow:  opts.SkipWindow,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
	}
	if e.hooks == nil {
		e.hooks = noHooks{}
	}
	if e.interval <= 0 {
		e.interval = DefaultInterval
	}
	if e.skipWindow <= 0 {
		e.skipWindow = e.interval
	}
	if e.concurrency <= 0 {
		e.concurrency = DefaultConcurrency
	}
	if e.logger == nil {
		e.logger = noopLogger{}
	}
	e.reg.SetDriverState(e)
	return e
}

// SyncDevice synchronises one device.
//
// A skipped device (disabled, or synced within the skip window when force is
// false) yields a successful Result with Skipped set. An unknown id returns
// device.ErrDeviceNotFound. A failed sync returns the Result together with an
// error wrapping ErrSync. When the outcome could not be persisted the Result
// carries a Warning and the error wraps device.ErrPersistence.
//
// Cancelling ctx does not abort a sync that has started: the body runs
// detached, bounded by the plugin hook timeouts, so a caller that hangs up
// never leaves the device marked as failed.
func (e *Engine) SyncDevice(ctx context.Context, id string, force bool) (Result, error) {
	ctx = context.WithoutCancel(ctx)

	unlock := e.reg.LockDevice(id)
	defer unlock()

	start := time.Now()
	d, skip, err := e.reg.BeginSync(ctx, id, force, e.skipWindow)
	if err != nil {
		return Result{DeviceID: id, Error: err.Error()}, err
	}
	if skip != nil {
		e.logger.Debug("device sync skipped", "device_id", id, "reason", skip.Reason)
		return Result{
			DeviceID: id,
			Success:  true,
			Skipped:  true,
			Reason:   skip.Reason,
			Status:   d.Status,
			LastSync: d.LastSync,
		}, nil
	}

	rec := device.SyncRecord{DeviceID: id, Timestamp: start.UTC()}
	patch, payload, warnings, syncErr := e.run(ctx, d, start)
	rec.DurationMS = time.Since(start).Milliseconds()

	var (
		out  *device.Device
		perr error
	)
	if syncErr != nil {
		rec.Error = syncErr.Error()
		out, perr = e.reg.FailSync(ctx, id, rec)
		e.logger.Warn("device sync failed", "device_id", id, "error", syncErr, "duration_ms", rec.DurationMS)
	} else {
		if payload != nil {
			rec.Payload = payload.Data
		}
		out, perr = e.reg.CompleteSync(ctx, id, rec, patch)
		e.logger.Debug("device synced", "device_id", id, "duration_ms", rec.DurationMS)
	}
	if perr != nil {
		warnings = append(warnings, perr)
	}

	res := Result{
		DeviceID:   id,
		Success:    syncErr == nil,
		DurationMS: rec.DurationMS,
	}
	if out != nil {
		res.Status = out.Status
		res.LastSync = out.LastSync
	}
	warn := errors.Join(warnings...)
	if warn != nil {
		res.Warning = warn.Error()
	}

	if syncErr != nil {
		res.Error = syncErr.Error()
		return res, fmt.Errorf("%w: %s: %w", ErrSync, id, syncErr)
	}
	return res, warn
}

// run is the sync body: snapshot, persist, hooks, persist again. Panics are
// turned into errors. Payload persistence failures are warnings, not sync
// failures.
func (e *Engine) run(ctx context.Context, d *device.Device, now time.Time) (patch map[string]any, payload *device.SyncPayload, warnings []error, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during sync: %v", r)
		}
	}()

	payload = device.NewSyncPayload(d, now.UTC())
	if perr := e.reg.SavePayload(ctx, payload); perr != nil {
		warnings = append(warnings, perr)
	}

	patch, _, err = e.hooks.RunSync(ctx, d, payload)
	if err != nil {
		return nil, payload, warnings, err
	}

	if len(payload.Data) > 0 || len(patch) > 0 {
		if perr := e.reg.SavePayload(ctx, payload); perr != nil {
			warnings = append(warnings, perr)
		}
	}
	return patch, payload, warnings, nil
}

// SyncAllDevices synchronises every device with bounded concurrency. Results
// are in device id order. Devices removed during the pass, and devices not
// yet started when ctx is cancelled, are left out.
func (e *Engine) SyncAllDevices(ctx context.Context, force bool) []Result {
	ids := e.reg.DeviceIDs()
	results := make([]Result, len(ids))
	found := make([]bool, len(ids))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			// Devices not yet started when the caller goes away are left
			// out; started ones finish.
			if ctx.Err() != nil {
				return nil
			}
			res, err := e.SyncDevice(ctx, id, force)
			if errors.Is(err, device.ErrDeviceNotFound) {
				return nil
			}
			results[i], found[i] = res, true
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Result, 0, len(ids))
	for i, res := range results {
		if found[i] {
			out = append(out, res)
		}
	}
	return out
}

// Start launches the periodic driver. It returns ErrAlreadyRunning if the
// driver is already started.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running && !isClosed(e.done) {
		return ErrAlreadyRunning
	}
	if e.cancel != nil {
		e.cancel()
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	go e.loop(runCtx, e.done)

	e.logger.Info("sync driver started", "interval", e.interval.String(), "skip_window", e.skipWindow.String())
	return nil
}

// Stop halts the driver and waits for an in-flight pass to finish. Calling
// Stop twice, or before Start, is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel, done := e.cancel, e.done
	e.running = false
	e.mu.Unlock()

	cancel()
	<-done
	e.logger.Info("sync driver stopped")
}

// Running reports whether the periodic driver is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running && !isClosed(e.done)
}

// LastPass returns when the driver last completed a full pass.
func (e *Engine) LastPass() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastPass == nil {
		return nil
	}
	t := *e.lastPass
	return &t
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A pass that has started runs to completion; hook timeouts
			// bound how long that takes.
			e.pass(context.WithoutCancel(ctx))
		}
	}
}

// pass runs one background SyncAllDevices. Nothing it does may kill the
// driver.
func (e *Engine) pass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("sync pass panicked", "panic", fmt.Sprint(r))
		}
	}()

	start := time.Now()
	results := e.SyncAllDevices(ctx, false)

	var synced, skipped, failed int
	for _, r := range results {
		switch {
		case r.Skipped:
			skipped++
		case r.Success:
			synced++
		default:
			failed++
		}
	}

	now := time.Now().UTC()
	e.mu.Lock()
	e.lastPass = &now
	e.mu.Unlock()

	e.logger.Info("sync pass complete",
		"devices", len(results),
		"synced", synced,
		"skipped", skipped,
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func isClosed(ch chan struct{}) bool {
	if ch == nil {
		return true
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
