// Package plugin loads capability handlers and runs their lifecycle hooks.
//
// A plugin is any type with a Name and an Initialize method. It opts into
// events by implementing RegisteredHook, StatusChangedHook, SyncHook,
// SyncObserver or RemovedHook.
//
// # Discovery
//
// The plugin directory holds YAML manifests. Each manifest names a kind from
// a compile-time Catalog; the kind's Factory builds the plugin from the
// manifest settings:
//
//	plugins/
//	├── 10-terminal.yaml       kind: terminal
//	├── 20-phone.yaml          kind: phone
//	└── 30-influx.yaml         kind: influx_telemetry
//
// Manifests load independently. A broken one is logged and skipped.
//
// # Hook execution
//
//   - Every call runs under the hook timeout and recovers panics.
//   - Lifecycle hooks fan out across plugins with bounded concurrency. Their
//     errors are logged and never returned to the registry.
//   - Sync hooks run one after another in plugin order. The first error
//     fails the device's sync.
//
// # Usage
//
//	catalog := plugin.NewCatalog()
//	builtin.Register(catalog)
//
//	mgr := plugin.NewManager(plugin.Options{
//	    Catalog:     catalog,
//	    Devices:     registry,
//	    HookTimeout: cfg.GetHookTimeout(),
//	    Logger:      log,
//	})
//	mgr.Load(ctx, cfg.Plugins.Directory)
//	registry.SetNotifier(mgr)
package plugin
