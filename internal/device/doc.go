// Package device provides the Device Registry for DeviceHub Core.
//
// The registry is the authoritative catalogue of external endpoints
// (trading terminals, phones, external API connections). It owns device
// lifecycle and writes every mutation through to durable storage.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                        Device Registry                           │
//	│                                                                  │
//	│  ┌──────────────────┐   ┌──────────────────┐   ┌─────────────┐  │
//	│  │     Registry     │   │      Store       │   │  Notifier   │  │
//	│  │  (registry.go)   │──▶│ (repository.go)  │   │ (plugins)   │  │
//	│  │                  │   │                  │   │             │  │
//	│  │ • mutation API   │   │ • Load / Save    │   │ • lifecycle │  │
//	│  │ • per-device lock│   │ • sync payloads  │   │   fan-out   │  │
//	│  │ • sync history   │   └──────────────────┘   └─────────────┘  │
//	│  └──────────────────┘                                            │
//	└─────────────────────────────────────────────────────────────────┘
//
// # State machine
//
//	registered → syncing → {online, error}
//	online/error → syncing
//	any → disabled → (any, via UpdateDeviceStatus)
//
// Removal deletes the device outright.
//
// # Usage
//
//	reg := device.NewRegistry(device.Options{
//	    Store:    jsonStore,
//	    Payloads: jsonStore,
//	    Logger:   log,
//	})
//	if err := reg.Load(ctx); err != nil {
//	    return err
//	}
//
//	dev, err := reg.RegisterDevice(ctx, device.RegisterInput{
//	    Type: device.TypePhone,
//	    Name: "Pixel-1",
//	})
//	if errors.Is(err, device.ErrPersistence) {
//	    // dev is registered in memory; storage is behind
//	}
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Reads return deep
// copies. Mutations of one device are serialised; flushes happen outside the
// catalogue lock so unrelated reads are never blocked on disk I/O.
package device
