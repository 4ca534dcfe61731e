// Package store implements durable storage for the device registry.
//
// Two backends satisfy device.Store and device.PayloadStore:
//
//   - JSONStore (default): devices.json holding every device keyed by id,
//     plus sync/<id>.json per device. Writes go to a temp file that is
//     fsynced and renamed into place.
//   - SQLiteStore: one row per device in the devices table and one per
//     payload in sync_payloads, schema managed by the migrations package.
//
// Both tolerate damaged records on load: a device whose document or
// registered_at cannot be parsed is logged and skipped, and a malformed
// last_seen or last_sync is dropped. All write failures wrap
// device.ErrPersistence.
package store
