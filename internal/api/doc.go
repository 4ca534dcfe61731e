// Package api implements the DeviceHub HTTP API and WebSocket event stream.
//
// All routes live under /api/v1 and answer with one of two envelopes:
//
//	{"success": true,  "data": ..., "warning": "..."}
//	{"success": false, "error": "...", "code": "...", "status": 404}
//
// Registry errors map onto them as follows: validation failures are 400
// validation_error, unknown devices are 404, and anything unexpected is a
// 500 with a generic message. A mutation that succeeded in memory but could
// not be persisted is still a success and carries a warning. A failed device
// sync is a 502 sync_failed with the per-device result in data.
//
// # Authentication
//
// When api.auth.enabled is set, every route except /health requires an HS256
// bearer token signed with security.jwt.secret. IssueToken mints one.
// WebSocket clients may pass it as ?access_token= instead.
//
// # Events
//
// The Hub is attached to the plugin manager as an event forwarder and relays
// device.registered, device.status_changed, device.synced and device.removed
// to subscribed WebSocket clients. Clients send subscribe and unsubscribe
// frames carrying a filter:
//
//	{"type": "subscribe", "id": "1", "filter": {"events": ["device.synced"], "devices": ["mt5-01"]}}
//
// and receive {"type": "event", "event": {...}} frames for matching events.
package api
