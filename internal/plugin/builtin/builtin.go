// Package builtin holds the plugin kinds compiled into DeviceHub Core.
//
// Kinds:
//
//	terminal          trading terminal config checks and symbol inventory
//	phone             battery and push capability tracking
//	external_api      HTTP reachability probe for external API connections
//	mqtt_events       publishes lifecycle events to MQTT
//	influx_telemetry  records sync outcomes in InfluxDB
package builtin

import (
	"github.com/nerrad567/devicehub-core/internal/plugin"
)

// Plugin kinds.
const (
	KindTerminal        = "terminal"
	KindPhone           = "phone"
	KindExternalAPI     = "external_api"
	KindMQTTEvents      = "mqtt_events"
	KindInfluxTelemetry = "influx_telemetry"
)

// Register adds every built-in kind to c.
func Register(c *plugin.Catalog) {
	c.Register(KindTerminal, NewTerminal)
	c.Register(KindPhone, NewPhone)
	c.Register(KindExternalAPI, NewExternalAPI)
	c.Register(KindMQTTEvents, NewMQTTEvents)
	c.Register(KindInfluxTelemetry, NewInfluxTelemetry)
}

// logger returns deps.Logger, never nil.
func logger(deps plugin.Deps) plugin.Logger {
	if deps.Logger != nil {
		return deps.Logger
	}
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// number reads an int or float metadata value.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
