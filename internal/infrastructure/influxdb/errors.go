package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: telemetry disabled")

	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrNotConnected     = errors.New("influxdb: client closed or not connected")

	// ErrWriteFailed wraps batch write failures reported to the OnError callback.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
