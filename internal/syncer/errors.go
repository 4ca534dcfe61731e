package syncer

import "errors"

var (
	// ErrSync wraps the cause of a failed device sync.
	ErrSync = errors.New("syncer: sync failed")

	// ErrAlreadyRunning is returned by Start when the driver is active.
	ErrAlreadyRunning = errors.New("syncer: driver already running")
)
