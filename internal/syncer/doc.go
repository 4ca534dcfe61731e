// Package syncer drives device synchronisation.
//
// One sync of one device:
//
//	BeginSync ──skip?──► Result{Skipped}
//	    │
//	    ▼ status=syncing
//	snapshot payload ─► save side payload
//	    │
//	    ▼
//	plugin sync hooks, in order
//	    │
//	    ├─ error/panic/timeout ─► FailSync   (status=error, metadata.last_error)
//	    └─ ok ─► save enriched payload ─► CompleteSync (status=online, last_sync=now)
//
// The periodic driver calls SyncAllDevices(force=false) every interval. A pass
// never kills the driver; Stop waits for the running pass to finish.
package syncer
