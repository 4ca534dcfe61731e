// Package database provides SQLite connectivity for DeviceHub Core.
//
// It backs the "sqlite" storage backend. The package manages:
//   - Connection setup with busy timeout and optional WAL mode
//   - Versioned schema migrations read from an fs.FS
//   - Transaction helpers
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Storage.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or defaulted, and each
// .up.sql file ships with a .down.sql counterpart.
package database
