package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20260101_000000_create_widgets.up.sql": {
			Data: []byte("CREATE TABLE widgets (id TEXT PRIMARY KEY);"),
		},
		"20260101_000000_create_widgets.down.sql": {
			Data: []byte("DROP TABLE widgets;"),
		},
		"20260102_000000_create_gadgets.up.sql": {
			Data: []byte("CREATE TABLE gadgets (id TEXT PRIMARY KEY);"),
		},
		"README.md": {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "widgets") || !tableExists(t, db, "gadgets") {
		t.Fatal("migration tables not created")
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied=%d pending=%d, want 2/0", len(applied), len(pending))
	}

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateFailureStops(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"20260101_000000_ok.up.sql":  {Data: []byte("CREATE TABLE ok_table (id TEXT);")},
		"20260102_000000_bad.up.sql": {Data: []byte("CREATE TABLE oops (")},
		"20260103_000000_never.up.sql": {
			Data: []byte("CREATE TABLE never_table (id TEXT);"),
		},
	}

	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() with bad SQL returned nil error")
	}
	if !tableExists(t, db, "ok_table") {
		t.Error("earlier migration was rolled back")
	}
	if tableExists(t, db, "never_table") {
		t.Error("later migration ran after failure")
	}
}

func TestRollback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"20260101_000000_create_widgets.up.sql":   testMigrations()["20260101_000000_create_widgets.up.sql"],
		"20260101_000000_create_widgets.down.sql": testMigrations()["20260101_000000_create_widgets.down.sql"],
	}

	if err := db.Rollback(ctx, fsys); err != nil {
		t.Fatalf("Rollback() on empty db error = %v", err)
	}
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.Rollback(ctx, fsys); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	if tableExists(t, db, "widgets") {
		t.Error("widgets still present after rollback")
	}

	_, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}
}

func TestRollbackWithoutDownSQL(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"20260102_000000_create_gadgets.up.sql": testMigrations()["20260102_000000_create_gadgets.up.sql"],
	}
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.Rollback(ctx, fsys); err == nil {
		t.Error("Rollback() without down SQL returned nil error")
	}
}

func TestLoadMigrations(t *testing.T) {
	got, err := LoadMigrations(testMigrations())
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Version != "20260101_000000" || got[0].Name != "create_widgets" || got[0].DownSQL == "" {
		t.Errorf("first migration = %+v", got[0])
	}
	if got[1].DownSQL != "" {
		t.Errorf("second migration has unexpected down SQL")
	}

	none, err := LoadMigrations(nil)
	if err != nil || none != nil {
		t.Errorf("LoadMigrations(nil) = %v, %v", none, err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		file        string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"20260118_120000_create_users.up.sql", "20260118_120000", "create_users", true, true},
		{"20260118_120000_create_users.down.sql", "20260118_120000", "create_users", false, true},
		{"20260118_120000.up.sql", "20260118_120000", "20260118_120000", true, true},
		{"readme.txt", "", "", false, false},
		{"20260118_120000_create_users.sql", "", "", false, false},
		{"invalid.up.sql", "", "", false, false},
		{"2026_12_x.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.file)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion || name != tt.wantName || up != tt.wantUp {
				t.Errorf("got (%q, %q, %v), want (%q, %q, %v)",
					version, name, up, tt.wantVersion, tt.wantName, tt.wantUp)
			}
		})
	}
}
