package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/devicehub-core/internal/device"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/config"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/database"
	"github.com/nerrad567/devicehub-core/migrations"
)

// SQLiteStore keeps one row per device, keyed by id, in the devices table,
// and payloads in sync_payloads. Save rewrites the table in one transaction.
type SQLiteStore struct {
	db     *database.DB
	logger Logger
}

// OpenSQLite opens the database at cfg.Path and applies migrations.
func OpenSQLite(ctx context.Context, cfg config.DatabaseConfig, logger Logger) (*SQLiteStore, error) {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", device.ErrPersistence, err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%w: migrating: %w", device.ErrPersistence, err)
	}
	return NewSQLiteStore(db, logger), nil
}

// NewSQLiteStore wraps an open, migrated database.
func NewSQLiteStore(db *database.DB, logger Logger) *SQLiteStore {
	if logger == nil {
		logger = noopLogger{}
	}
	return &SQLiteStore{db: db, logger: logger}
}

// Load reads every device row. Rows that cannot be decoded are logged and skipped.
func (s *SQLiteStore) Load(ctx context.Context) (map[string]*device.Device, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, document FROM devices")
	if err != nil {
		return nil, fmt.Errorf("%w: querying devices: %w", device.ErrPersistence, err)
	}
	defer rows.Close()

	out := make(map[string]*device.Device)
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("%w: scanning device row: %w", device.ErrPersistence, err)
		}
		d, err := decodeDevice(id, []byte(doc), s.logger)
		if err != nil {
			s.logger.Warn("skipping unreadable device row", "device_id", id, "error", err)
			continue
		}
		out[id] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating devices: %w", device.ErrPersistence, err)
	}
	return out, nil
}

// Save upserts every device and deletes rows no longer present.
func (s *SQLiteStore) Save(ctx context.Context, devices map[string]*device.Device) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		existing, err := existingIDs(ctx, tx)
		if err != nil {
			return err
		}
		for id := range existing {
			if _, ok := devices[id]; ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id); err != nil {
				return fmt.Errorf("deleting %s: %w", id, err)
			}
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO devices (id, type, status, document, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				type = excluded.type,
				status = excluded.status,
				document = excluded.document,
				updated_at = excluded.updated_at`)
		if err != nil {
			return fmt.Errorf("preparing upsert: %w", err)
		}
		defer stmt.Close()

		for id, d := range devices {
			doc, err := json.Marshal(toRecord(d))
			if err != nil {
				return fmt.Errorf("encoding %s: %w", id, err)
			}
			if _, err := stmt.ExecContext(ctx, id, string(d.Type), string(d.Status), string(doc), now); err != nil {
				return fmt.Errorf("upserting %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", device.ErrPersistence, err)
	}
	return nil
}

func existingIDs(ctx context.Context, tx *sql.Tx) (map[string]struct{}, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM devices")
	if err != nil {
		return nil, fmt.Errorf("listing ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// SavePayload upserts the device's payload row.
func (s *SQLiteStore) SavePayload(ctx context.Context, p *device.SyncPayload) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", device.ErrPersistence, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_payloads (device_id, document, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		p.DeviceID, string(doc), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: saving payload for %s: %w", device.ErrPersistence, p.DeviceID, err)
	}
	return nil
}

// LoadPayload returns ErrDeviceNotFound when the device has no payload.
func (s *SQLiteStore) LoadPayload(ctx context.Context, id string) (*device.SyncPayload, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, "SELECT document FROM sync_payloads WHERE device_id = ?", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no sync payload for %s", device.ErrDeviceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading payload for %s: %w", device.ErrPersistence, id, err)
	}
	var p device.SyncPayload
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("%w: decoding payload for %s: %w", device.ErrPersistence, id, err)
	}
	return &p, nil
}

// DeletePayload removes the payload row; no row is not an error.
func (s *SQLiteStore) DeletePayload(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sync_payloads WHERE device_id = ?", id); err != nil {
		return fmt.Errorf("%w: deleting payload for %s: %w", device.ErrPersistence, id, err)
	}
	return nil
}

// HealthCheck pings the underlying database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
