package devicedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/beamline-core/internal/controlsys"
	"github.com/nerrad567/beamline-core/internal/infrastructure/database"
)

// SQLiteCatalog implements Store on the device catalog tables.
type SQLiteCatalog struct {
	db *database.DB
}

// NewSQLiteCatalog creates a catalog on a migrated database.
func NewSQLiteCatalog(db *database.DB) *SQLiteCatalog {
	return &SQLiteCatalog{db: db}
}

// Device returns metadata for name, including accessors and beam paths.
func (c *SQLiteCatalog) Device(ctx context.Context, name string) (*DeviceMeta, error) {
	d := &DeviceMeta{Name: name, Accessors: make(map[string]AccessorMeta)}

	row := c.db.QueryRowContext(ctx, `
		SELECT device_type, beam_area, pv_prefix, z_position
		FROM device
		WHERE device_name = ?`, name)
	if err := row.Scan(&d.Type, &d.BeamArea, &d.PVPrefix, &d.ZPosition); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, name)
		}
		return nil, fmt.Errorf("querying device %s: %w", name, err)
	}

	paths, err := c.strings(ctx, `
		SELECT beam_path FROM device_beam_path
		WHERE device_name = ?
		ORDER BY beam_path`, name)
	if err != nil {
		return nil, err
	}
	d.BeamPaths = paths

	rows, err := c.db.QueryContext(ctx, `
		SELECT accessor_name, pv_name, value_type, writable
		FROM device_accessor
		WHERE device_name = ?`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a        AccessorMeta
			typ      string
			writable int
		)
		if err := rows.Scan(&a.Name, &a.PVName, &typ, &writable); err != nil {
			return nil, fmt.Errorf("scanning accessor: %w", err)
		}
		if a.Type, err = controlsys.ParseValueType(typ); err != nil {
			return nil, fmt.Errorf("device %s accessor %s: %w", name, a.Name, err)
		}
		a.Writable = writable != 0
		d.Accessors[a.Name] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accessors: %w", err)
	}

	if len(d.Accessors) == 0 {
		return nil, fmt.Errorf("%w: device %s", ErrNoAccessors, name)
	}
	return d, nil
}

// UpstreamDevices returns devices upstream of q.DeviceName, ordered by z.
// Returns ErrDeviceNotFound if the end device is not in the catalog.
func (c *SQLiteCatalog) UpstreamDevices(ctx context.Context, q UpstreamQuery) ([]string, error) {
	if err := ValidateDeviceType(q.DeviceType); err != nil {
		return nil, err
	}

	var z float64
	err := c.db.QueryRowContext(ctx,
		`SELECT z_position FROM device WHERE device_name = ?`, q.DeviceName).Scan(&z)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, q.DeviceName)
		}
		return nil, fmt.Errorf("querying z of %s: %w", q.DeviceName, err)
	}

	return c.strings(ctx, `
		SELECT d.device_name
		FROM device d
		JOIN device_beam_path bp ON bp.device_name = d.device_name
		JOIN device_accessor a ON a.device_name = d.device_name
		WHERE d.device_type = ?
			AND bp.beam_path = ?
			AND a.accessor_name = ?
			AND d.z_position < ?
		ORDER BY d.z_position, d.device_name`,
		q.DeviceType, q.BeamPath, q.Accessor, z)
}

// BeamPaths returns every beam path, sorted.
func (c *SQLiteCatalog) BeamPaths(ctx context.Context) ([]string, error) {
	return c.strings(ctx, `SELECT beam_path FROM beam_path ORDER BY beam_path`)
}

// DeviceNames returns devices of deviceType on beamPath, sorted by name.
func (c *SQLiteCatalog) DeviceNames(ctx context.Context, deviceType, beamPath string) ([]string, error) {
	if err := ValidateDeviceType(deviceType); err != nil {
		return nil, err
	}
	names, err := c.strings(ctx, `
		SELECT d.device_name
		FROM device d
		JOIN device_beam_path bp ON bp.device_name = d.device_name
		WHERE d.device_type = ? AND bp.beam_path = ?
		ORDER BY d.device_name`, deviceType, beamPath)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: type=%s beam_path=%s", ErrNoDevices, deviceType, beamPath)
	}
	return names, nil
}

// Upsert replaces a device, its beam path memberships and its accessors
// in one transaction.
func (c *SQLiteCatalog) Upsert(ctx context.Context, d *DeviceMeta) error {
	if err := d.Validate(); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO device (device_name, device_type, beam_area, pv_prefix, z_position)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_name) DO UPDATE SET
			device_type = excluded.device_type,
			beam_area = excluded.beam_area,
			pv_prefix = excluded.pv_prefix,
			z_position = excluded.z_position`,
		d.Name, d.Type, d.BeamArea, d.PVPrefix, d.ZPosition,
	); err != nil {
		return fmt.Errorf("upserting device %s: %w", d.Name, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM device_beam_path WHERE device_name = ?`, d.Name); err != nil {
		return fmt.Errorf("clearing beam paths of %s: %w", d.Name, err)
	}
	for _, p := range d.BeamPaths {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO beam_path (beam_path) VALUES (?)`, p); err != nil {
			return fmt.Errorf("inserting beam path %s: %w", p, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO device_beam_path (device_name, beam_path) VALUES (?, ?)`, d.Name, p); err != nil {
			return fmt.Errorf("linking %s to %s: %w", d.Name, p, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM device_accessor WHERE device_name = ?`, d.Name); err != nil {
		return fmt.Errorf("clearing accessors of %s: %w", d.Name, err)
	}
	for _, a := range d.Accessors {
		writable := 0
		if a.Writable {
			writable = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO device_accessor (device_name, accessor_name, pv_name, value_type, writable)
			VALUES (?, ?, ?, ?, ?)`,
			d.Name, a.Name, a.PVName, string(a.Type), writable,
		); err != nil {
			return fmt.Errorf("inserting accessor %s.%s: %w", d.Name, a.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", d.Name, err)
	}
	return nil
}

// strings runs a query returning one text column.
func (c *SQLiteCatalog) strings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}
