// Package database provides SQLite connectivity for the Beamline Core device
// catalog.
//
// This package manages:
//   - Database connection with WAL mode for concurrent reads
//   - Schema migrations from an fs.FS (the migrations package embeds them)
//   - Connection lifecycle and health checks
//
// All queries use parameterised statements and the database file is created
// with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are additive: each file pair is
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql.
package database
