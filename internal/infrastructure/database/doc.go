// Package database provides the optional SQLite database of HomeNet.
//
// The device database itself lives in devices.json (see package device).
// SQLite holds the audit log: every device change and value write made
// through the API.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Forward-only schema migrations from an fs.FS
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
