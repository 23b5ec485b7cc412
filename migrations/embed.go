// Package migrations embeds the device catalog and audit schema into the
// binary.
package migrations

import "embed"

// FS holds every *.sql migration at its root; pass it to
// database.DB.Migrate with dir ".".
//
//go:embed *.sql
var FS embed.FS
