// Package migrations contains embedded SQL migrations for the SQLite store.
package migrations

import "embed"

//go:embed warehouse/*.sql
var WarehouseFS embed.FS
