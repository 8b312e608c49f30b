// Package migrations embeds the manifest and chunk vector schema for the
// SQLite store.
package migrations

import "embed"

// FS holds the numbered up and down migrations.
//
//go:embed *.sql
var FS embed.FS
