// Package migrations embeds SQL migration files for use at runtime.
package migrations

import "embed"

// FS holds the .sql files in this directory, applied in lexical order.
//
//go:embed *.sql
var FS embed.FS
