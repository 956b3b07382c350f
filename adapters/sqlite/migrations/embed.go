package migrations

import "embed"

// FS contains the embedded archive schema migrations.
//
//go:embed *.sql
var FS embed.FS
