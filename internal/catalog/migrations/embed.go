package migrations

import "embed"

// FS contains the embedded star catalog schema migrations.
//
//go:embed *.sql
var FS embed.FS
