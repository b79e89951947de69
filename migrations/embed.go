// Package migrations embeds the SQL schema migrations so a deployed binary
// never depends on a migrations directory being present on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
