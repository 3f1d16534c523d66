// Package migrations embeds the SQL schema migrations so the migrate
// command works from a bare binary.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
