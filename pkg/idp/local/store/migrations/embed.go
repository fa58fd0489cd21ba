// Package migrations embeds the SQL migration files for the local provider
// store so they compile into the binary.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
