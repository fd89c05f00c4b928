// Package migrations embeds the agenda schema for cmd/agenda-migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
