// Package migrations embeds the SQL schema for the Postgres roster source.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
