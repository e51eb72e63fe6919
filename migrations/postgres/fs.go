// Package pgmigrations embeds the Postgres schema migrations for the
// optional sign-in audit log.
package pgmigrations

import "embed"

//go:embed *.sql
var FS embed.FS
