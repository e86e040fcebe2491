// Package migrations embeds the durable world schema so the migrate binary and
// integration tests apply the same SQL.
package migrations

import "embed"

// FS holds every *.sql migration in golang-migrate naming order.
//
//go:embed *.sql
var FS embed.FS
