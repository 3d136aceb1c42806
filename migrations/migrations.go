// Package migrations embeds the SQL schema migrations applied at startup.
package migrations

import "embed"

// FS holds the migrations, one sub-directory per database driver.
//
//go:embed postgres/*.sql
var FS embed.FS
