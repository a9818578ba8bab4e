// Package appfs embeds the static assets needed at runtime:
// database migrations and email templates.
package appfs

import (
	"embed"
)

//go:embed all:migrations all:assets
var FS embed.FS
