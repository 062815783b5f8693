// Package manifest embeds the SQL migrations for the manifest table.
package manifest

import "embed"

//go:embed *.sql
var FS embed.FS
