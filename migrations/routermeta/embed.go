// Package routermeta embeds the SQL migrations for the router meta table.
// Row order (by id) must equal the row order of router/centroids.f32.
package routermeta

import "embed"

//go:embed *.sql
var FS embed.FS
