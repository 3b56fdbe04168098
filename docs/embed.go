// Package docs bundles the long-form Markdown help shown by 'bql docs'.
package docs

import "embed"

// FS contains one Markdown file per topic.
//
//go:embed *.md
var FS embed.FS
