package web

import (
	"bytes"
	"html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// md renders assistant answers. Raw HTML in the source is escaped because
// the renderer is not in unsafe mode.
var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// renderMarkdown converts an answer to an HTML fragment. On failure the
// escaped source is returned inside a paragraph.
func renderMarkdown(src string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "<p>" + html.EscapeString(src) + "</p>"
	}
	return buf.String()
}
