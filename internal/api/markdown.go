package api

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// replyMarkdown renders bot replies for the widget. Raw HTML in a reply
// is dropped; single newlines become line breaks, since replies are
// written like chat messages rather than documents.
var replyMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// markdownToHTML converts a reply to an HTML fragment. On failure it
// returns "" and the widget falls back to the plain text.
func markdownToHTML(md string) string {
	var buf bytes.Buffer
	if err := replyMarkdown.Convert([]byte(md), &buf); err != nil {
		return ""
	}
	return buf.String()
}
