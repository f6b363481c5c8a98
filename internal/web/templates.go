package web

import (
	"embed"
	"html/template"
	"net/http"
	"strings"
)

//go:embed templates/*.html
var templateFiles embed.FS

// templateFuncs provides helper functions available in all templates.
var templateFuncs = template.FuncMap{
	"lines": func(s string) []string { return strings.Split(s, "\n") },
}

// PageData is the template context for the chat page.
type PageData struct {
	BrandName string
	Greeting  string
	// Handoff is false when no admin WhatsApp number is configured; the
	// page then hides the "chat with admin" button.
	Handoff bool
	// Socket is the websocket path the page connects to.
	Socket string
}

// loadTemplates parses the page templates. Panics on syntax errors so
// that startup fails fast.
func loadTemplates() *template.Template {
	return template.Must(
		template.New("chat.html").Funcs(templateFuncs).ParseFS(templateFiles, "templates/chat.html"),
	)
}

// render executes the chat page.
func (wd *Widget) render(w http.ResponseWriter, data PageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := wd.templates.ExecuteTemplate(w, "chat.html", data); err != nil {
		wd.logger.Error("template render failed", "template", "chat.html", "error", err)
	}
}
