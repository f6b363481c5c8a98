// Package web serves the customer chat widget.
package web

import (
	"embed"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
)

//go:embed static/*
var staticFiles embed.FS

// Config holds the widget's display settings.
type Config struct {
	BrandName string
	Greeting  string
	Handoff   bool
	// SocketPath is where the API serves the chat websocket.
	SocketPath string
	Logger     *slog.Logger
}

// Widget renders the chat page and its assets.
type Widget struct {
	templates *template.Template
	data      PageData
	static    http.Handler
	logger    *slog.Logger
}

// NewWidget creates the chat widget.
func NewWidget(cfg Config) *Widget {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SocketPath == "" {
		cfg.SocketPath = "/v1/ws"
	}
	if cfg.BrandName == "" {
		cfg.BrandName = "SpectrumBot"
	}

	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}

	return &Widget{
		templates: loadTemplates(),
		data: PageData{
			BrandName: cfg.BrandName,
			Greeting:  cfg.Greeting,
			Handoff:   cfg.Handoff,
			Socket:    cfg.SocketPath,
		},
		static: http.StripPrefix("/chat/static/", http.FileServer(http.FS(subFS))),
		logger: cfg.Logger,
	}
}

// RegisterRoutes adds the widget routes to a mux: the page at /chat,
// its assets under /chat/static/, and the PWA manifest at the root.
func (wd *Widget) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /chat", func(w http.ResponseWriter, r *http.Request) {
		wd.render(w, wd.data)
	})
	mux.Handle("GET /chat/static/", wd.static)
	mux.HandleFunc("GET /manifest.json", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, staticFiles, "static/manifest.json")
	})
}
