package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestMux(cfg Config) *http.ServeMux {
	mux := http.NewServeMux()
	NewWidget(cfg).RegisterRoutes(mux)
	return mux
}

func TestChatPage(t *testing.T) {
	mux := newTestMux(Config{
		BrandName: "Spectrum Digital Printing",
		Greeting:  "Halo Kak!\nMau cetak apa?",
		Handoff:   true,
	})

	req := httptest.NewRequest("GET", "/chat", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"<title>Spectrum Digital Printing · Chat</title>",
		`data-socket="/v1/ws"`,
		"<p>Halo Kak!</p>",
		"<p>Mau cetak apa?</p>",
		`id="handoff"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestChatPage_NoHandoffButtonWithoutAdmin(t *testing.T) {
	mux := newTestMux(Config{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/chat", nil))

	body := rec.Body.String()
	if strings.Contains(body, `id="handoff"`) {
		t.Error("handoff button shown without an admin number")
	}
	if !strings.Contains(body, "<h1>SpectrumBot</h1>") {
		t.Error("default brand name not rendered")
	}
}

func TestChatPage_EscapesBrand(t *testing.T) {
	mux := newTestMux(Config{BrandName: "<script>alert(1)</script>"})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/chat", nil))

	if strings.Contains(rec.Body.String(), "<script>alert(1)</script>") {
		t.Error("brand name rendered unescaped")
	}
}

func TestStaticAssets(t *testing.T) {
	mux := newTestMux(Config{})

	tests := []struct {
		path string
		want string
	}{
		{"/chat/static/chat.js", "WebSocket"},
		{"/chat/static/chat.css", "#messages"},
		{"/manifest.json", `"start_url": "/chat"`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body missing %q", tt.want)
			}
		})
	}
}

func TestStaticAssets_Missing(t *testing.T) {
	mux := newTestMux(Config{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/chat/static/nope.js", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
