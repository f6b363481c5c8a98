package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/nugget/spectrumbot/examples"
	"github.com/nugget/spectrumbot/internal/config"
	"github.com/nugget/spectrumbot/internal/orders"
)

// clearUmask sets the process umask to 0 so file permission assertions
// are deterministic.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

// writeTestConfig writes a minimal config with a SQLite database in a
// temp directory and returns its path.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := "models:\n" +
		"  default: qwen3:4b\n" +
		"  available:\n" +
		"    - name: qwen3:4b\n" +
		"      provider: ollama\n" +
		"data_dir: " + filepath.Join(dir, "data") + "\n" +
		"database:\n" +
		"  driver: sqlite3\n" +
		"  dsn: " + filepath.Join(dir, "data", "shop.db") + "\n" +
		"log_level: error\n"
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var stdout bytes.Buffer
		if err := run(t.Context(), &stdout, io.Discard, args); err != nil {
			t.Fatalf("run(%v): %v", args, err)
		}
		out := stdout.String()
		for _, want := range []string{"Usage: spectrumbot", "serve", "orders list", "-config"} {
			if !strings.Contains(out, want) {
				t.Errorf("run(%v) usage missing %q", args, want)
			}
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command: frobnicate"},
		{"unknown flag", []string{"-verbose", "serve"}, "unknown flag: -verbose"},
		{"bad output format", []string{"-o", "yaml", "version"}, "unknown output format"},
		{"ask without question", []string{"ask"}, "usage: spectrumbot ask"},
		{"ingest without path", []string{"ingest"}, "usage: spectrumbot ingest"},
		{"missing config", []string{"-config", "/nonexistent/config.yaml", "migrate"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(t.Context(), io.Discard, io.Discard, tt.args)
			if err == nil {
				t.Fatalf("run(%v) succeeded, want error containing %q", tt.args, tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestRun_VersionText(t *testing.T) {
	var stdout bytes.Buffer
	if err := run(t.Context(), &stdout, io.Discard, []string{"version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	out := stdout.String()
	if !strings.HasPrefix(out, "SpectrumBot ") {
		t.Errorf("version output = %q, want SpectrumBot prefix", out)
	}
	if !strings.Contains(out, "go_version:") {
		t.Errorf("version output missing go_version: %q", out)
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var stdout bytes.Buffer
	if err := run(t.Context(), &stdout, io.Discard, []string{"--output=json", "version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		t.Fatalf("version json: %v\n%s", err, stdout.String())
	}
	if info["version"] == "" || info["os"] == "" {
		t.Errorf("version json missing fields: %v", info)
	}
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	for _, sub := range []string{"data", "knowledge"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		if err != nil {
			t.Errorf("expected directory %s: %v", sub, err)
		} else if !info.IsDir() {
			t.Errorf("%s is not a directory", sub)
		}
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	info, err := os.Stat(cfgPath)
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("config.yaml permissions = %o, want 0600", got)
	}
	got, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, examples.ConfigYAML) {
		t.Error("config.yaml does not match the embedded example")
	}

	if !strings.Contains(buf.String(), "✓") {
		t.Errorf("output missing ✓ marker: %q", buf.String())
	}
}

func TestRunInit_SkipsExistingConfig(t *testing.T) {
	dir := t.TempDir()
	sentinel := []byte("# keep me\n")
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfgPath, sentinel, 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	if !strings.Contains(buf.String(), "exists, skipping") {
		t.Errorf("output missing skip marker: %q", buf.String())
	}
	got, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, sentinel) {
		t.Errorf("config.yaml was overwritten: %q", got)
	}
}

func TestExampleConfigValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, examples.ConfigYAML, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("example config does not validate: %v", err)
	}
	if cfg.Agent.MaxIterations != 5 || cfg.Memory.Window != 10 {
		t.Errorf("agent/memory = %d/%d, want 5/10", cfg.Agent.MaxIterations, cfg.Memory.Window)
	}
}

func TestRun_MigrateAndOrders(t *testing.T) {
	cfgPath := writeTestConfig(t)

	var stdout bytes.Buffer
	if err := run(t.Context(), &stdout, io.Discard, []string{"-config", cfgPath, "migrate"}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(stdout.String(), "up to date") {
		t.Errorf("migrate output = %q", stdout.String())
	}

	stdout.Reset()
	if err := run(t.Context(), &stdout, io.Discard, []string{"-config=" + cfgPath, "orders", "list"}); err != nil {
		t.Fatalf("orders list: %v", err)
	}
	if !strings.Contains(stdout.String(), "No orders yet.") {
		t.Errorf("orders list output = %q", stdout.String())
	}

	err := run(t.Context(), io.Discard, io.Discard, []string{"-config", cfgPath, "orders", "list", "zero"})
	if err == nil || !strings.Contains(err.Error(), "invalid count") {
		t.Errorf("orders list zero error = %v, want invalid count", err)
	}

	err = run(t.Context(), io.Discard, io.Discard, []string{"-config", cfgPath, "orders", "refund"})
	if err == nil || !strings.Contains(err.Error(), "unknown orders command") {
		t.Errorf("orders refund error = %v", err)
	}
}

func TestRun_IngestRequiresKnowledge(t *testing.T) {
	cfgPath := writeTestConfig(t)
	err := run(t.Context(), io.Discard, io.Discard, []string{"-config", cfgPath, "ingest", "docs"})
	if err == nil || !strings.Contains(err.Error(), "knowledge is disabled") {
		t.Errorf("ingest error = %v, want knowledge is disabled", err)
	}
}

func TestPrintOrders(t *testing.T) {
	created := time.Date(2025, 3, 14, 9, 30, 0, 0, time.Local)
	list := []*orders.Order{{
		Number:       "ORDER-250314093000",
		CustomerName: "Budi",
		Status:       "Menunggu Pembayaran",
		Total:        1500000,
		CreatedAt:    created,
	}}

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := printOrders(&buf, "text", list); err != nil {
			t.Fatal(err)
		}
		out := buf.String()
		for _, want := range []string{"NUMBER", "ORDER-250314093000", "Budi", "1.500.000", "2025-03-14 09:30"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := printOrders(&buf, "json", list); err != nil {
			t.Fatal(err)
		}
		var got []orders.Order
		if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
			t.Fatalf("json: %v", err)
		}
		if len(got) != 1 || got[0].Number != "ORDER-250314093000" || got[0].Total != 1500000 {
			t.Errorf("decoded = %+v", got)
		}
	})

	t.Run("empty json is an array", func(t *testing.T) {
		var buf bytes.Buffer
		if err := printOrders(&buf, "json", nil); err != nil {
			t.Fatal(err)
		}
		if strings.TrimSpace(buf.String()) != "[]" {
			t.Errorf("output = %q, want []", buf.String())
		}
	})
}

func TestEmbedderConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Knowledge.Embeddings.Model = "embed-model"
	cfg.Knowledge.Embeddings.URL = "http://ollama:11434"
	cfg.Knowledge.Embeddings.APIKey = "k"

	tests := []struct {
		provider     string
		wantProvider string
		wantBaseURL  string
	}{
		{"", "ollama", "http://ollama:11434"},
		{"ollama", "ollama", "http://ollama:11434"},
		{"gemini", "openai", cfg.Models.Providers.Gemini.BaseURL},
		{"openai", "openai", ""},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg.Knowledge.Embeddings.Provider = tt.provider
			got := embedderConfig(cfg)
			if got.Provider != tt.wantProvider {
				t.Errorf("Provider = %q, want %q", got.Provider, tt.wantProvider)
			}
			if got.BaseURL != tt.wantBaseURL {
				t.Errorf("BaseURL = %q, want %q", got.BaseURL, tt.wantBaseURL)
			}
			if got.Model != "embed-model" {
				t.Errorf("Model = %q", got.Model)
			}
		})
	}
}

func TestCreateLLMClient_Providers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	if got := createLLMClient(cfg, logger).Providers(); !slices.Equal(got, []string{"ollama"}) {
		t.Errorf("providers = %v, want [ollama]", got)
	}

	cfg.Models.Providers.Groq.APIKey = "g"
	cfg.Models.Providers.Gemini.APIKey = "m"
	cfg.Models.Providers.Anthropic.APIKey = "a"
	want := []string{"anthropic", "gemini", "groq", "ollama"}
	if got := createLLMClient(cfg, logger).Providers(); !slices.Equal(got, want) {
		t.Errorf("providers = %v, want %v", got, want)
	}
}
