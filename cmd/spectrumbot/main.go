// SpectrumBot is a sales agent for a digital printing shop.
//
// It answers customers over an HTTP API, a web chat widget and Telegram,
// looks up prices and shop knowledge, records orders and hands
// conversations over to staff on WhatsApp. Configuration is loaded from
// a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	spectrumbot serve                      Start the API server and bridges
//	spectrumbot init [dir]                 Write a starter config
//	spectrumbot ask <question>             Run one turn (for testing)
//	spectrumbot ingest <file|dir>          Index documents into the knowledge base
//	spectrumbot migrate                    Apply database migrations
//	spectrumbot orders list [n]            Show recent orders
//	spectrumbot orders status <no> <text>  Update an order's status
//	spectrumbot version                    Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nugget/spectrumbot/internal/buildinfo"
	"github.com/nugget/spectrumbot/internal/config"
	"github.com/nugget/spectrumbot/internal/llm"
)

// main constructs the OS-level environment and delegates to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand; the flag
// package's globals get in the way of calling run from parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: spectrumbot ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
	case "ingest":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: spectrumbot ingest <file|dir>")
		}
		return runIngest(ctx, stdout, stderr, configPath, cmdArgs[0])
	case "migrate":
		return runMigrate(ctx, stdout, stderr, configPath)
	case "orders":
		return runOrders(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "SpectrumBot - print shop sales agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: spectrumbot [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                      Start the API server, widget and bridges")
	fmt.Fprintln(w, "  init [dir]                 Write a starter config (default: .)")
	fmt.Fprintln(w, "  ask <question>             Run a single turn (for testing)")
	fmt.Fprintln(w, "  ingest <file|dir>          Index documents into the knowledge base")
	fmt.Fprintln(w, "  migrate                    Apply database migrations")
	fmt.Fprintln(w, "  orders list [n]            Show recent orders")
	fmt.Fprintln(w, "  orders status <no> <text>  Update an order's status")
	fmt.Fprintln(w, "  version                    Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// loadConfig locates, parses and validates the configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfgPath, err
	}

	return cfg, cfgPath, nil
}

// configuredLogger builds the logger the config asks for.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		// Already validated by config.Validate.
		level, _ = config.ParseLogLevel(cfg.LogLevel)
	}
	return config.NewLogger(w, level, cfg.LogFormat)
}

// createLLMClient builds a multi-provider client. Every model listed in
// config is mapped to its provider; unmapped models fall through to
// Ollama.
func createLLMClient(cfg *config.Config, logger *slog.Logger) *llm.MultiClient {
	p := cfg.Models.Providers

	ollama := llm.NewOllamaClient(p.Ollama.URL, logger)
	multi := llm.NewMultiClient(ollama)
	multi.AddProvider("ollama", ollama)

	if p.Groq.APIKey != "" {
		multi.AddProvider("groq", llm.NewOpenAIClient("groq", p.Groq.BaseURL, p.Groq.APIKey, logger))
		logger.Info("Groq provider configured")
	}
	if p.Gemini.APIKey != "" {
		multi.AddProvider("gemini", llm.NewOpenAIClient("gemini", p.Gemini.BaseURL, p.Gemini.APIKey, logger))
		logger.Info("Gemini provider configured")
	}
	if p.OpenAI.APIKey != "" {
		multi.AddProvider("openai", llm.NewOpenAIClient("openai", p.OpenAI.BaseURL, p.OpenAI.APIKey, logger))
		logger.Info("OpenAI provider configured")
	}
	if p.Anthropic.APIKey != "" {
		multi.AddProvider("anthropic", llm.NewAnthropicClient(p.Anthropic.APIKey, p.Anthropic.BaseURL, logger))
		logger.Info("Anthropic provider configured")
	}

	defaultProvider := "ollama"
	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
		if m.Name == cfg.Models.Default {
			defaultProvider = m.Provider
		}
	}
	logger.Info("LLM client initialized", "default_model", cfg.Models.Default, "default_provider", defaultProvider)

	return multi
}
