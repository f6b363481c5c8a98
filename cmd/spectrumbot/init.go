package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/spectrumbot/examples"
)

// runInit handles "spectrumbot init [dir]". It creates the working
// directory layout and a starter config, leaving existing files alone.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing SpectrumBot in %s\n", dir)

	for _, sub := range []string{"data", "knowledge"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		fmt.Fprintf(w, "  ✓ %s/\n", path)
	}

	// The config holds API keys and the bot token.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(w, configPath, examples.ConfigYAML, 0o600); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit config.yaml with your shop details and model provider,")
	fmt.Fprintln(w, "drop price lists and FAQs into knowledge/, then run:")
	fmt.Fprintln(w, "  spectrumbot migrate && spectrumbot serve")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, and reports which happened on w.
func writeIfMissing(w io.Writer, path string, content []byte, perm os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(w, "  - %s (exists, skipping)\n", path)
		return nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
