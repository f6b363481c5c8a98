package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/nugget/spectrumbot/internal/agent"
	"github.com/nugget/spectrumbot/internal/catalog"
	"github.com/nugget/spectrumbot/internal/orders"
)

// runAsk handles "spectrumbot ask <question>". It runs one turn through
// the full loop with in-process memory and prints the reply.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg.Memory.Backend = "memory"
	logger := configuredLogger(stderr, cfg)

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.loop.Handle(ctx, &agent.Request{
		ConversationID: "cli",
		Message:        strings.Join(args, " "),
		Channel:        "cli",
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, resp.Content)
	logger.Info("turn complete",
		"state", resp.State,
		"iterations", resp.Iterations,
		"tools", resp.ToolsUsed,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
	)
	return nil
}

// runIngest handles "spectrumbot ingest <file|dir>". A directory is
// indexed recursively; FAQ rows are re-embedded either way.
func runIngest(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, path string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !cfg.Knowledge.Enabled {
		return fmt.Errorf("knowledge is disabled; set knowledge.enabled in %s", cfgPath)
	}
	logger := configuredLogger(stderr, cfg)

	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	var chunks int
	if info.IsDir() {
		chunks, err = a.ingester.IngestDir(ctx, path)
	} else {
		chunks, err = a.ingester.IngestFile(ctx, path)
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	faqs, err := a.ingester.ReindexFAQ(ctx)
	if err != nil {
		return fmt.Errorf("faq reindex failed: %w", err)
	}

	fmt.Fprintf(stdout, "Indexed %d chunks from %s and %d FAQ entries\n", chunks, path, faqs)
	return nil
}

// runMigrate handles "spectrumbot migrate".
func runMigrate(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Fprintf(stdout, "Database (%s) is up to date\n", db.Dialect)
	return nil
}

// runOrders handles "spectrumbot orders list [n]" and
// "spectrumbot orders status <number> <status...>".
func runOrders(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: spectrumbot orders list [n] | status <number> <status>")
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	switch args[0] {
	case "list":
		limit := 20
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid count %q", args[1])
			}
			limit = n
		}
		list, err := a.orders.List(ctx, limit)
		if err != nil {
			return err
		}
		return printOrders(stdout, outputFmt, list)

	case "status":
		if len(args) < 3 {
			return fmt.Errorf("usage: spectrumbot orders status <number> <status>")
		}
		number := orders.NormalizeNumber(args[1])
		status := strings.Join(args[2:], " ")
		if err := a.orders.UpdateStatus(ctx, number, status); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s → %s\n", number, status)
		return nil

	default:
		return fmt.Errorf("unknown orders command: %s", args[0])
	}
}

func printOrders(w io.Writer, outputFmt string, list []*orders.Order) error {
	if outputFmt == "json" {
		if list == nil {
			list = []*orders.Order{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(list) == 0 {
		fmt.Fprintln(w, "No orders yet.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NUMBER\tCUSTOMER\tTOTAL\tSTATUS\tCREATED")
	for _, o := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			o.Number, o.CustomerName, catalog.FormatRupiah(o.Total), o.Status,
			o.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}
