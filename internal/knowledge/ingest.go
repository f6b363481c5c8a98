package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/nugget/spectrumbot/internal/embeddings"
	"github.com/nugget/spectrumbot/internal/events"
)

// IngestConfig tunes chunking and embedding concurrency.
type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Workers      int
}

// Ingester builds the knowledge index from documents and FAQ rows.
type Ingester struct {
	store    *Store
	embedder embeddings.Embedder
	cfg      IngestConfig
	bus      *events.Bus
	logger   *slog.Logger
}

// NewIngester creates an ingester. bus may be nil.
func NewIngester(store *Store, embedder embeddings.Embedder, cfg IngestConfig, bus *events.Bus, logger *slog.Logger) *Ingester {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{store: store, embedder: embedder, cfg: cfg, bus: bus, logger: logger}
}

// FileSource is the index source name for a document path.
func FileSource(path string) string {
	return "file:" + filepath.Clean(path)
}

// IngestText chunks and embeds text and replaces source in the index.
// It returns the number of chunks stored.
func (in *Ingester) IngestText(ctx context.Context, source, text string) (int, error) {
	start := time.Now()
	pieces := Chunk(text, in.cfg.ChunkSize, in.cfg.ChunkOverlap)
	if len(pieces) == 0 {
		return 0, in.store.RemoveSource(ctx, source)
	}

	vectors := make([][]float32, len(pieces))
	p := pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(in.cfg.Workers)
	for i, piece := range pieces {
		p.Go(func(ctx context.Context) error {
			vec, err := in.embedder.Generate(ctx, piece)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", i, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return 0, fmt.Errorf("ingest %s: %w", source, err)
	}

	chunks := make([]IndexedChunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = IndexedChunk{Source: source, Seq: i, Content: piece, Embedding: vectors[i]}
	}
	if err := in.store.ReplaceSource(ctx, source, chunks); err != nil {
		return 0, err
	}

	in.logger.Info("knowledge ingested", "source", source, "chunks", len(chunks),
		"elapsed", time.Since(start).Round(time.Millisecond))
	in.bus.Emit(events.SourceIngest, events.KindIngestComplete, map[string]any{
		"source": source,
		"chunks": len(chunks),
	})
	return len(chunks), nil
}

// IngestFile extracts a document and replaces its chunks.
func (in *Ingester) IngestFile(ctx context.Context, path string) (int, error) {
	text, err := ExtractFile(path)
	if err != nil {
		return 0, err
	}
	return in.IngestText(ctx, FileSource(path), text)
}

// IngestDir ingests every supported document under dir. Individual
// failures are logged and skipped; the count covers successful files.
func (in *Ingester) IngestDir(ctx context.Context, dir string) (int, error) {
	files := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") || !Supported(path) {
			return nil
		}
		if _, err := in.IngestFile(ctx, path); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			in.logger.Warn("knowledge file skipped", "path", path, "error", err)
			return nil
		}
		files++
		return nil
	})
	if err != nil {
		return files, fmt.Errorf("walk %s: %w", dir, err)
	}
	return files, nil
}

// IngestFAQ indexes one FAQ row under its own source.
func (in *Ingester) IngestFAQ(ctx context.Context, f FAQ) error {
	_, err := in.IngestText(ctx, f.Source(), f.Text())
	return err
}

// ReindexFAQ re-embeds every FAQ row.
func (in *Ingester) ReindexFAQ(ctx context.Context) (int, error) {
	rows, err := in.store.ListFAQ(ctx)
	if err != nil {
		return 0, err
	}
	for _, f := range rows {
		if err := in.IngestFAQ(ctx, f); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// Reindex rebuilds the FAQ entries and, when dir is set, the documents
// under it.
func (in *Ingester) Reindex(ctx context.Context, dir string) error {
	faqs, err := in.ReindexFAQ(ctx)
	if err != nil {
		return fmt.Errorf("reindex faq: %w", err)
	}
	files := 0
	if dir != "" {
		if files, err = in.IngestDir(ctx, dir); err != nil {
			return err
		}
	}
	in.logger.Info("knowledge reindexed", "faq", faqs, "files", files)
	return nil
}

// AddFAQ stores a FAQ row and indexes it.
func (in *Ingester) AddFAQ(ctx context.Context, f *FAQ) error {
	if err := in.store.AddFAQ(ctx, f); err != nil {
		return err
	}
	return in.IngestFAQ(ctx, *f)
}

// RemoveSource drops a source from the index.
func (in *Ingester) RemoveSource(ctx context.Context, source string) error {
	return in.store.RemoveSource(ctx, source)
}
