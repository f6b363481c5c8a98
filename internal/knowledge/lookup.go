package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/spectrumbot/internal/embeddings"
)

// NotAvailableText is returned when the index has nothing relevant.
const NotAvailableText = "Info toko belum tersedia."

// Default retrieval parameters.
const (
	DefaultTopK     = 3
	DefaultMinScore = 0.3
)

// ChunkSource loads the index for ranking.
type ChunkSource interface {
	Chunks(ctx context.Context) ([]IndexedChunk, error)
}

// Lookup answers a question with the best-matching indexed chunks.
type Lookup struct {
	chunks   ChunkSource
	embedder embeddings.Embedder
	topK     int
	minScore float32
	logger   *slog.Logger
}

// NewLookup creates a knowledge lookup.
func NewLookup(chunks ChunkSource, embedder embeddings.Embedder, topK int, minScore float64, logger *slog.Logger) *Lookup {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lookup{
		chunks:   chunks,
		embedder: embedder,
		topK:     topK,
		minScore: float32(minScore),
		logger:   logger,
	}
}

// Search embeds query, ranks the index by cosine similarity and joins
// the top matches with blank lines.
func (l *Lookup) Search(ctx context.Context, query string) (string, error) {
	all, err := l.chunks.Chunks(ctx)
	if err != nil {
		return "", fmt.Errorf("load knowledge index: %w", err)
	}
	if len(all) == 0 {
		return NotAvailableText, nil
	}

	qvec, err := l.embedder.Generate(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}

	vectors := make([][]float32, len(all))
	for i, c := range all {
		vectors[i] = c.Embedding
	}
	matches := embeddings.TopK(qvec, vectors, l.topK, l.minScore)

	l.logger.Debug("knowledge search", "query", query, "indexed", len(all), "matches", len(matches))
	if len(matches) == 0 {
		return NotAvailableText, nil
	}

	parts := make([]string, len(matches))
	for i, m := range matches {
		parts[i] = all[m.Index].Content
	}
	return strings.Join(parts, "\n\n"), nil
}
