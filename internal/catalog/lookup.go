package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
)

// NotFoundText is returned when no product matches a query.
const NotFoundText = "Info: Produk yang dicari tidak ditemukan di database."

// Default lookup limits.
const (
	DefaultSampleSize = 10
	DefaultMaxResults = 20
)

// showAllWords are queries customers use to ask for the whole catalog.
var showAllWords = []string{"semua", "produk", "apa aja", "list", "menu", "layanan", "everything", "all"}

// ProductSource is the read side of the catalog the lookup needs.
type ProductSource interface {
	Search(ctx context.Context, query string, limit int) ([]Product, error)
	Sample(ctx context.Context, limit int) ([]Product, error)
}

// Lookup answers product questions with formatted catalog rows.
type Lookup struct {
	products   ProductSource
	sampleSize int
	maxResults int
	logger     *slog.Logger
}

// NewLookup creates a catalog lookup. Non-positive limits take the
// defaults.
func NewLookup(products ProductSource, sampleSize, maxResults int, logger *slog.Logger) *Lookup {
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lookup{products: products, sampleSize: sampleSize, maxResults: maxResults, logger: logger}
}

// Search returns catalog rows for query as text. Store errors are
// returned to the caller; an empty result is reported as NotFoundText.
func (l *Lookup) Search(ctx context.Context, query string) (string, error) {
	var (
		products []Product
		err      error
	)
	if IsShowAll(query) {
		products, err = l.products.Sample(ctx, l.sampleSize)
	} else {
		products, err = l.products.Search(ctx, query, l.maxResults)
	}
	if err != nil {
		return "", fmt.Errorf("catalog search %q: %w", query, err)
	}

	l.logger.Debug("catalog search", "query", query, "results", len(products))
	if len(products) == 0 {
		return NotFoundText, nil
	}

	var b strings.Builder
	for _, p := range products {
		b.WriteString(FormatProduct(p))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// IsShowAll reports whether query asks for the whole catalog: it is
// empty or equals one of the show-all words. "list harga banner" is a
// banner search, not a catalog dump.
func IsShowAll(query string) bool {
	q := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	return q == "" || slices.Contains(showAllWords, q)
}

// FormatProduct renders one catalog row.
func FormatProduct(p Product) string {
	material := p.Material
	if material == "" {
		material = "-"
	}
	line := fmt.Sprintf("- %s: Rp%s /%s (%s)", p.Name, FormatRupiah(p.Price), p.Unit, material)
	if d := strings.TrimSpace(p.Description); d != "" {
		line += ". " + d
	}
	return line
}

// FormatRupiah formats an amount with "." thousands separators.
func FormatRupiah(amount int64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte('.')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
