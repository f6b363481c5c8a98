package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/nugget/spectrumbot/internal/database"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewStore(db)
}

func seedProducts(t *testing.T, s *Store, n int) {
	t.Helper()
	base := []Product{
		{Name: "Banner Flexi 280gr", Price: 25000, Unit: "meter", Material: "Flexi China", Description: "Cocok untuk outdoor"},
		{Name: "Kartu Nama", Price: 35000, Unit: "box", Material: "Art Carton 260"},
		{Name: "Stiker Vinyl", Price: 1500000, Unit: "roll"},
	}
	for i := range n {
		p := base[i%len(base)]
		if i >= len(base) {
			p.Name = fmt.Sprintf("Cetakan Ekstra %d", i)
		}
		if err := s.Add(context.Background(), &p); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
}

func TestFormatRupiah(t *testing.T) {
	tests := map[int64]string{
		0:          "0",
		500:        "500",
		1000:       "1.000",
		25000:      "25.000",
		1500000:    "1.500.000",
		-12345:     "-12.345",
		1000000000: "1.000.000.000",
	}
	for in, want := range tests {
		if got := FormatRupiah(in); got != want {
			t.Errorf("FormatRupiah(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestIsShowAll(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"semua", true},
		{"  SEMUA ", true},
		{"Menu", true},
		{"apa aja", true},
		{"produk apa aja yang ada", false},
		{"list harga", false},
		{"list harga banner", false},
		{"banner semua ukuran", false},
		{"produk banner", false},
		{"", true},
		{"everything", true},
		{"banner", false},
		{"kartu nama", false},
		{"allotment", false},
		{"menunggu", false},
	}
	for _, tt := range tests {
		if got := IsShowAll(tt.query); got != tt.want {
			t.Errorf("IsShowAll(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestLookup_Search(t *testing.T) {
	s := setupTestStore(t)
	seedProducts(t, s, 3)
	l := NewLookup(s, 0, 0, nil)
	ctx := context.Background()

	t.Run("substring match is case-insensitive", func(t *testing.T) {
		got, err := l.Search(ctx, "BANNER")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		want := "- Banner Flexi 280gr: Rp25.000 /meter (Flexi China). Cocok untuk outdoor"
		if got != want {
			t.Errorf("Search = %q, want %q", got, want)
		}
	})

	t.Run("missing material renders dash", func(t *testing.T) {
		got, _ := l.Search(ctx, "stiker")
		if got != "- Stiker Vinyl: Rp1.500.000 /roll (-)" {
			t.Errorf("Search = %q", got)
		}
	})

	t.Run("no match returns not-found text", func(t *testing.T) {
		got, err := l.Search(ctx, "mug custom")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if got != NotFoundText {
			t.Errorf("Search = %q, want %q", got, NotFoundText)
		}
	})

	t.Run("like wildcards are literal", func(t *testing.T) {
		got, _ := l.Search(ctx, "%")
		if got != NotFoundText {
			t.Errorf("Search(%%) = %q, want not-found", got)
		}
	})
}

func TestLookup_ShowAllCappedAtSampleSize(t *testing.T) {
	s := setupTestStore(t)
	seedProducts(t, s, 15)
	l := NewLookup(s, 10, 20, nil)

	got, err := l.Search(context.Background(), "semua")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if n := len(strings.Split(got, "\n")); n != 10 {
		t.Errorf("show-all returned %d rows, want 10", n)
	}
}

func TestLookup_MaxResults(t *testing.T) {
	s := setupTestStore(t)
	seedProducts(t, s, 12)
	l := NewLookup(s, 10, 4, nil)

	got, _ := l.Search(context.Background(), "cetakan ekstra")
	if n := len(strings.Split(got, "\n")); n != 4 {
		t.Errorf("search returned %d rows, want 4", n)
	}
}

type failingSource struct{}

func (failingSource) Search(context.Context, string, int) ([]Product, error) {
	return nil, errors.New("database is locked")
}

func (failingSource) Sample(context.Context, int) ([]Product, error) {
	return nil, errors.New("database is locked")
}

func TestLookup_StoreErrorIsReturned(t *testing.T) {
	l := NewLookup(failingSource{}, 0, 0, nil)
	if _, err := l.Search(context.Background(), "banner"); err == nil {
		t.Error("expected store error to propagate")
	}
}

func TestStore_AddValidates(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Add(context.Background(), &Product{Name: "  "}); err == nil {
		t.Error("Add with empty name should fail")
	}
	if err := s.Add(context.Background(), &Product{Name: "X", Price: -1}); err == nil {
		t.Error("Add with negative price should fail")
	}

	p := &Product{Name: "Brosur A5", Price: 500, Unit: "lembar"}
	if err := s.Add(context.Background(), p); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if p.ID == 0 {
		t.Error("Add did not set ID")
	}
	list, _ := s.List(context.Background(), 10)
	if len(list) != 1 || list[0].Name != "Brosur A5" {
		t.Errorf("List = %+v", list)
	}
}

func TestLookup_SynonymInsideQueryStillSearches(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	for i := range 11 {
		p := Product{Name: fmt.Sprintf("Stiker %c", 'A'+i), Price: 1000, Unit: "lembar"}
		if err := s.Add(ctx, &p); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	banner := Product{Name: "Banner Flexi", Price: 25000, Unit: "meter", Material: "Flexi China"}
	if err := s.Add(ctx, &banner); err != nil {
		t.Fatalf("Add: %v", err)
	}
	l := NewLookup(s, 10, 20, nil)

	for _, q := range []string{"list harga banner", "banner semua ukuran", "produk banner"} {
		t.Run(q, func(t *testing.T) {
			got, err := l.Search(ctx, q)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if strings.Contains(got, "Stiker") {
				t.Errorf("Search(%q) returned the catalog sample: %q", q, got)
			}
		})
	}

	got, err := l.Search(ctx, "banner")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got != "- Banner Flexi: Rp25.000 /meter (Flexi China)" {
		t.Errorf("Search(banner) = %q", got)
	}
}
