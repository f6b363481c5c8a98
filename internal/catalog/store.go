// Package catalog provides the shop's product catalog and the lookup
// behind the search_products tool.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nugget/spectrumbot/internal/database"
)

const productColumns = "id, name, price, unit, material, description, created_at"

// Product is a sellable item with its unit price in rupiah.
type Product struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Price       int64     `json:"price"`
	Unit        string    `json:"unit"`
	Material    string    `json:"material,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store manages product persistence.
type Store struct {
	db *database.DB
}

// NewStore creates a product store on a migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Search returns products whose name contains query, case-insensitively.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Product, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"
	return s.query(ctx, `SELECT `+productColumns+` FROM products
		WHERE LOWER(name) LIKE ? ESCAPE '\'
		ORDER BY name ASC LIMIT ?`, pattern, limit)
}

// Sample returns the first limit products in catalog order.
func (s *Store) Sample(ctx context.Context, limit int) ([]Product, error) {
	return s.query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id ASC LIMIT ?`, limit)
}

// List returns the newest products first.
func (s *Store) List(ctx context.Context, limit int) ([]Product, error) {
	return s.query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id DESC LIMIT ?`, limit)
}

// Add inserts a product and fills in its ID and creation time.
func (s *Store) Add(ctx context.Context, p *Product) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("product name is required")
	}
	if p.Price < 0 {
		return fmt.Errorf("product price must not be negative")
	}
	p.CreatedAt = time.Now().UTC()

	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		INSERT INTO products (name, price, unit, material, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`), p.Name, p.Price, p.Unit, p.Material, p.Description, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Unit, &p.Material, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
