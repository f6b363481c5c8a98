// Package knowledge answers general shop questions from an embedded
// index of FAQ rows and shop documents, and keeps that index current.
package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nugget/spectrumbot/internal/database"
)

// FAQSourcePrefix marks index sources that come from FAQ rows.
const FAQSourcePrefix = "faq:"

// IndexedChunk is one indexed piece of shop knowledge.
type IndexedChunk struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	Seq       int       `json:"seq"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
}

// FAQ is a question the shop answers often.
type FAQ struct {
	ID        int64     `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

// Source returns the index source name for the FAQ row.
func (f FAQ) Source() string { return fmt.Sprintf("%s%d", FAQSourcePrefix, f.ID) }

// Text is what gets embedded for the FAQ row.
func (f FAQ) Text() string { return "Q: " + f.Question + "\nA: " + f.Answer }

// Store persists FAQ rows and the knowledge index. Embeddings are stored
// as JSON arrays so both SQLite and Postgres can hold them without an
// extension.
type Store struct {
	db *database.DB
}

// NewStore creates a knowledge store on a migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// ReplaceSource swaps every chunk of source for chunks in one
// transaction.
func (s *Store) ReplaceSource(ctx context.Context, source string, chunks []IndexedChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM knowledge_chunks WHERE source = ?`), source); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", source, err)
	}
	insert := s.db.Rebind(`INSERT INTO knowledge_chunks (source, seq, content, embedding) VALUES (?, ?, ?, ?)`)
	for _, c := range chunks {
		emb, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insert, source, c.Seq, c.Content, string(emb)); err != nil {
			return fmt.Errorf("insert chunk %s#%d: %w", source, c.Seq, err)
		}
	}
	return tx.Commit()
}

// RemoveSource deletes every chunk of source.
func (s *Store) RemoveSource(ctx context.Context, source string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM knowledge_chunks WHERE source = ?`), source)
	if err != nil {
		return fmt.Errorf("delete chunks of %s: %w", source, err)
	}
	return nil
}

// Chunks loads the whole index with embeddings.
func (s *Store) Chunks(ctx context.Context) ([]IndexedChunk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, source, seq, content, embedding FROM knowledge_chunks ORDER BY source, seq`)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var out []IndexedChunk
	for rows.Next() {
		var c IndexedChunk
		var emb string
		if err := rows.Scan(&c.ID, &c.Source, &c.Seq, &c.Content, &emb); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(emb), &c.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding of %s#%d: %w", c.Source, c.Seq, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Sources returns each indexed source with its chunk count.
func (s *Store) Sources(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM knowledge_chunks GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out[src] = n
	}
	return out, rows.Err()
}

// AddFAQ inserts a FAQ row and fills in its ID.
func (s *Store) AddFAQ(ctx context.Context, f *FAQ) error {
	f.Question, f.Answer = strings.TrimSpace(f.Question), strings.TrimSpace(f.Answer)
	if f.Question == "" || f.Answer == "" {
		return fmt.Errorf("faq question and answer are required")
	}
	f.CreatedAt = time.Now().UTC()
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
		INSERT INTO faq (question, answer, created_at) VALUES (?, ?, ?) RETURNING id
	`), f.Question, f.Answer, f.CreatedAt).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("insert faq: %w", err)
	}
	return nil
}

// ListFAQ returns every FAQ row, oldest first.
func (s *Store) ListFAQ(ctx context.Context) ([]FAQ, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, question, answer, created_at FROM faq ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query faq: %w", err)
	}
	defer rows.Close()

	var out []FAQ
	for rows.Next() {
		var f FAQ
		if err := rows.Scan(&f.ID, &f.Question, &f.Answer, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan faq: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
