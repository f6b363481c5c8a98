// Package policy renders the standard operating procedure the agent
// follows. The SOP is configuration handed to the reasoning step; no Go
// code interprets it.
package policy

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed sop.md
var defaultSOP string

// Profile is the shop information the default SOP mentions.
type Profile struct {
	Name        string
	Address     string
	BankAccount string
	WhatsApp    string
	Hours       string
}

// Default renders the built-in SOP for the shop.
func Default(p Profile) (string, error) {
	if p.Name == "" {
		p.Name = "Spectrum Digital Printing"
	}
	tmpl, err := template.New("sop").Parse(defaultSOP)
	if err != nil {
		return "", fmt.Errorf("parse sop: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("render sop: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Document is one SOP file with its frontmatter parsed.
type Document struct {
	Name     string
	Channels []string `yaml:"channels"`
	Content  string   `yaml:"-"`
}

// Applies reports whether the document is used for channel. Documents
// without a channel list apply everywhere; an empty channel matches
// every document.
func (d Document) Applies(channel string) bool {
	if len(d.Channels) == 0 || channel == "" {
		return true
	}
	return slices.Contains(d.Channels, channel)
}

// LoadDir reads every .md file in dir, sorted by name.
func LoadDir(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read policy dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	docs := make([]Document, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return nil, fmt.Errorf("read policy %s: %w", f, err)
		}
		doc, err := parseDocument(string(data))
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", f, err)
		}
		doc.Name = strings.TrimSuffix(f, ".md")
		docs = append(docs, doc)
	}
	return docs, nil
}

// Compose joins the documents that apply to channel.
func Compose(docs []Document, channel string) string {
	var parts []string
	for _, d := range docs {
		if d.Applies(channel) && strings.TrimSpace(d.Content) != "" {
			parts = append(parts, strings.TrimSpace(d.Content))
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// parseDocument splits YAML frontmatter delimited by "---" lines from
// the markdown body:
//
//	---
//	channels: [telegram]
//	---
func parseDocument(raw string) (Document, error) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	if !strings.HasPrefix(raw, "---\n") {
		return Document{Content: raw}, nil
	}
	rest := raw[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return Document{Content: raw}, nil
	}

	var doc Document
	if err := yaml.Unmarshal([]byte(rest[:end]), &doc); err != nil {
		return Document{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	doc.Content = strings.TrimLeft(rest[end+len("\n---"):], "\n")
	return doc, nil
}

// Source resolves the SOP text per channel: the documents in Dir when
// set, otherwise the built-in SOP for the profile.
type Source struct {
	docs     []Document
	fallback string
}

// NewSource loads the policy. An empty dir selects the built-in SOP.
func NewSource(dir string, p Profile) (*Source, error) {
	if dir == "" {
		sop, err := Default(p)
		if err != nil {
			return nil, err
		}
		return &Source{fallback: sop}, nil
	}
	docs, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("policy dir %s has no .md files", dir)
	}
	return &Source{docs: docs}, nil
}

// For returns the SOP text for a channel.
func (s *Source) For(channel string) string {
	if s.docs == nil {
		return s.fallback
	}
	return Compose(s.docs, channel)
}
