// Package handoff builds WhatsApp deep links that move a customer from
// the bot to a human admin.
package handoff

import (
	"fmt"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultGreeting opens the pre-filled WhatsApp message.
const DefaultGreeting = "Halo Admin, saya mau konsultasi pesanan."

// Generator renders handoff links for one admin number.
type Generator struct {
	number   string
	greeting string
}

// NewGenerator creates a generator for the given WhatsApp number. Only
// its digits are kept; a local 0 prefix becomes the Indonesian country
// code 62.
func NewGenerator(whatsapp, greeting string) *Generator {
	if strings.TrimSpace(greeting) == "" {
		greeting = DefaultGreeting
	}
	return &Generator{number: normalizeNumber(whatsapp), greeting: greeting}
}

// Configured reports whether an admin number is set.
func (g *Generator) Configured() bool { return g.number != "" }

// Number returns the normalized admin number.
func (g *Generator) Number() string { return g.number }

// Text returns the pre-filled message: greeting, then summary if any.
func (g *Generator) Text(summary string) string {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return g.greeting
	}
	return g.greeting + "\n\n" + summary
}

// Link returns the wa.me deep link carrying the pre-filled message.
func (g *Generator) Link(summary string) string {
	return fmt.Sprintf("https://wa.me/%s?text=%s", g.number, url.QueryEscape(g.Text(summary)))
}

// Message is the customer-facing reply with the link.
func (g *Generator) Message(summary string) string {
	if !g.Configured() {
		return "Maaf, kontak admin belum tersedia. Silakan datang langsung ke toko kami."
	}
	return "Untuk konsultasi lebih lanjut dengan admin kami, silakan klik link berikut:\n" + g.Link(summary)
}

// QRCode returns a PNG QR code of the link, size pixels square.
func (g *Generator) QRCode(summary string, size int) ([]byte, error) {
	if !g.Configured() {
		return nil, fmt.Errorf("handoff number not configured")
	}
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(g.Link(summary), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

func normalizeNumber(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n := b.String()
	if strings.HasPrefix(n, "0") {
		n = "62" + n[1:]
	}
	return n
}
