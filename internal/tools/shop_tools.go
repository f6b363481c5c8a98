package tools

import (
	"context"
	"encoding/json"
	"strings"
)

// CatalogSearcher looks up products by name.
type CatalogSearcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// KnowledgeSearcher answers general shop questions from the knowledge index.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// OrderDesk creates orders and reports their status.
type OrderDesk interface {
	Create(ctx context.Context, customerName, item, detail string, total int64) (string, error)
	CheckStatus(ctx context.Context, orderNumber string) (string, error)
}

// HandoffLinker renders a deep link to a human-staffed channel.
type HandoffLinker interface {
	Message(summary string) string
}

// ShopDeps are the collaborators behind the shop tools. A nil
// collaborator leaves its tool unregistered.
type ShopDeps struct {
	Catalog   CatalogSearcher
	Knowledge KnowledgeSearcher
	Orders    OrderDesk
	Handoff   HandoffLinker
}

// RegisterShopTools registers every tool whose collaborator is set.
func (r *Registry) RegisterShopTools(d ShopDeps) error {
	var defs []*Tool

	if d.Catalog != nil {
		defs = append(defs, &Tool{
			ID: SearchProducts,
			Description: "Cari produk di katalog: nama, harga, satuan, bahan. Pakai untuk pertanyaan harga atau produk. " +
				"Isi query dengan nama produk (misal 'banner'), atau 'semua' untuk daftar produk.",
			Parameters: objectSchema(map[string]any{
				"query": stringProp("Nama produk atau 'semua'", 1),
			}, "query"),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return d.Catalog.Search(ctx, stringArg(args, "query"))
			},
		})
	}

	if d.Knowledge != nil {
		defs = append(defs, &Tool{
			ID: SearchKnowledge,
			Description: "Cari info umum toko: jenis bahan, ukuran, cara pesan, estimasi pengerjaan, jam buka, FAQ. " +
				"Jangan pakai untuk harga produk.",
			Parameters: objectSchema(map[string]any{
				"query": stringProp("Pertanyaan pelanggan", 1),
			}, "query"),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				return d.Knowledge.Search(ctx, stringArg(args, "query"))
			},
		})
	}

	if d.Orders != nil {
		defs = append(defs,
			&Tool{
				ID: CreateOrder,
				Description: "Buat pesanan baru. HANYA panggil setelah pelanggan setuju (deal/gass/ok) " +
					"DAN nama pelanggan sudah diketahui. Jangan menebak nama.",
				Parameters: objectSchema(map[string]any{
					"customer_name": stringProp("Nama pelanggan", 1),
					"item":          stringProp("Produk yang dipesan", 1),
					"detail":        stringProp("Ukuran, jumlah, bahan, catatan", 0),
					"total": map[string]any{
						"type":        "integer",
						"minimum":     0,
						"description": "Total biaya dalam rupiah bila sudah dihitung, selain itu 0",
					},
				}, "customer_name", "item"),
				Handler: func(ctx context.Context, args map[string]any) (string, error) {
					return d.Orders.Create(ctx,
						stringArg(args, "customer_name"),
						stringArg(args, "item"),
						stringArg(args, "detail"),
						intArg(args, "total"),
					)
				},
			},
			&Tool{
				ID:          CheckOrderStatus,
				Description: "Cek status pesanan dengan nomor order (format ORDER-...).",
				Parameters: objectSchema(map[string]any{
					"order_number": stringProp("Nomor order, misal ORDER-260101120000", 1),
				}, "order_number"),
				Handler: func(ctx context.Context, args map[string]any) (string, error) {
					return d.Orders.CheckStatus(ctx, stringArg(args, "order_number"))
				},
			},
		)
	}

	if d.Handoff != nil {
		defs = append(defs, &Tool{
			ID: RequestHandoff,
			Description: "Alihkan pelanggan ke admin manusia lewat WhatsApp. Pakai bila pelanggan minta bicara dengan admin/CS, " +
				"komplain, atau butuh penawaran khusus. Isi summary dengan ringkasan kebutuhan pelanggan.",
			Parameters: objectSchema(map[string]any{
				"summary": stringProp("Ringkasan pesanan atau kebutuhan pelanggan", 0),
			}),
			Handler: func(ctx context.Context, args map[string]any) (string, error) {
				summary := stringArg(args, "summary")
				if ref := ConversationIDFromContext(ctx); ref != "default" {
					summary = strings.TrimSpace(summary + " (ref: " + ref + ")")
				}
				return d.Handoff.Message(summary), nil
			},
		})
	}

	for _, t := range defs {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string, minLength int) map[string]any {
	p := map[string]any{"type": "string", "description": desc}
	if minLength > 0 {
		p["minLength"] = minLength
	}
	return p
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// intArg reads a schema-validated integer, which arrives as float64
// from JSON and as int from Go callers.
func intArg(args map[string]any, key string) int64 {
	switch v := args[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}
