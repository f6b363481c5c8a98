package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type fakeCatalog struct{ lastQuery string }

func (f *fakeCatalog) Search(_ context.Context, q string) (string, error) {
	f.lastQuery = q
	return "- Banner Flexi 280gr: Rp25.000 /meter", nil
}

type fakeOrders struct {
	name, item, detail string
	total              int64
	err                error
}

func (f *fakeOrders) Create(_ context.Context, name, item, detail string, total int64) (string, error) {
	f.name, f.item, f.detail, f.total = name, item, detail, total
	if f.err != nil {
		return "", f.err
	}
	return "✅ Sukses! Order ID: ORDER-260101120000.", nil
}

func (f *fakeOrders) CheckStatus(_ context.Context, n string) (string, error) {
	return "Status " + n + ": Menunggu Pembayaran.", nil
}

type fakeHandoff struct{ summary string }

func (f *fakeHandoff) Message(summary string) string {
	f.summary = summary
	return "Hubungi admin: https://wa.me/6281234567890"
}

func newShopRegistry(t *testing.T, orders *fakeOrders) (*Registry, *fakeCatalog, *fakeHandoff) {
	t.Helper()
	cat := &fakeCatalog{}
	hand := &fakeHandoff{}
	r := NewRegistry(nil)
	if err := r.RegisterShopTools(ShopDeps{Catalog: cat, Orders: orders, Handoff: hand}); err != nil {
		t.Fatalf("RegisterShopTools: %v", err)
	}
	return r, cat, hand
}

func TestParseID(t *testing.T) {
	for id, name := range idNames {
		if got := ParseID(name); got != id {
			t.Errorf("ParseID(%q) = %v, want %v", name, got, id)
		}
		if id.String() != name {
			t.Errorf("%d.String() = %q, want %q", id, id.String(), name)
		}
	}
	if got := ParseID("rm_rf"); got != Unknown {
		t.Errorf("ParseID(rm_rf) = %v, want Unknown", got)
	}
}

func TestRegistry_ListFormatAndOrder(t *testing.T) {
	r, _, _ := newShopRegistry(t, &fakeOrders{})

	list := r.List()
	want := []string{"search_products", "create_order", "check_order_status", "request_handoff"}
	if len(list) != len(want) {
		t.Fatalf("List() has %d tools, want %d", len(list), len(want))
	}
	for i, entry := range list {
		if entry["type"] != "function" {
			t.Errorf("tool %d type = %v, want function", i, entry["type"])
		}
		fn := entry["function"].(map[string]any)
		if fn["name"] != want[i] {
			t.Errorf("tool %d name = %v, want %s", i, fn["name"], want[i])
		}
		if fn["description"] == "" {
			t.Errorf("tool %s has no description", want[i])
		}
	}
}

func TestRegistry_Register_Rejects(t *testing.T) {
	r := NewRegistry(nil)
	noop := func(context.Context, map[string]any) (string, error) { return "", nil }

	if err := r.Register(&Tool{ID: Unknown, Handler: noop, Parameters: objectSchema(nil)}); err == nil {
		t.Error("Register(Unknown) should fail")
	}
	if err := r.Register(&Tool{ID: SearchProducts, Parameters: objectSchema(nil)}); err == nil {
		t.Error("Register without handler should fail")
	}
	if err := r.Register(&Tool{ID: SearchProducts, Handler: noop, Parameters: map[string]any{"type": 42}}); err == nil {
		t.Error("Register with invalid schema should fail")
	}
}

func TestRegistry_Dispatch(t *testing.T) {
	tests := []struct {
		name     string
		call     Call
		wantErr  any
		wantText string
	}{
		{
			name:     "unknown tool",
			call:     Call{ID: Unknown, Name: "launch_rocket", Args: map[string]any{}},
			wantErr:  new(*ErrToolUnavailable),
			wantText: "search_products",
		},
		{
			name:     "missing required field",
			call:     Call{ID: CreateOrder, Args: map[string]any{"item": "Banner"}},
			wantErr:  new(*ArgumentError),
			wantText: "customer_name",
		},
		{
			name:     "extra field",
			call:     Call{ID: SearchProducts, Args: map[string]any{"query": "banner", "limit": 5}},
			wantErr:  new(*ArgumentError),
			wantText: "limit",
		},
		{
			name:     "mistyped field",
			call:     Call{ID: SearchProducts, Args: map[string]any{"query": 12}},
			wantErr:  new(*ArgumentError),
			wantText: "query",
		},
		{
			name:     "nil args against required schema",
			call:     Call{ID: CheckOrderStatus},
			wantErr:  new(*ArgumentError),
			wantText: "order_number",
		},
		{
			name:     "valid call",
			call:     Call{ID: SearchProducts, Args: map[string]any{"query": "banner"}},
			wantText: "Rp25.000",
		},
	}

	r, _, _ := newShopRegistry(t, &fakeOrders{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Dispatch(context.Background(), tt.call)
			if res.Text == "" {
				t.Fatal("Result.Text must never be empty")
			}
			if !strings.Contains(res.Text, tt.wantText) {
				t.Errorf("Text = %q, want substring %q", res.Text, tt.wantText)
			}
			switch target := tt.wantErr.(type) {
			case nil:
				if !res.OK() {
					t.Errorf("Err = %v, want nil", res.Err)
				}
			case **ErrToolUnavailable:
				if !errors.As(res.Err, target) {
					t.Errorf("Err = %v, want *ErrToolUnavailable", res.Err)
				}
			case **ArgumentError:
				if !errors.As(res.Err, target) {
					t.Errorf("Err = %v, want *ArgumentError", res.Err)
				}
			}
		})
	}
}

func TestRegistry_Dispatch_ExecutionFault(t *testing.T) {
	r, _, _ := newShopRegistry(t, &fakeOrders{err: errors.New("pq: connection refused")})

	res := r.Dispatch(context.Background(), Call{ID: CreateOrder, Args: map[string]any{
		"customer_name": "Budi", "item": "Banner",
	}})
	var fault *ExecutionFault
	if !errors.As(res.Err, &fault) {
		t.Fatalf("Err = %v, want *ExecutionFault", res.Err)
	}
	if res.Text == "" || strings.Contains(res.Text, "pq:") {
		t.Errorf("Text = %q, want non-empty text without driver detail", res.Text)
	}
}

func TestRegistry_Dispatch_RecoversPanic(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{
		ID:         SearchKnowledge,
		Parameters: objectSchema(map[string]any{"query": stringProp("q", 1)}, "query"),
		Handler: func(context.Context, map[string]any) (string, error) {
			panic("index corrupted")
		},
	})

	res := r.Dispatch(context.Background(), Call{ID: SearchKnowledge, Args: map[string]any{"query": "bahan"}})
	var fault *ExecutionFault
	if !errors.As(res.Err, &fault) {
		t.Fatalf("Err = %v, want *ExecutionFault", res.Err)
	}
	if res.Text == "" {
		t.Error("Text must not be empty after a panic")
	}
}

func TestRegistry_Dispatch_EmptyOutput(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{
		ID:         SearchProducts,
		Parameters: objectSchema(map[string]any{"query": stringProp("q", 1)}, "query"),
		Handler:    func(context.Context, map[string]any) (string, error) { return "  ", nil },
	})

	res := r.Dispatch(context.Background(), Call{ID: SearchProducts, Args: map[string]any{"query": "x"}})
	if strings.TrimSpace(res.Text) == "" {
		t.Error("empty handler output should be replaced with placeholder text")
	}
}

func TestRegistry_CreateOrderArguments(t *testing.T) {
	orders := &fakeOrders{}
	r, _, _ := newShopRegistry(t, orders)

	res := r.Dispatch(context.Background(), Call{ID: CreateOrder, Args: map[string]any{
		"customer_name": " Budi ",
		"item":          "Banner Flexi",
		"detail":        "2x1 meter",
		"total":         float64(50000),
	}})
	if !res.OK() {
		t.Fatalf("Dispatch failed: %v (%s)", res.Err, res.Text)
	}
	if orders.name != "Budi" || orders.item != "Banner Flexi" || orders.detail != "2x1 meter" || orders.total != 50000 {
		t.Errorf("Create got (%q, %q, %q, %d)", orders.name, orders.item, orders.detail, orders.total)
	}
}

func TestRegistry_HandoffCarriesConversationRef(t *testing.T) {
	r, _, hand := newShopRegistry(t, &fakeOrders{})

	ctx := WithConversationID(context.Background(), "telegram-77")
	res := r.Dispatch(ctx, Call{ID: RequestHandoff, Args: map[string]any{"summary": "Banner 3x1"}})
	if !res.OK() {
		t.Fatalf("Dispatch failed: %v", res.Err)
	}
	if hand.summary != "Banner 3x1 (ref: telegram-77)" {
		t.Errorf("summary = %q", hand.summary)
	}
}

func TestRegistry_Execute(t *testing.T) {
	r, cat, _ := newShopRegistry(t, &fakeOrders{})

	text, err := r.Execute(context.Background(), "search_products", `{"query":"stiker"}`)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if cat.lastQuery != "stiker" || text == "" {
		t.Errorf("Execute() = %q, query %q", text, cat.lastQuery)
	}

	_, err = r.Execute(context.Background(), "search_products", `{"query":`)
	var argErr *ArgumentError
	if !errors.As(err, &argErr) {
		t.Errorf("Execute(bad JSON) err = %v, want *ArgumentError", err)
	}
}
