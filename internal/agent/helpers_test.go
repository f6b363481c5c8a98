package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/nugget/spectrumbot/internal/catalog"
	"github.com/nugget/spectrumbot/internal/database"
	"github.com/nugget/spectrumbot/internal/events"
	"github.com/nugget/spectrumbot/internal/handoff"
	"github.com/nugget/spectrumbot/internal/llm"
	"github.com/nugget/spectrumbot/internal/memory"
	"github.com/nugget/spectrumbot/internal/orders"
	"github.com/nugget/spectrumbot/internal/tools"
)

// mockStep produces one scripted model reply. It sees the messages of
// the call so it can echo tool results back.
type mockStep func(msgs []llm.Message) (*llm.ChatResponse, error)

// mockLLM plays scripted steps in sequence and records each call.
type mockLLM struct {
	mu    sync.Mutex
	steps []mockStep
	calls []mockLLMCall
}

type mockLLMCall struct {
	Model    string
	Messages []llm.Message
	Tools    []map[string]any
}

func (m *mockLLM) Chat(_ context.Context, model string, msgs []llm.Message, td []map[string]any) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.calls)
	m.calls = append(m.calls, mockLLMCall{Model: model, Messages: msgs, Tools: td})
	if idx >= len(m.steps) {
		return nil, fmt.Errorf("mockLLM: no more responses (call %d)", idx)
	}
	return m.steps[idx](msgs)
}

func (m *mockLLM) Ping(_ context.Context) error { return nil }

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func reply(text string) mockStep {
	return func([]llm.Message) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{
			Model:        "test-model",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: text},
			InputTokens:  100,
			OutputTokens: 10,
		}, nil
	}
}

func callTool(name string, args map[string]any) mockStep {
	return func([]llm.Message) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{
			Model: "test-model",
			Message: llm.Message{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{
					ID:       "call_" + name,
					Function: llm.FunctionCall{Name: name, Arguments: args},
				}},
			},
			InputTokens:  100,
			OutputTokens: 20,
		}, nil
	}
}

// replyWithToolResult answers with prefix followed by the most recent
// tool result, the way a model quotes what a tool told it.
func replyWithToolResult(prefix string) mockStep {
	return func(msgs []llm.Message) (*llm.ChatResponse, error) {
		result := ""
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == llm.RoleTool {
				result = msgs[i].Content
				break
			}
		}
		return reply(prefix + result)(msgs)
	}
}

func failWith(err error) mockStep {
	return func([]llm.Message) (*llm.ChatResponse, error) { return nil, err }
}

// staticPolicy returns the same SOP for every channel.
type staticPolicy string

func (p staticPolicy) For(string) string { return string(p) }

const testPolicy = "Kamu adalah CS percetakan. Ikuti PHASE 1, 2, 3."

// shop is a loop wired to the real catalog and order services on an
// in-memory database.
type shop struct {
	loop    *Loop
	mock    *mockLLM
	mem     *memory.WindowStore
	catalog *catalog.Store
	orders  *orders.Service
	bus     *events.Bus
}

func newShop(t *testing.T, steps ...mockStep) *shop {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	products := catalog.NewStore(db)
	for _, p := range []catalog.Product{
		{Name: "Banner Flexi 280gr", Price: 25000, Unit: "meter", Material: "Flexi China 280gr"},
		{Name: "Banner Albatros", Price: 45000, Unit: "meter", Material: "Albatros"},
		{Name: "Kartu Nama", Price: 35000, Unit: "box", Material: "Art Carton 260gr"},
	} {
		if err := products.Add(ctx, &p); err != nil {
			t.Fatalf("add product: %v", err)
		}
	}

	bus := events.New()
	svc := orders.NewService(orders.NewStore(db), "Silakan transfer ke BCA 123456 a.n. Spectrum.", bus, nil)

	reg := tools.NewRegistry(nil)
	if err := reg.RegisterShopTools(tools.ShopDeps{
		Catalog: catalog.NewLookup(products, 0, 0, nil),
		Orders:  svc,
		Handoff: handoff.NewGenerator("0812-3456-7890", ""),
	}); err != nil {
		t.Fatalf("register tools: %v", err)
	}

	mock := &mockLLM{steps: steps}
	mem := memory.NewWindowStore(memory.DefaultWindow)
	loop, err := New(NewLLMReasoner(mock, "test-model", 0), mem, reg, staticPolicy(testPolicy), Options{
		Bus:      bus,
		Handoff:  handoff.NewGenerator("0812-3456-7890", ""),
		ShopName: "Spectrum Digital Printing",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &shop{loop: loop, mock: mock, mem: mem, catalog: products, orders: svc, bus: bus}
}

// toolMessages returns the tool-result messages of one recorded call.
func toolMessages(c mockLLMCall) []llm.Message {
	var out []llm.Message
	for _, m := range c.Messages {
		if m.Role == llm.RoleTool {
			out = append(out, m)
		}
	}
	return out
}

// drain collects events already buffered on ch.
func drain(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func kinds(evs []events.Event) string {
	names := make([]string, 0, len(evs))
	for _, e := range evs {
		names = append(names, e.Kind)
	}
	return strings.Join(names, ",")
}
