package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nugget/spectrumbot/internal/llm"
	"github.com/nugget/spectrumbot/internal/memory"
	"github.com/nugget/spectrumbot/internal/tools"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name     string
		msg      llm.Message
		wantTool string
		wantText string
		wantErr  bool
	}{
		{
			name:     "plain answer",
			msg:      llm.Message{Content: "  Halo Kak!  "},
			wantText: "Halo Kak!",
		},
		{
			name: "native tool call",
			msg: llm.Message{ToolCalls: []llm.ToolCall{{
				ID:       "c1",
				Function: llm.FunctionCall{Name: "search_products", Arguments: map[string]any{"query": "banner"}},
			}}},
			wantTool: "search_products",
		},
		{
			name: "first of several tool calls",
			msg: llm.Message{ToolCalls: []llm.ToolCall{
				{Function: llm.FunctionCall{Name: "check_order_status"}},
				{Function: llm.FunctionCall{Name: "search_products"}},
			}},
			wantTool: "check_order_status",
		},
		{
			name:     "tagged text tool call",
			msg:      llm.Message{Content: `<tool_call>{"name":"search_knowledge","arguments":{"query":"jam buka"}}</tool_call>`},
			wantTool: "search_knowledge",
		},
		{
			name:     "bare json tool call",
			msg:      llm.Message{Content: `{"name":"search_products","arguments":{"query":"stiker"}}`},
			wantTool: "search_products",
		},
		{
			name:    "empty content",
			msg:     llm.Message{Content: " \n "},
			wantErr: true,
		},
		{
			name:    "broken tool tag",
			msg:     llm.Message{Content: `<tool_call>{"name": "search_prod`},
			wantErr: true,
		},
		{
			name:    "tool call without name",
			msg:     llm.Message{ToolCalls: []llm.ToolCall{{ID: "x"}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := ParseDecision(&llm.ChatResponse{Message: tt.msg, InputTokens: 7, OutputTokens: 3})
			if tt.wantErr {
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Fatalf("err = %v, want *ParseError", err)
				}
				if pe.Usage.InputTokens != 7 {
					t.Errorf("ParseError usage = %+v", pe.Usage)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDecision() error: %v", err)
			}
			if (dec.Final == nil) == (dec.Call == nil) {
				t.Fatalf("exactly one of Final and Call must be set: %+v", dec)
			}
			if tt.wantTool != "" {
				if dec.Call == nil || dec.Call.Name != tt.wantTool {
					t.Errorf("Call = %+v, want %s", dec.Call, tt.wantTool)
				}
			} else if dec.Final == nil || dec.Final.Text != tt.wantText {
				t.Errorf("Final = %+v, want %q", dec.Final, tt.wantText)
			}
			if dec.Usage != (llm.Usage{InputTokens: 7, OutputTokens: 3}) {
				t.Errorf("Usage = %+v", dec.Usage)
			}
		})
	}
}

func TestParseDecision_CarriesToolID(t *testing.T) {
	tests := []struct {
		name string
		want tools.ID
	}{
		{"search_products", tools.SearchProducts},
		{"check_order_status", tools.CheckOrderStatus},
		{"request_handoff", tools.RequestHandoff},
		{"delete_everything", tools.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := ParseDecision(&llm.ChatResponse{Message: llm.Message{
				ToolCalls: []llm.ToolCall{{ID: "c1", Function: llm.FunctionCall{Name: tt.name}}},
			}})
			if err != nil {
				t.Fatalf("ParseDecision() error: %v", err)
			}
			if dec.Call.ID != tt.want {
				t.Errorf("Call.ID = %v, want %v", dec.Call.ID, tt.want)
			}
			if got := dec.Call.toolCall(); got.ID != tt.want || got.Name != tt.name {
				t.Errorf("toolCall() = %+v", got)
			}
		})
	}
}

func TestParseDecision_Nil(t *testing.T) {
	var pe *ParseError
	if _, err := ParseDecision(nil); !errors.As(err, &pe) {
		t.Errorf("ParseDecision(nil) err = %v, want *ParseError", err)
	}
}

func TestBuildMessages_Order(t *testing.T) {
	in := ReasoningInput{
		Policy: "SOP",
		History: []memory.Turn{
			{Role: memory.RoleUser, Content: "harga banner"},
		},
		Scratch: []ScratchEntry{
			{Call: ToolInvocationRequest{CallID: "abc", Name: "search_products", Args: map[string]any{"query": "banner"}}, Result: "- Banner: Rp25.000 /meter (Flexi)"},
			{Call: ToolInvocationRequest{Name: "search_knowledge"}, Result: "Info toko belum tersedia."},
		},
		Nudge: "coba lagi",
	}

	msgs := BuildMessages(in)
	wantRoles := []string{
		llm.RoleSystem, llm.RoleUser,
		llm.RoleAssistant, llm.RoleTool,
		llm.RoleAssistant, llm.RoleTool,
		llm.RoleUser,
	}
	if len(msgs) != len(wantRoles) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(wantRoles))
	}
	for i, role := range wantRoles {
		if msgs[i].Role != role {
			t.Errorf("message %d role = %s, want %s", i, msgs[i].Role, role)
		}
	}

	if msgs[2].ToolCalls[0].ID != "abc" || msgs[3].ToolCallID != "abc" {
		t.Errorf("tool result not correlated: call %q result %q", msgs[2].ToolCalls[0].ID, msgs[3].ToolCallID)
	}
	if msgs[4].ToolCalls[0].ID == "" || msgs[4].ToolCalls[0].ID != msgs[5].ToolCallID {
		t.Errorf("missing call id not filled consistently: %q vs %q", msgs[4].ToolCalls[0].ID, msgs[5].ToolCallID)
	}
	if msgs[6].Content != "coba lagi" {
		t.Errorf("nudge = %q", msgs[6].Content)
	}
}

// deadlineLLM records whether the call carried a deadline.
type deadlineLLM struct {
	remaining time.Duration
}

func (d *deadlineLLM) Chat(ctx context.Context, _ string, _ []llm.Message, _ []map[string]any) (*llm.ChatResponse, error) {
	if dl, ok := ctx.Deadline(); ok {
		d.remaining = time.Until(dl)
	}
	return &llm.ChatResponse{Message: llm.Message{Content: "ok"}}, nil
}

func (d *deadlineLLM) Ping(context.Context) error { return nil }

func TestLLMReasoner_AppliesTimeout(t *testing.T) {
	client := &deadlineLLM{}
	r := NewLLMReasoner(client, "m", 2*time.Second)

	if _, err := r.Reason(context.Background(), ReasoningInput{Policy: "SOP"}); err != nil {
		t.Fatalf("Reason() error: %v", err)
	}
	if client.remaining <= 0 || client.remaining > 2*time.Second {
		t.Errorf("deadline remaining = %v, want within 2s", client.remaining)
	}

	if NewLLMReasoner(client, "m", 0).timeout != DefaultReasoningTimeout {
		t.Error("zero timeout should select the default")
	}
}

func TestLLMReasoner_TransportErrorIsPlain(t *testing.T) {
	r := NewLLMReasoner(&mockLLM{steps: []mockStep{failWith(errors.New("connection refused"))}}, "m", 0)

	_, err := r.Reason(context.Background(), ReasoningInput{})
	if err == nil {
		t.Fatal("Reason() should fail")
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		t.Error("transport error reported as a parse error")
	}
}

func TestLLMReasoner_MalformedOutputIsParseError(t *testing.T) {
	bad := fmt.Errorf("groq chat: %w: arguments for search_products: unexpected end of JSON input", llm.ErrMalformedOutput)
	r := NewLLMReasoner(&mockLLM{steps: []mockStep{failWith(bad)}}, "m", 0)

	_, err := r.Reason(context.Background(), ReasoningInput{})
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if pe.Raw != bad.Error() {
		t.Errorf("Raw = %q", pe.Raw)
	}
}
