package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nugget/spectrumbot/internal/llm"
	"github.com/nugget/spectrumbot/internal/memory"
	"github.com/nugget/spectrumbot/internal/tools"
)

// DefaultReasoningTimeout bounds one model call when none is configured.
const DefaultReasoningTimeout = 60 * time.Second

// FinalAnswer is the customer-facing reply that ends a turn.
type FinalAnswer struct {
	Text string
}

// ToolInvocationRequest asks the loop to run one tool.
type ToolInvocationRequest struct {
	ID     tools.ID // tools.Unknown when the name is not a registered tool
	CallID string   // provider-assigned, echoed on the tool result
	Name   string
	Args   map[string]any
}

// Decision is the outcome of one reasoning step. Exactly one of Final
// and Call is set.
type Decision struct {
	Final *FinalAnswer
	Call  *ToolInvocationRequest
	Usage llm.Usage
}

// ScratchEntry is one tool round-trip within the current turn.
type ScratchEntry struct {
	Call   ToolInvocationRequest
	Result string
}

// ReasoningInput is everything the model sees for one step.
type ReasoningInput struct {
	Policy  string
	History []memory.Turn
	Tools   []map[string]any
	Scratch []ScratchEntry
	// Nudge, when set, is appended as a final user message. The loop uses
	// it after an unreadable reply.
	Nudge string
}

// Reasoner decides the next step of a turn.
type Reasoner interface {
	Reason(ctx context.Context, in ReasoningInput) (Decision, error)
}

// ParseError reports model output that was neither a tool call nor a
// usable answer.
type ParseError struct {
	Raw   string
	Usage llm.Usage
}

func (e *ParseError) Error() string {
	if strings.TrimSpace(e.Raw) == "" {
		return "reasoning: empty model output"
	}
	return fmt.Sprintf("reasoning: unreadable model output %q", truncate(e.Raw, 80))
}

// LLMReasoner asks a chat model for the next step.
type LLMReasoner struct {
	client  llm.Client
	model   string
	timeout time.Duration
}

// NewLLMReasoner creates a reasoner for the given model. A zero timeout
// uses DefaultReasoningTimeout.
func NewLLMReasoner(client llm.Client, model string, timeout time.Duration) *LLMReasoner {
	if timeout <= 0 {
		timeout = DefaultReasoningTimeout
	}
	return &LLMReasoner{client: client, model: model, timeout: timeout}
}

// Model returns the model name requests are sent to.
func (r *LLMReasoner) Model() string { return r.model }

// Reason runs one model call and classifies its output.
func (r *LLMReasoner) Reason(ctx context.Context, in ReasoningInput) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.client.Chat(ctx, r.model, BuildMessages(in), in.Tools)
	if errors.Is(err, llm.ErrMalformedOutput) {
		return Decision{}, &ParseError{Raw: err.Error()}
	}
	if err != nil {
		return Decision{}, fmt.Errorf("chat %s: %w", r.model, err)
	}
	return ParseDecision(resp)
}

// BuildMessages assembles the model conversation: the policy as the
// system message, the history, then each scratch entry as an assistant
// tool call followed by its result.
func BuildMessages(in ReasoningInput) []llm.Message {
	msgs := make([]llm.Message, 0, 1+len(in.History)+2*len(in.Scratch)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: in.Policy})

	for _, t := range in.History {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}

	for i, s := range in.Scratch {
		id := s.Call.CallID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		msgs = append(msgs,
			llm.Message{
				Role: llm.RoleAssistant,
				ToolCalls: []llm.ToolCall{{
					ID:       id,
					Function: llm.FunctionCall{Name: s.Call.Name, Arguments: s.Call.Args},
				}},
			},
			llm.Message{Role: llm.RoleTool, Content: s.Result, ToolCallID: id},
		)
	}

	if in.Nudge != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: in.Nudge})
	}
	return msgs
}

// ParseDecision turns a chat response into a Decision. Only the first
// tool call is honoured; text tool calls written into content are
// recognised for models without native tool support.
func ParseDecision(resp *llm.ChatResponse) (Decision, error) {
	if resp == nil {
		return Decision{}, &ParseError{}
	}
	usage := resp.Usage()

	calls := resp.Message.ToolCalls
	if len(calls) == 0 {
		calls = llm.ParseTextToolCalls(resp.Message.Content)
	}
	if len(calls) > 0 {
		c := calls[0]
		if c.Function.Name == "" {
			return Decision{}, &ParseError{Raw: resp.Message.Content, Usage: usage}
		}
		return Decision{
			Call: &ToolInvocationRequest{
				ID:     tools.ParseID(c.Function.Name),
				CallID: c.ID,
				Name:   c.Function.Name,
				Args:   c.Function.Arguments,
			},
			Usage: usage,
		}, nil
	}

	text := strings.TrimSpace(resp.Message.Content)
	if text == "" || strings.Contains(text, "<tool_call>") {
		return Decision{}, &ParseError{Raw: resp.Message.Content, Usage: usage}
	}
	return Decision{Final: &FinalAnswer{Text: text}, Usage: usage}, nil
}

// toolCall converts a request into a registry call.
func (r ToolInvocationRequest) toolCall() tools.Call {
	return tools.Call{ID: r.ID, Name: r.Name, Args: r.Args}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
