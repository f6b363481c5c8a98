// Package agent runs one customer turn: it asks the model for the next
// step, dispatches tool calls through the registry, and stops at a final
// answer or the iteration cap.
package agent

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/spectrumbot/internal/events"
	"github.com/nugget/spectrumbot/internal/memory"
	"github.com/nugget/spectrumbot/internal/prompts"
	"github.com/nugget/spectrumbot/internal/tools"
)

// DefaultMaxIterations caps tool dispatches per turn.
const DefaultMaxIterations = 5

// State is the loop's position in a turn.
type State string

// Loop states.
const (
	StateThinking      State = "THINKING"
	StateExecutingTool State = "EXECUTING_TOOL"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
	StateCapExceeded   State = "CAP_EXCEEDED"
)

// Request is one inbound customer message.
type Request struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	Channel        string `json:"channel,omitempty"` // telegram, web, api, cli
}

// Response is the outcome of a turn.
type Response struct {
	Content        string         `json:"content"`
	ConversationID string         `json:"conversation_id"`
	Iterations     int            `json:"iterations"`
	ToolsUsed      map[string]int `json:"tools_used,omitempty"`
	State          State          `json:"state"`
	InputTokens    int            `json:"input_tokens"`
	OutputTokens   int            `json:"output_tokens"`
	RequestID      string         `json:"request_id"`
}

// PolicySource supplies the system policy for a channel.
type PolicySource interface {
	For(channel string) string
}

// Options configures a Loop. Zero values select defaults.
type Options struct {
	MaxIterations int
	Logger        *slog.Logger
	Bus           *events.Bus
	Handoff       tools.HandoffLinker // used by the /cs command
	ShopName      string              // used by the /start greeting
}

// Loop is the orchestration loop.
type Loop struct {
	reasoner Reasoner
	memory   memory.Store
	tools    *tools.Registry
	policy   PolicySource

	maxIter  int
	logger   *slog.Logger
	bus      *events.Bus
	handoff  tools.HandoffLinker
	shopName string
	locks    *keyLock
}

// New creates a loop. It refuses to build without a reasoner, a memory
// store, a registry and a policy.
func New(reasoner Reasoner, mem memory.Store, reg *tools.Registry, policy PolicySource, opts Options) (*Loop, error) {
	var missing []string
	if reasoner == nil {
		missing = append(missing, "reasoner")
	}
	if mem == nil {
		missing = append(missing, "memory")
	}
	if reg == nil {
		missing = append(missing, "tool registry")
	}
	if policy == nil {
		missing = append(missing, "policy")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("agent: %s state: missing %v", StateFailed, missing)
	}

	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loop{
		reasoner: reasoner,
		memory:   mem,
		tools:    reg,
		policy:   policy,
		maxIter:  opts.MaxIterations,
		logger:   opts.Logger,
		bus:      opts.Bus,
		handoff:  opts.Handoff,
		shopName: opts.ShopName,
		locks:    newKeyLock(),
	}, nil
}

// Run executes one turn. The returned error is non-nil only when ctx is
// cancelled while waiting for an earlier turn on the same conversation;
// every other failure becomes an apologetic reply.
func (l *Loop) Run(ctx context.Context, req *Request) (*Response, error) {
	convID := conversationID(req)
	unlock, err := l.locks.Lock(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("wait for conversation %s: %w", convID, err)
	}
	defer unlock()

	return l.run(ctx, convID, req), nil
}

func (l *Loop) run(ctx context.Context, convID string, req *Request) *Response {
	start := time.Now()
	requestID := generateRequestID()
	log := l.logger.With("request_id", requestID, "conversation", convID)

	ctx = tools.WithConversationID(ctx, convID)
	ctx = tools.WithChannel(ctx, req.Channel)

	l.bus.Emit(events.SourceAgent, events.KindRequestStart, map[string]any{
		"request_id":      requestID,
		"conversation_id": convID,
		"channel":         req.Channel,
	})
	log.Info("agent loop started", "channel", req.Channel, "message_len", len(req.Message))

	l.remember(log, convID, memory.RoleUser, req.Message)
	history, err := l.memory.History(convID)
	if err != nil {
		log.Warn("failed to load history", "error", err)
		history = []memory.Turn{{Role: memory.RoleUser, Content: req.Message, Timestamp: start}}
	}
	log.Debug("loaded history", "count", len(history))

	in := ReasoningInput{
		Policy:  l.policy.For(req.Channel),
		History: history,
		Tools:   l.tools.List(),
	}
	resp := &Response{
		ConversationID: convID,
		ToolsUsed:      make(map[string]int),
		RequestID:      requestID,
		State:          StateThinking,
	}

	model := ""
	if m, ok := l.reasoner.(interface{ Model() string }); ok {
		model = m.Model()
	}

	retried := false
	llmCalls := 0
	for resp.State != StateDone && resp.State != StateCapExceeded {
		if resp.Iterations >= l.maxIter {
			log.Warn("iteration cap reached", "iterations", resp.Iterations)
			resp.Content = prompts.IterationCapFallback
			resp.State = StateCapExceeded
			break
		}

		l.bus.Emit(events.SourceAgent, events.KindLLMCall, map[string]any{
			"request_id": requestID,
			"iter":       llmCalls,
			"model":      model,
		})
		dec, err := l.reasoner.Reason(ctx, in)
		llmCalls++
		in.Nudge = ""

		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				resp.InputTokens += pe.Usage.InputTokens
				resp.OutputTokens += pe.Usage.OutputTokens
				if !retried {
					log.Warn("unreadable model output, retrying", "error", err)
					retried = true
					in.Nudge = prompts.ParseRetryNudge
					continue
				}
				log.Warn("unreadable model output after retry", "error", err)
				resp.Content = prompts.RephraseFallback
			} else {
				log.Error("reasoning failed", "error", err)
				resp.Content = prompts.ErrorFallback
			}
			resp.State = StateDone
			break
		}

		resp.InputTokens += dec.Usage.InputTokens
		resp.OutputTokens += dec.Usage.OutputTokens
		kind := "final"
		if dec.Call != nil {
			kind = "tool_call"
		}
		l.bus.Emit(events.SourceAgent, events.KindLLMResponse, map[string]any{
			"request_id": requestID,
			"iter":       llmCalls - 1,
			"model":      model,
			"tokens_in":  dec.Usage.InputTokens,
			"tokens_out": dec.Usage.OutputTokens,
			"decision":   kind,
		})

		if dec.Final != nil {
			resp.Content = dec.Final.Text
			resp.State = StateDone
			break
		}

		resp.State = StateExecutingTool
		call := *dec.Call
		l.bus.Emit(events.SourceAgent, events.KindToolCall, map[string]any{
			"request_id": requestID,
			"tool":       call.Name,
		})
		log.Info("executing tool", "tool", call.Name, "iter", resp.Iterations)

		res := l.tools.Dispatch(ctx, call.toolCall())

		l.bus.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
			"request_id":  requestID,
			"tool":        res.Tool,
			"ok":          res.OK(),
			"duration_ms": res.Duration.Milliseconds(),
		})
		if !res.OK() {
			log.Debug("tool returned error text", "tool", res.Tool, "error", res.Err)
		}

		resp.ToolsUsed[res.Tool]++
		resp.Iterations++
		in.Scratch = append(in.Scratch, ScratchEntry{Call: call, Result: res.Text})
		resp.State = StateThinking
	}

	l.remember(log, convID, memory.RoleAssistant, resp.Content)

	elapsed := time.Since(start)
	l.bus.Emit(events.SourceAgent, events.KindRequestComplete, map[string]any{
		"request_id": requestID,
		"iterations": resp.Iterations,
		"state":      string(resp.State),
		"elapsed_ms": elapsed.Milliseconds(),
	})
	log.Info("agent loop completed",
		"state", resp.State,
		"iterations", resp.Iterations,
		"llm_calls", llmCalls,
		"tokens_in", resp.InputTokens,
		"tokens_out", resp.OutputTokens,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return resp
}

// remember appends a turn. Memory failures are logged and do not fail
// the turn.
func (l *Loop) remember(log *slog.Logger, convID, role, content string) {
	if err := l.memory.Append(convID, memory.Turn{Role: role, Content: content}); err != nil {
		log.Warn("failed to store turn", "role", role, "error", err)
	}
}

// History returns the retained turns of a conversation.
func (l *Loop) History(convID string) ([]memory.Turn, error) {
	return l.memory.History(convID)
}

// MemoryStats returns current memory statistics, when the store keeps any.
func (l *Loop) MemoryStats() map[string]any {
	if s, ok := l.memory.(interface{ Stats() map[string]any }); ok {
		return s.Stats()
	}
	return nil
}

// Tools returns the registry the loop dispatches through.
func (l *Loop) Tools() *tools.Registry { return l.tools }

func conversationID(req *Request) string {
	if req.ConversationID == "" {
		return "default"
	}
	return req.ConversationID
}

// generateRequestID tags one turn in logs and events.
func generateRequestID() string {
	id := uuid.New()
	return "t_" + hex.EncodeToString(id[10:])
}
