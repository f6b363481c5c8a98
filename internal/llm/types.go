package llm

import "time"

// Roles used in [Message].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"` // Provider-assigned; correlates the tool result
	Function FunctionCall `json:"function"`
}

// FunctionCall is the name and decoded arguments of a tool call.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is the unified response from any LLM provider.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message

	InputTokens  int
	OutputTokens int

	TotalDuration time.Duration
}

// toolSpec is the part of an OpenAI-style function definition the
// providers need.
type toolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// parseToolSpecs reads {"type":"function","function":{...}} definitions.
// Entries without a name are skipped.
func parseToolSpecs(tools []map[string]any) []toolSpec {
	specs := make([]toolSpec, 0, len(tools))
	for _, t := range tools {
		fn, ok := t["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := fn["description"].(string)
		params, _ := fn["parameters"].(map[string]any)
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		specs = append(specs, toolSpec{Name: name, Description: desc, Parameters: params})
	}
	return specs
}

// requiredFields extracts the "required" list of a JSON schema whether
// it was built as []string or decoded as []any.
func requiredFields(schema map[string]any) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, s := range v {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// Usage is the token accounting of one model call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Add accumulates another call's usage.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
}

// Usage returns the response's token accounting.
func (r *ChatResponse) Usage() Usage {
	return Usage{InputTokens: r.InputTokens, OutputTokens: r.OutputTokens}
}
