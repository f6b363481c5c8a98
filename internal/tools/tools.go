// Package tools defines the fixed set of tools the agent may call and
// the registry that validates and dispatches them.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// ID identifies a registered tool. Model output is parsed into an ID
// once, so dispatch never matches on free-form strings.
type ID int

// Tool identifiers.
const (
	Unknown ID = iota
	SearchProducts
	SearchKnowledge
	CreateOrder
	CheckOrderStatus
	RequestHandoff
)

var idNames = map[ID]string{
	SearchProducts:   "search_products",
	SearchKnowledge:  "search_knowledge",
	CreateOrder:      "create_order",
	CheckOrderStatus: "check_order_status",
	RequestHandoff:   "request_handoff",
}

// String returns the wire name of the tool.
func (id ID) String() string {
	if name, ok := idNames[id]; ok {
		return name
	}
	return "unknown"
}

// ParseID maps a wire name to an ID. Unregistered names return Unknown.
func ParseID(name string) ID {
	name = strings.TrimSpace(name)
	for id, n := range idNames {
		if n == name {
			return id
		}
	}
	return Unknown
}

// Handler executes a tool with schema-valid arguments.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool represents a callable tool.
type Tool struct {
	ID          ID             `json:"-"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`

	schema *gojsonschema.Schema
}

// Name returns the wire name of the tool.
func (t *Tool) Name() string { return t.ID.String() }

// Call is a request to run one tool. Name carries the raw name from the
// model so unknown tools can be reported back verbatim.
type Call struct {
	ID   ID
	Name string
	Args map[string]any
}

// Result is the outcome of a dispatch. Text is always non-empty and is
// what the model sees; Err classifies failures for logging.
type Result struct {
	Tool     string
	Text     string
	Err      error
	Duration time.Duration
}

// OK reports whether the tool ran and returned normally.
func (r Result) OK() bool { return r.Err == nil }

// Registry holds available tools.
type Registry struct {
	tools  map[ID]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[ID]*Tool),
		logger: logger,
	}
}

// Register compiles the tool's parameter schema and adds it, replacing
// any tool with the same ID.
func (r *Registry) Register(t *Tool) error {
	if _, ok := idNames[t.ID]; !ok {
		return fmt.Errorf("register tool: invalid id %d", t.ID)
	}
	if t.Handler == nil {
		return fmt.Errorf("register tool %s: nil handler", t.Name())
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(t.Parameters))
	if err != nil {
		return fmt.Errorf("register tool %s: compile schema: %w", t.Name(), err)
	}
	t.schema = schema
	r.tools[t.ID] = t
	return nil
}

// Get retrieves a tool by wire name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[ParseID(name)]
}

// Names returns the registered tool names in ID order.
func (r *Registry) Names() []string {
	ids := r.sortedIDs()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.String()
	}
	return names
}

// List returns all tools in OpenAI function format for the LLM.
func (r *Registry) List() []map[string]any {
	ids := r.sortedIDs()
	result := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		t := r.tools[id]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name(),
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

func (r *Registry) sortedIDs() []ID {
	ids := make([]ID, 0, len(r.tools))
	for id := range r.tools {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Dispatch validates the call's arguments against the tool schema and
// runs the handler. It never returns a Go error: unknown tools, schema
// violations, handler errors and handler panics all come back as Result
// text the model can read and react to.
func (r *Registry) Dispatch(ctx context.Context, call Call) (res Result) {
	start := time.Now()
	name := call.Name
	if call.ID != Unknown {
		name = call.ID.String()
	}
	res.Tool = name
	defer func() { res.Duration = time.Since(start) }()

	t := r.tools[call.ID]
	if call.ID == Unknown || t == nil {
		res.Err = &ErrToolUnavailable{ToolName: call.Name}
		res.Text = fmt.Sprintf("Error: tool %q tidak dikenal. Tool yang tersedia: %s.",
			call.Name, strings.Join(r.Names(), ", "))
		return res
	}

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	if argErr := validate(t, args); argErr != nil {
		res.Err = argErr
		res.Text = argErr.Text()
		return res
	}

	text, err := runHandler(ctx, t, args)
	if err != nil {
		fault := &ExecutionFault{Tool: name, Err: err}
		r.logger.Warn("tool execution failed",
			"tool", name,
			"conversation", ConversationIDFromContext(ctx),
			"channel", ChannelFromContext(ctx),
			"error", err)
		res.Err = fault
		res.Text = fault.Text()
		return res
	}
	if strings.TrimSpace(text) == "" {
		text = fmt.Sprintf("(%s tidak mengembalikan hasil)", name)
	}
	res.Text = text
	return res
}

// Execute runs a tool by name with JSON-encoded arguments. It is the
// entry point for callers holding raw JSON, such as the HTTP debug
// endpoint.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	var args map[string]any
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			argErr := &ArgumentError{Tool: name, Violations: []string{"arguments are not a JSON object: " + err.Error()}}
			return argErr.Text(), argErr
		}
	}
	res := r.Dispatch(ctx, Call{ID: ParseID(name), Name: name, Args: args})
	return res.Text, res.Err
}

func validate(t *Tool, args map[string]any) *ArgumentError {
	result, err := t.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &ArgumentError{Tool: t.Name(), Violations: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return &ArgumentError{Tool: t.Name(), Violations: violations}
}

func runHandler(ctx context.Context, t *Tool, args map[string]any) (text string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return t.Handler(ctx, args)
}
