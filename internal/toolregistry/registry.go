// Package toolregistry holds the static catalog of tools the corpus
// server exposes over tools/list and tools/call. The catalog is built
// once at process start via Builder and is immutable thereafter — no
// tool is ever added, removed, or reconfigured at runtime.
package toolregistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Errors distinguishing the ways Invoke can fail. The protocol engine
// maps these to the distinct wire error codes spec §4.1 requires
// (UnknownTool, InvalidArguments, ToolExecutionFailed) via errors.Is,
// rather than inspecting error strings.
var (
	ErrUnknownTool         = errors.New("toolregistry: unknown tool")
	ErrInvalidArguments    = errors.New("toolregistry: invalid arguments")
	ErrToolExecutionFailed = errors.New("toolregistry: tool execution failed")
)

// Handler executes a tool call against already-validated, already-coerced
// arguments.
type Handler func(ctx context.Context, args json.RawMessage) (interface{}, error)

// Tool is the public, wire-facing description of a registered tool.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type entry struct {
	tool    Tool
	schema  *gojsonschema.Schema
	handler Handler
	// arrayFields lists top-level argument keys the schema declares as
	// type "array". Some MCP clients serialize array arguments as a
	// JSON-encoded string instead of a native array; we coerce those
	// back into arrays before validation so well-behaved and
	// misbehaving clients both work.
	arrayFields map[string]bool
}

// Registry is an immutable, concurrency-safe lookup of tools by name.
// Build it once with Builder and never mutate it afterward.
type Registry struct {
	entries map[string]entry
	order   []string
}

// Builder accumulates tool registrations before Build freezes them into a
// Registry. Using a separate builder type (rather than mutable methods on
// Registry itself) makes the immutable-after-startup invariant a
// compile-time fact: nothing with a *Registry in hand can register a
// tool.
type Builder struct {
	entries map[string]entry
	order   []string
	err     error
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{entries: make(map[string]entry)}
}

// Register adds a tool definition and its handler. inputSchema must be a
// valid JSON Schema object; Build will surface any compile failure.
func (b *Builder) Register(name, description string, inputSchema map[string]interface{}, handler Handler) *Builder {
	if b.err != nil {
		return b
	}
	if _, exists := b.entries[name]; exists {
		b.err = fmt.Errorf("toolregistry: duplicate tool name %q", name)
		return b
	}

	schemaDoc, err := json.Marshal(inputSchema)
	if err != nil {
		b.err = fmt.Errorf("toolregistry: marshal schema for %q: %w", name, err)
		return b
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaDoc))
	if err != nil {
		b.err = fmt.Errorf("toolregistry: compile schema for %q: %w", name, err)
		return b
	}

	b.entries[name] = entry{
		tool:        Tool{Name: name, Description: description, InputSchema: inputSchema},
		schema:      schema,
		handler:     handler,
		arrayFields: arrayFieldsOf(inputSchema),
	}
	b.order = append(b.order, name)
	return b
}

// Build freezes the registered tools into a Registry. Returns the first
// registration error encountered, if any.
func (b *Builder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &Registry{entries: b.entries, order: append([]string(nil), b.order...)}, nil
}

func arrayFieldsOf(schema map[string]interface{}) map[string]bool {
	fields := make(map[string]bool)
	props, ok := schema["properties"].(map[string]interface{})
	if !ok {
		return fields
	}
	for key, raw := range props {
		prop, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if t, _ := prop["type"].(string); t == "array" {
			fields[key] = true
		}
	}
	return fields
}

// List returns every registered tool in registration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].tool)
	}
	return out
}

// Get looks up a tool's wire definition by name.
func (r *Registry) Get(name string) (Tool, bool) {
	e, ok := r.entries[name]
	if !ok {
		return Tool{}, false
	}
	return e.tool, true
}

// Invoke validates args against the tool's input schema (after coercing
// any stringified array fields back into arrays) and runs its handler.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	coerced, err := coerceArrayArguments(args, e.arrayFields)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: coercing arguments: %w", ErrInvalidArguments, name, err)
	}

	result, err := e.schema.Validate(gojsonschema.NewBytesLoader(coerced))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: schema validation error: %w", ErrInvalidArguments, name, err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("%w: %q: %s", ErrInvalidArguments, name, joinValidationErrors(result))
	}

	out, err := e.handler(ctx, coerced)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrToolExecutionFailed, name, err)
	}
	return out, nil
}

func joinValidationErrors(result *gojsonschema.Result) string {
	msg := ""
	for i, e := range result.Errors() {
		if i > 0 {
			msg += "; "
		}
		msg += e.String()
	}
	return msg
}

// coerceArrayArguments rewrites any top-level argument whose schema type
// is "array" but whose wire value arrived as a JSON-encoded string (e.g.
// `"[\"a\",\"b\"]"` instead of `["a","b"]"`) back into a native array.
// Some MCP clients serialize all tool arguments as strings regardless of
// declared type; this keeps them interoperable without weakening
// validation for well-behaved clients.
func coerceArrayArguments(args json.RawMessage, arrayFields map[string]bool) (json.RawMessage, error) {
	if len(arrayFields) == 0 || len(args) == 0 {
		return args, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(args, &obj); err != nil {
		// Not a JSON object; leave untouched, schema validation will
		// reject it with a clearer error than we could produce here.
		return args, nil
	}

	changed := false
	for field := range arrayFields {
		raw, ok := obj[field]
		if !ok {
			continue
		}
		var asString string
		if err := json.Unmarshal(raw, &asString); err != nil {
			continue // already a native array (or other type); leave as-is
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(asString), &decoded); err != nil {
			return nil, fmt.Errorf("field %q looks like a stringified array but does not parse as JSON: %w", field, err)
		}
		reencoded, err := json.Marshal(decoded)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		obj[field] = reencoded
		changed = true
	}

	if !changed {
		return args, nil
	}
	return json.Marshal(obj)
}
