// Package promptregistry holds the static catalog of prompt templates
// the corpus server exposes over prompts/list and prompts/get. Like
// toolregistry, the catalog is built once at startup and never mutated.
package promptregistry

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"
)

// Errors distinguishing the ways Render can fail, mirroring
// toolregistry's sentinels so the protocol engine can map both
// registries' failures to wire error codes via errors.Is rather than
// string inspection.
var (
	ErrUnknownPrompt    = errors.New("promptregistry: unknown prompt")
	ErrInvalidArguments = errors.New("promptregistry: invalid arguments")
)

// Argument describes one named template argument a prompt accepts.
type Argument struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Prompt is the wire-facing description of a registered prompt.
type Prompt struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Arguments   []Argument `json:"arguments,omitempty"`
}

// Message is one turn of a rendered prompt conversation.
type Message struct {
	Role    string `json:"role"`
	Content struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Rendered is the result of filling a prompt's template with arguments.
type Rendered struct {
	Description string    `json:"description"`
	Messages    []Message `json:"messages"`
}

type promptEntry struct {
	prompt Prompt
	tmpl   *template.Template
}

// Registry is an immutable lookup of prompts by name.
type Registry struct {
	entries map[string]promptEntry
	order   []string
}

// Builder accumulates prompt registrations before Build freezes them.
type Builder struct {
	entries map[string]promptEntry
	order   []string
	err     error
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{entries: make(map[string]promptEntry)}
}

// Register adds a prompt whose single user-role message is produced
// by executing templateText (Go text/template syntax, referencing
// arguments by {{.ArgName}}) against the arguments passed to Render.
func (b *Builder) Register(name, description string, args []Argument, templateText string) *Builder {
	if b.err != nil {
		return b
	}
	if _, exists := b.entries[name]; exists {
		b.err = fmt.Errorf("promptregistry: duplicate prompt name %q", name)
		return b
	}

	tmpl, err := template.New(name).Parse(templateText)
	if err != nil {
		b.err = fmt.Errorf("promptregistry: parse template for %q: %w", name, err)
		return b
	}

	b.entries[name] = promptEntry{
		prompt: Prompt{Name: name, Description: description, Arguments: args},
		tmpl:   tmpl,
	}
	b.order = append(b.order, name)
	return b
}

// Build freezes the registered prompts into a Registry.
func (b *Builder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &Registry{entries: b.entries, order: append([]string(nil), b.order...)}, nil
}

// List returns every registered prompt in registration order.
func (r *Registry) List() []Prompt {
	out := make([]Prompt, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].prompt)
	}
	return out
}

// Render executes the named prompt's template against the given
// arguments, validating required arguments are present first.
func (r *Registry) Render(name string, args map[string]string) (Rendered, error) {
	e, ok := r.entries[name]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %q", ErrUnknownPrompt, name)
	}

	for _, arg := range e.prompt.Arguments {
		if arg.Required {
			if _, present := args[arg.Name]; !present {
				return Rendered{}, fmt.Errorf("%w: %q: missing required argument %q", ErrInvalidArguments, name, arg.Name)
			}
		}
	}

	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, args); err != nil {
		return Rendered{}, fmt.Errorf("%w: %q: rendering template: %w", ErrInvalidArguments, name, err)
	}

	msg := Message{Role: "user"}
	msg.Content.Type = "text"
	msg.Content.Text = buf.String()

	return Rendered{Description: e.prompt.Description, Messages: []Message{msg}}, nil
}
