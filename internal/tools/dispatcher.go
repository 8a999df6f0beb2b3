package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kalambet/courserag/internal/llm"
	"github.com/kalambet/courserag/internal/search"
)

// Registry maps tool names to tools. Register everything at start-up; the
// registry is then shared read-only by every query.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t under its definition name. A later registration with the
// same name replaces the earlier tool but keeps its position.
func (r *Registry) Register(t Tool) {
	name := t.Definition().Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Definitions returns one definition per tool in registration order.
func (r *Registry) Definitions() []llm.Tool {
	defs := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// NewDispatcher returns a dispatcher with empty citation state.
func (r *Registry) NewDispatcher() *Dispatcher {
	return &Dispatcher{registry: r, citations: make(map[string][]search.Citation)}
}

// Dispatcher invokes registered tools by name and keeps each tool's last
// citations for one query. Safe for concurrent use.
type Dispatcher struct {
	registry *Registry

	mu        sync.Mutex
	citations map[string][]search.Citation
}

// Definitions returns the registry's tool definitions.
func (d *Dispatcher) Definitions() []llm.Tool {
	return d.registry.Definitions()
}

// Invoke runs the named tool and records its citations. An unknown name is
// not an error: the model sees "Tool '<name>' not found".
func (d *Dispatcher) Invoke(ctx context.Context, name string, input json.RawMessage) (string, error) {
	text, commit, err := d.Stage(ctx, name, input)
	if err != nil {
		return "", err
	}
	if commit != nil {
		commit()
	}
	return text, nil
}

// Stage runs the named tool without touching citation state. The returned
// commit replaces the tool's held citations with the call's; it is nil for
// unknown tools and on error.
func (d *Dispatcher) Stage(ctx context.Context, name string, input json.RawMessage) (string, func(), error) {
	t, ok := d.registry.tools[name]
	if !ok {
		return fmt.Sprintf("Tool '%s' not found", name), nil, nil
	}

	res, err := t.Execute(ctx, input)
	if err != nil {
		return "", nil, err
	}

	commit := func() {
		d.mu.Lock()
		d.citations[name] = res.Citations
		d.mu.Unlock()
	}
	return res.Text, commit, nil
}

// Citations concatenates every tool's last citations in registration order.
// It does not clear them.
func (d *Dispatcher) Citations() []search.Citation {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []search.Citation
	for _, name := range d.registry.order {
		out = append(out, d.citations[name]...)
	}
	return out
}

// ResetCitations clears every tool's held citations.
func (d *Dispatcher) ResetCitations() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.citations)
}
