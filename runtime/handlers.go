// ABOUTME: Handler contract, registry, and shape-to-type dispatch mapping.
// ABOUTME: A handler exposes a single operation: given a node, context, and artifact store, produce an outcome.
package runtime

import (
	"context"

	"github.com/pipecraft/pipecraft/graph"
)

// NodeHandler is implemented by every node handler type. Execute may block on
// I/O and may return an error for thrown faults; it must not mutate the graph.
// Context mutations are visible to the runner immediately, but the returned
// Outcome's ContextUpdates is the authoritative record applied afterward.
type NodeHandler interface {
	Type() string
	Execute(ctx context.Context, node *graph.Node, pctx *Context, store *ArtifactStore) (*Outcome, error)
}

// HandlerRegistry maps handler type strings to handler instances.
type HandlerRegistry struct {
	handlers map[string]NodeHandler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: map[string]NodeHandler{}}
}

// Register adds or replaces the handler keyed by its Type().
func (r *HandlerRegistry) Register(h NodeHandler) {
	r.handlers[h.Type()] = h
}

// Get returns the handler for typeName, or nil if unregistered.
func (r *HandlerRegistry) Get(typeName string) NodeHandler {
	return r.handlers[typeName]
}

// Resolve finds a node's handler: explicit type attribute first, then
// shape-to-type mapping, defaulting to codergen.
func (r *HandlerRegistry) Resolve(node *graph.Node) NodeHandler {
	if t := node.Attrs["type"]; t != "" {
		if h, ok := r.handlers[t]; ok {
			return h
		}
	}
	handlerType := ShapeToHandlerType(node.Attrs["shape"])
	if h, ok := r.handlers[handlerType]; ok {
		return h
	}
	return r.handlers["codergen"]
}

var shapeToType = map[string]string{
	"Mdiamond":      "start",
	"Msquare":       "exit",
	"diamond":       "conditional",
	"hexagon":       "wait.human",
	"component":     "parallel",
	"tripleoctagon": "parallel.fan_in",
	"parallelogram": "tool",
	"house":         "stack.manager_loop",
}

// ShapeToHandlerType maps a Graphviz shape name to a handler type string,
// defaulting unknown shapes to "codergen" per spec.md §6.1.
func ShapeToHandlerType(shape string) string {
	if t, ok := shapeToType[shape]; ok {
		return t
	}
	return "codergen"
}

// DefaultHandlerRegistry builds a registry with all 9 built-in handlers.
func DefaultHandlerRegistry() *HandlerRegistry {
	reg := NewHandlerRegistry()
	reg.Register(&StartHandler{})
	reg.Register(&ExitHandler{})
	reg.Register(&ConditionalHandler{})
	reg.Register(&CodergenHandler{})
	reg.Register(&WaitHumanHandler{Interviewer: &ConsoleInterviewer{}})
	reg.Register(&ParallelHandler{})
	reg.Register(&FanInHandler{})
	reg.Register(&ToolHandler{})
	reg.Register(&ManagerLoopHandler{})
	return reg
}
