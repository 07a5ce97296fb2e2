package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/becomeliminal/mcp-memory/core"
	"github.com/becomeliminal/mcp-memory/memory"
)

// ErrUnknownTool is returned by Call for names that are not registered.
var ErrUnknownTool = errors.New("unknown tool")

// ArgumentError reports tool arguments that could not be decoded or are
// missing required values.
type ArgumentError struct {
	Tool  string
	cause error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.cause)
}

func (e *ArgumentError) Unwrap() error { return e.cause }

// Registry holds tools by name and preserves registration order.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]core.Tool
	order    []string
	readOnly bool
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...core.Tool) *Registry {
	r := &Registry{tools: make(map[string]core.Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// NewReadOnlyRegistry creates a registry that refuses tools marked Write.
func NewReadOnlyRegistry(tools ...core.Tool) *Registry {
	r := &Registry{tools: make(map[string]core.Tool), readOnly: true}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool. It reports false when a read-only
// registry refuses a Write tool.
func (r *Registry) Register(t core.Tool) bool {
	def := t.Definition()
	if r.readOnly && def.Write {
		log.WithField("tool", def.ToolName).Debug("read-only: tool not registered")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	name := def.ToolName
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
	return true
}

// Get returns the named tool.
func (r *Registry) Get(name string) (core.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns all tool definitions in registration order.
func (r *Registry) Definitions() []core.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]core.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Dispatcher routes tool calls to registered tools.
type Dispatcher struct {
	registry *Registry
	log      *log.Entry
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		log:      log.WithField("component", "tools"),
	}
}

// NewMemoryDispatcher registers the memory tools for conn. In read-only
// mode tools that modify stored data are left out.
func NewMemoryDispatcher(conn Connector, opts Options) *Dispatcher {
	memTools := MemoryTools(conn, opts)
	if opts.ReadOnly {
		return NewDispatcher(NewReadOnlyRegistry(memTools...))
	}
	return NewDispatcher(NewRegistry(memTools...))
}

// Definitions lists the available tools.
func (d *Dispatcher) Definitions() []core.ToolDefinition {
	return d.registry.Definitions()
}

// Call executes the named tool. Unknown tools and bad arguments are
// returned as errors; failures inside the tool become an error result so
// the client sees the message.
func (d *Dispatcher) Call(ctx context.Context, name string, args json.RawMessage) (*core.ToolResult, error) {
	return d.call(ctx, name, &core.ToolParams{Input: args})
}

// CallWithID is Call with a request id attached for logging.
func (d *Dispatcher) CallWithID(ctx context.Context, requestID, name string, args json.RawMessage) (*core.ToolResult, error) {
	return d.call(ctx, name, &core.ToolParams{Input: args, RequestID: requestID})
}

func (d *Dispatcher) call(ctx context.Context, name string, params *core.ToolParams) (*core.ToolResult, error) {
	tool, ok := d.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	entry := d.log.WithField("tool", name)
	if params.RequestID != "" {
		entry = entry.WithField("request_id", params.RequestID)
	}

	result, err := tool.Execute(ctx, params)
	var argErr *ArgumentError
	switch {
	case errors.As(err, &argErr):
		return nil, err
	case err != nil:
		entry.WithField("error_type", categorizeError(err)).Warnf("tool failed: %v", err)
		return core.NewErrorResult(fmt.Sprintf("Error: %v", err)), nil
	case result == nil:
		return core.NewErrorResult("No result returned"), nil
	}
	entry.Debug("tool succeeded")
	return result, nil
}

// categorizeError maps an error to a short type name for logs.
func categorizeError(err error) string {
	var (
		embedErr    *memory.EmbeddingError
		storeErr    *memory.StoreUnavailableError
		mismatchErr *memory.DimensionMismatchError
		configErr   *memory.ConfigurationError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, memory.ErrEmptyContent):
		return "invalid_input"
	case errors.Is(err, memory.ErrCollectionNotFound):
		return "not_found"
	case errors.As(err, &mismatchErr):
		return "dimension_mismatch"
	case errors.As(err, &embedErr):
		return "embedding_failed"
	case errors.As(err, &storeErr):
		return "store_unavailable"
	case errors.As(err, &configErr):
		return "configuration"
	default:
		return "unknown"
	}
}
