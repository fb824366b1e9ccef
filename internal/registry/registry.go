package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/mcpdemo/internal/instrumentation"
	"github.com/teemow/mcpdemo/internal/logging"
)

var (
	// ErrDuplicate is returned when a handler of the same kind and name is
	// already registered.
	ErrDuplicate = errors.New("handler already registered")

	// ErrNotFound is returned when dispatching to an unknown handler.
	ErrNotFound = errors.New("handler not found")

	// ErrToolResult marks a tool span as failed when the tool returns a
	// result flagged IsError.
	ErrToolResult = errors.New("tool returned an error result")
)

// Option customizes how a handler is instrumented at registration.
type Option[Req any] func(*instrumentation.Descriptor[Req])

// WithSpanName overrides the default "<kind>.<name>" span name.
func WithSpanName[Req any](name string) Option[Req] {
	return func(d *instrumentation.Descriptor[Req]) {
		d.SpanName = name
	}
}

// WithExtractor attaches an attribute extractor to the handler's span.
func WithExtractor[Req any](extract instrumentation.Extractor[Req]) Option[Req] {
	return func(d *instrumentation.Descriptor[Req]) {
		d.Extractor = extract
	}
}

// Entry describes a registered handler.
type Entry struct {
	Kind         instrumentation.Kind `json:"kind"`
	Name         string               `json:"name"`
	SpanName     string               `json:"span"`
	HasExtractor bool                 `json:"has_extractor"`
}

// Registry registers MCP handlers with an mcp-go server, wrapping each one
// with instrumentation first. It keeps its own index of the wrapped
// handlers so they can be listed and dispatched by name.
type Registry struct {
	srv    *mcpserver.MCPServer
	inst   *instrumentation.Instrumenter
	logger *slog.Logger

	mu        sync.RWMutex
	tools     map[string]mcpserver.ToolHandlerFunc
	resources map[string]mcpserver.ResourceHandlerFunc
	prompts   map[string]mcpserver.PromptHandlerFunc
	entries   map[string]Entry
}

// New creates a Registry. srv may be nil, in which case handlers are only
// indexed locally. A nil Instrumenter registers handlers unwrapped.
func New(srv *mcpserver.MCPServer, inst *instrumentation.Instrumenter) *Registry {
	logger := slog.Default()
	if inst != nil {
		logger = inst.Logger()
	}
	return &Registry{
		srv:       srv,
		inst:      inst,
		logger:    logging.WithComponent(logger, "registry"),
		tools:     make(map[string]mcpserver.ToolHandlerFunc),
		resources: make(map[string]mcpserver.ResourceHandlerFunc),
		prompts:   make(map[string]mcpserver.PromptHandlerFunc),
		entries:   make(map[string]Entry),
	}
}

// AddTool wraps h and registers it under tool.Name.
func (r *Registry) AddTool(tool mcp.Tool, h mcpserver.ToolHandlerFunc, opts ...Option[mcp.CallToolRequest]) error {
	desc := describe(instrumentation.KindTool, tool.Name, opts)

	wrapped := mcpserver.ToolHandlerFunc(instrumentation.Wrap(r.inst, desc,
		instrumentation.Handler[mcp.CallToolRequest, *mcp.CallToolResult](h),
		instrumentation.WithResultError(toolResultError)))

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: tool %q", ErrDuplicate, tool.Name)
	}
	r.tools[tool.Name] = wrapped
	r.index(entryFor(desc))

	if r.srv != nil {
		r.srv.AddTool(tool, wrapped)
	}
	return nil
}

// AddResource wraps h and registers it under res.URI.
func (r *Registry) AddResource(res mcp.Resource, h mcpserver.ResourceHandlerFunc, opts ...Option[mcp.ReadResourceRequest]) error {
	desc := describe(instrumentation.KindResource, res.URI, opts)

	wrapped := mcpserver.ResourceHandlerFunc(instrumentation.Wrap(r.inst, desc,
		instrumentation.Handler[mcp.ReadResourceRequest, []mcp.ResourceContents](h)))

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resources[res.URI]; exists {
		return fmt.Errorf("%w: resource %q", ErrDuplicate, res.URI)
	}
	r.resources[res.URI] = wrapped
	r.index(entryFor(desc))

	if r.srv != nil {
		r.srv.AddResource(res, wrapped)
	}
	return nil
}

// AddPrompt wraps h and registers it under prompt.Name.
func (r *Registry) AddPrompt(prompt mcp.Prompt, h mcpserver.PromptHandlerFunc, opts ...Option[mcp.GetPromptRequest]) error {
	desc := describe(instrumentation.KindPrompt, prompt.Name, opts)

	wrapped := mcpserver.PromptHandlerFunc(instrumentation.Wrap(r.inst, desc,
		instrumentation.Handler[mcp.GetPromptRequest, *mcp.GetPromptResult](h)))

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.prompts[prompt.Name]; exists {
		return fmt.Errorf("%w: prompt %q", ErrDuplicate, prompt.Name)
	}
	r.prompts[prompt.Name] = wrapped
	r.index(entryFor(desc))

	if r.srv != nil {
		r.srv.AddPrompt(prompt, wrapped)
	}
	return nil
}

// index records e; callers hold r.mu.
func (r *Registry) index(e Entry) {
	r.entries[entryKey(e.Kind, e.Name)] = e

	r.logger.Debug("handler registered",
		logging.Kind(string(e.Kind)),
		slog.String("name", e.Name),
		logging.Span(e.SpanName))
}

// Tool returns the wrapped handler registered under name.
func (r *Registry) Tool(name string) (mcpserver.ToolHandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.tools[name]
	return h, ok
}

// Resource returns the wrapped handler registered under uri.
func (r *Registry) Resource(uri string) (mcpserver.ResourceHandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.resources[uri]
	return h, ok
}

// Prompt returns the wrapped handler registered under name.
func (r *Registry) Prompt(name string) (mcpserver.PromptHandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.prompts[name]
	return h, ok
}

// Handlers lists every registered handler ordered by kind, then name.
func (r *Registry) Handlers() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// CallTool dispatches to the named tool with the given arguments.
func (r *Registry) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	h, ok := r.Tool(name)
	if !ok {
		return nil, fmt.Errorf("%w: tool %q", ErrNotFound, name)
	}

	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return h(ctx, req)
}

// ReadResource dispatches to the resource registered under uri.
func (r *Registry) ReadResource(ctx context.Context, uri string) ([]mcp.ResourceContents, error) {
	h, ok := r.Resource(uri)
	if !ok {
		return nil, fmt.Errorf("%w: resource %q", ErrNotFound, uri)
	}

	var req mcp.ReadResourceRequest
	req.Params.URI = uri
	return h(ctx, req)
}

// GetPrompt dispatches to the named prompt with the given arguments.
func (r *Registry) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	h, ok := r.Prompt(name)
	if !ok {
		return nil, fmt.Errorf("%w: prompt %q", ErrNotFound, name)
	}

	var req mcp.GetPromptRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return h(ctx, req)
}

func describe[Req any](kind instrumentation.Kind, name string, opts []Option[Req]) instrumentation.Descriptor[Req] {
	desc := instrumentation.Descriptor[Req]{Name: name, Kind: kind}
	for _, opt := range opts {
		opt(&desc)
	}
	return desc
}

func entryFor[Req any](desc instrumentation.Descriptor[Req]) Entry {
	return Entry{
		Kind:         desc.Kind,
		Name:         desc.Name,
		SpanName:     desc.ResolvedSpanName(),
		HasExtractor: desc.Extractor != nil,
	}
}

func entryKey(kind instrumentation.Kind, name string) string {
	return string(kind) + "/" + name
}

// toolResultError reports tool results flagged IsError as span failures.
func toolResultError(res *mcp.CallToolResult) error {
	if res == nil || !res.IsError {
		return nil
	}

	var texts []string
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	if len(texts) == 0 {
		return ErrToolResult
	}
	return fmt.Errorf("%w: %s", ErrToolResult, strings.Join(texts, "; "))
}
