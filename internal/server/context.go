package server

import (
	"context"
	"sync"

	"github.com/teemow/mcpdemo/internal/instrumentation"
	"github.com/teemow/mcpdemo/internal/registry"
)

// ServerContext holds the context for the MCP server
type ServerContext struct {
	ctx      context.Context
	cancel   context.CancelFunc
	provider *instrumentation.Provider
	registry *registry.Registry
	sessions *SessionTracker
	mu       sync.RWMutex
	shutdown bool
}

// NewServerContext creates a new server context. provider and sessions may
// be nil.
func NewServerContext(ctx context.Context, provider *instrumentation.Provider, reg *registry.Registry, sessions *SessionTracker) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)

	return &ServerContext{
		ctx:      shutdownCtx,
		cancel:   cancel,
		provider: provider,
		registry: reg,
		sessions: sessions,
	}
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Provider returns the instrumentation provider.
func (sc *ServerContext) Provider() *instrumentation.Provider {
	return sc.provider
}

// Instrumenter returns the handler instrumenter, or nil when
// instrumentation is disabled.
func (sc *ServerContext) Instrumenter() *instrumentation.Instrumenter {
	if sc.provider == nil {
		return nil
	}
	return sc.provider.Instrumenter()
}

// Registry returns the handler registry.
func (sc *ServerContext) Registry() *registry.Registry {
	return sc.registry
}

// Sessions returns the session tracker.
func (sc *ServerContext) Sessions() *SessionTracker {
	return sc.sessions
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown shuts down the server context and stops session cleanup.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	if sc.sessions != nil {
		sc.sessions.Stop()
	}
	return nil
}
