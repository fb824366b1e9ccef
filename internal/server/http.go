package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/teemow/mcpdemo/internal/logging"
)

const (
	// DefaultHTTPAddr is the default listen address for streamable-http.
	DefaultHTTPAddr = ":8080"

	// DefaultEndpointPath is the MCP endpoint on the HTTP server.
	DefaultEndpointPath = "/mcp"
)

// HTTPServerConfig configures the streamable-http transport.
type HTTPServerConfig struct {
	// Addr is the listen address (default ":8080").
	Addr string

	// EndpointPath is the MCP endpoint (default "/mcp").
	EndpointPath string

	// DisableStreaming answers every request with a single JSON response
	// instead of an SSE stream.
	DisableStreaming bool

	// RateLimit applies per-client limits to the MCP endpoint. A zero Rate
	// disables limiting.
	RateLimit RateLimitConfig

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// HTTPServer serves an MCP server over streamable HTTP alongside the
// health endpoints. Requests on the MCP endpoint get an otelhttp server
// span; handler spans are separate root spans and never nest under it.
type HTTPServer struct {
	mcpServer  *mcpserver.MCPServer
	health     *HealthChecker
	httpServer *http.Server
	config     HTTPServerConfig
	logger     *slog.Logger

	mu   sync.Mutex
	addr string
}

// NewHTTPServer creates a streamable-http server for mcpSrv. health may be
// nil, in which case no health endpoints are mounted.
func NewHTTPServer(mcpSrv *mcpserver.MCPServer, health *HealthChecker, config HTTPServerConfig) (*HTTPServer, error) {
	if mcpSrv == nil {
		return nil, fmt.Errorf("mcp server is required")
	}
	if config.Addr == "" {
		config.Addr = DefaultHTTPAddr
	}
	if config.EndpointPath == "" {
		config.EndpointPath = DefaultEndpointPath
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RateLimit.Logger == nil {
		config.RateLimit.Logger = config.Logger
	}

	s := &HTTPServer{
		mcpServer: mcpSrv,
		health:    health,
		config:    config,
		logger:    logging.WithComponent(config.Logger, "http"),
		addr:      config.Addr,
	}
	// Built up front so a Shutdown racing Start still stops Serve.
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP routes: the MCP endpoint and, when a health
// checker is set, /healthz, /readyz and /healthz/detailed.
func (s *HTTPServer) Handler() http.Handler {
	opts := []mcpserver.StreamableHTTPOption{
		mcpserver.WithEndpointPath(s.config.EndpointPath),
		mcpserver.WithLogger(logging.NewSlogAdapter(s.logger)),
	}
	if s.config.DisableStreaming {
		opts = append(opts, mcpserver.WithDisableStreaming(true))
	}
	streamable := mcpserver.NewStreamableHTTPServer(s.mcpServer, opts...)

	mux := http.NewServeMux()
	limiter := NewRateLimiter(s.config.RateLimit)
	mux.Handle(s.config.EndpointPath, otelhttp.NewHandler(limiter.Middleware(streamable), "mcp.http"))

	if s.health != nil {
		s.health.RegisterHealthEndpoints(mux)
	}
	return mux
}

// Start serves until Shutdown.
func (s *HTTPServer) Start() error {
	return s.StartWithReadySignal(nil)
}

// StartWithReadySignal binds the listener, closes ready once it is
// accepting connections, then serves until Shutdown. ready may be nil.
func (s *HTTPServer) StartWithReadySignal(ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	addr := ln.Addr().String()
	s.mu.Lock()
	s.addr = addr
	s.mu.Unlock()

	s.logger.Info("starting MCP HTTP server",
		slog.String("addr", addr),
		slog.String("endpoint", s.config.EndpointPath),
		logging.Transport("streamable-http"))
	if ready != nil {
		close(ready)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown marks the server not ready and gracefully stops it.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.health != nil {
		s.health.SetReady(false)
	}
	s.logger.Info("shutting down MCP HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the listen address. After start it is the bound address.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
