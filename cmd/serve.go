package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/zoobzio/clockz"

	"github.com/teemow/mcpdemo/internal/instrumentation"
	"github.com/teemow/mcpdemo/internal/logging"
	"github.com/teemow/mcpdemo/internal/prompts"
	"github.com/teemow/mcpdemo/internal/registry"
	"github.com/teemow/mcpdemo/internal/resources"
	"github.com/teemow/mcpdemo/internal/server"
	"github.com/teemow/mcpdemo/internal/tools/utility_tools"
)

const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"

	serverInstructions = "Go MCP server providing echo, math, time utilities and a sample resource. " +
		"Tools: echo(message), add(a, b), now(). Resource: pymcp://welcome. Prompt: greeting(name)."

	startupTimeout = 5 * time.Second
)

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

// ServeConfig holds the settings of the serve command.
type ServeConfig struct {
	Transport        string
	HTTPAddr         string
	DisableStreaming bool
	Debug            bool
	LogFormat        string
	Metrics          MetricsConfig
	RateLimit        RateLimitConfig
}

// RateLimitConfig holds per-client limits for the HTTP transport.
type RateLimitConfig struct {
	Rate       float64
	Burst      int
	TrustProxy bool
}

func newServeCmd() *cobra.Command {
	var config ServeConfig

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server with the echo, add and now tools, the welcome
resource and the greeting prompt.

Instrumentation is configured through environment variables:
  OTEL_SERVICE_NAME, INSTRUMENTATION_ENABLED, METRICS_EXPORTER,
  TRACING_EXPORTER, OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_INSECURE,
  OTEL_TRACES_SAMPLER_ARG, AUDIT_LOGGING_ENABLED, AUDIT_LOGGING_LEVEL

Logs are written to stderr so the stdio transport keeps stdout for protocol
messages.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loadServeEnvVars(cmd, &config)
			return runServe(config)
		},
	}

	cmd.Flags().BoolVar(&config.Debug, "debug", false, "Enable debug logging. Can also use LOG_LEVEL=debug.")
	cmd.Flags().StringVar(&config.LogFormat, "log-format", "json", "Log format: json or text. Can also use LOG_FORMAT env var.")
	cmd.Flags().StringVar(&config.Transport, "transport", transportStdio, "Transport type: stdio or streamable-http")
	cmd.Flags().StringVar(&config.HTTPAddr, "http-addr", server.DefaultHTTPAddr, "HTTP server address (for streamable-http transport). Can also use MCP_HTTP_ADDR env var.")
	cmd.Flags().BoolVar(&config.DisableStreaming, "disable-streaming", false, "Disable streaming for HTTP transport (for compatibility with certain clients)")
	cmd.Flags().Float64Var(&config.RateLimit.Rate, "rate-limit", 0, "Requests per second allowed per client on the HTTP transport (0 disables)")
	cmd.Flags().IntVar(&config.RateLimit.Burst, "rate-limit-burst", 10, "Burst size for the HTTP rate limiter")
	cmd.Flags().BoolVar(&config.RateLimit.TrustProxy, "trust-proxy", false, "Key rate limits by X-Forwarded-For/X-Real-IP (only behind a trusted proxy)")
	cmd.Flags().BoolVar(&config.Metrics.Enabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&config.Metrics.Addr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

// loadServeEnvVars applies environment variables to settings whose flag
// was not explicitly set.
func loadServeEnvVars(cmd *cobra.Command, config *ServeConfig) {
	if !cmd.Flags().Changed("metrics-enabled") {
		if v, err := strconv.ParseBool(os.Getenv("METRICS_ENABLED")); err == nil {
			config.Metrics.Enabled = v
		}
	}
	if !cmd.Flags().Changed("metrics-addr") {
		if addr := os.Getenv("METRICS_ADDR"); addr != "" {
			config.Metrics.Addr = addr
		}
	}
	if !cmd.Flags().Changed("http-addr") {
		if addr := os.Getenv("MCP_HTTP_ADDR"); addr != "" {
			config.HTTPAddr = addr
		}
	}
	if !cmd.Flags().Changed("debug") && os.Getenv("LOG_LEVEL") == "debug" {
		config.Debug = true
	}
	if !cmd.Flags().Changed("log-format") {
		if format := os.Getenv("LOG_FORMAT"); format != "" {
			config.LogFormat = format
		}
	}
}

func newLogger(w io.Writer, debug bool, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
	}

	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// mcpApp is an MCP server with its handlers registered through the
// instrumentation registry.
type mcpApp struct {
	server   *mcpserver.MCPServer
	registry *registry.Registry
	sessions *server.SessionTracker
}

func buildMCPServer(provider *instrumentation.Provider, logger *slog.Logger, clock clockz.Clock) (*mcpApp, error) {
	inst := provider.Instrumenter()

	var metrics *instrumentation.Metrics
	if inst != nil {
		metrics = inst.Metrics()
	}
	sessions := server.NewSessionTracker(server.SessionTrackerConfig{
		Metrics: metrics,
		Clock:   clock,
		Logger:  logger,
	})

	mcpSrv := mcpserver.NewMCPServer("mcpdemo", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithResourceCapabilities(false, false), // Subscribe and listChanged
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithInstructions(serverInstructions),
		mcpserver.WithHooks(sessions.Hooks()),
		mcpserver.WithRecovery(),
	)

	reg := registry.New(mcpSrv, inst)
	if err := registerAllHandlers(reg, clock); err != nil {
		sessions.Stop()
		return nil, err
	}

	return &mcpApp{server: mcpSrv, registry: reg, sessions: sessions}, nil
}

// registerAllHandlers registers all MCP tools, resources and prompts
func registerAllHandlers(reg *registry.Registry, clock clockz.Clock) error {
	if err := utility_tools.RegisterUtilityTools(reg, clock); err != nil {
		return fmt.Errorf("failed to register utility tools: %w", err)
	}
	if err := resources.RegisterResources(reg); err != nil {
		return fmt.Errorf("failed to register resources: %w", err)
	}
	if err := prompts.RegisterPrompts(reg); err != nil {
		return fmt.Errorf("failed to register prompts: %w", err)
	}
	return nil
}

func runServe(config ServeConfig) error {
	if config.Transport != transportStdio && config.Transport != transportStreamableHTTP {
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, streamable-http)", config.Transport)
	}

	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(os.Stderr, config.Debug, config.LogFormat)
	slog.SetDefault(logger)

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig, instrumentation.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Error("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	app, err := buildMCPServer(provider, logger, clockz.RealClock)
	if err != nil {
		return err
	}

	serverContext := server.NewServerContext(shutdownCtx, provider, app.registry, app.sessions)
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Error("server context shutdown failed", logging.Err(err))
		}
	}()

	logger.Info("starting mcpdemo",
		slog.String("version", version),
		logging.Transport(config.Transport),
		slog.Bool("instrumentation", provider.Enabled()),
		slog.Int("handlers", len(app.registry.Handlers())))

	if config.Transport == transportStdio {
		return runStdioServer(shutdownCtx, app.server, logger)
	}
	return runStreamableHTTPServer(shutdownCtx, serverContext, app.server, config, logger)
}

func runStdioServer(ctx context.Context, mcpSrv *mcpserver.MCPServer, logger *slog.Logger) error {
	stdio := mcpserver.NewStdioServer(mcpSrv)
	stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))

	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

// startMetricsServer starts the metrics server when enabled. It returns nil
// without error when metrics are disabled or not exported through
// Prometheus.
func startMetricsServer(provider *instrumentation.Provider, config MetricsConfig, logger *slog.Logger) (*server.MetricsServer, error) {
	if !config.Enabled || !provider.Enabled() {
		return nil, nil
	}

	metricsServer, err := server.NewMetricsServer(server.MetricsServerConfig{
		Addr:                    config.Addr,
		InstrumentationProvider: provider,
		Logger:                  logger,
	})
	if errors.Is(err, server.ErrNoPrometheusExporter) {
		logger.Info("metrics server disabled", logging.Err(err))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics server: %w", err)
	}

	// Use ready channel to confirm metrics server started successfully
	metricsReady := make(chan struct{})
	metricsErr := make(chan error, 1)
	go func() {
		if err := metricsServer.StartWithReadySignal(metricsReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsErr <- err
		}
		close(metricsErr)
	}()

	select {
	case <-metricsReady:
		return metricsServer, nil
	case err := <-metricsErr:
		return nil, fmt.Errorf("metrics server failed to start: %w", err)
	case <-time.After(startupTimeout):
		return nil, fmt.Errorf("metrics server startup timed out")
	}
}

func runStreamableHTTPServer(ctx context.Context, sc *server.ServerContext, mcpSrv *mcpserver.MCPServer, config ServeConfig, logger *slog.Logger) error {
	metricsServer, err := startMetricsServer(sc.Provider(), config.Metrics, logger)
	if err != nil {
		return err
	}
	defer func() {
		if metricsServer == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", logging.Err(err))
		}
	}()

	health := server.NewHealthChecker(sc, nil)
	httpServer, err := server.NewHTTPServer(mcpSrv, health, server.HTTPServerConfig{
		Addr:             config.HTTPAddr,
		DisableStreaming: config.DisableStreaming,
		RateLimit: server.RateLimitConfig{
			Rate:       config.RateLimit.Rate,
			Burst:      config.RateLimit.Burst,
			TrustProxy: config.RateLimit.TrustProxy,
		},
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	logger.Info("HTTP server gracefully stopped")
	return nil
}
