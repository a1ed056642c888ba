// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the guide HTTP service.
//
// This package wires every component of the server: content providers,
// the guide engine, storage, HTTP routing and middleware, the idle-session
// scheduler, tracing and metrics.
//
// # Enterprise Integration
//
// The orchestrator supports dependency injection via extensions.ServiceOptions:
//   - AuthProvider: Custom authentication (JWT, API keys)
//   - AuthzProvider: Access control per route
//   - AuditLogger: Compliance audit logging of session events
//   - MessageFilter: Instruction screening and output redaction
//
// Options left nil are derived from Config (APITokens, BlockedTerms) or
// fall back to the in-repo implementations.
//
// # Usage
//
//	cfg := orchestrator.Config{
//	    Port: 12210,
//	    Providers: []orchestrator.ProviderConfig{
//	        {Backend: "openai", Timeout: 30 * time.Second},
//	        {Backend: "ollama", Model: "llama3"},
//	    },
//	    DataDir:        "/var/lib/aleutian/guide",
//	    IdleSessionTTL: 24 * time.Hour,
//	}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianGuide/pkg/extensions"
	"github.com/AleutianAI/AleutianGuide/services/guide"
	"github.com/AleutianAI/AleutianGuide/services/guide/provider"
	"github.com/AleutianAI/AleutianGuide/services/guide/storage"
	badgerstore "github.com/AleutianAI/AleutianGuide/services/guide/storage/badger"
	"github.com/AleutianAI/AleutianGuide/services/llm"
	"github.com/AleutianAI/AleutianGuide/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianGuide/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianGuide/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianGuide/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianGuide/services/orchestrator/ttl"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the lifecycle of the guide server.
//
// # Thread Safety
//
// Safe for concurrent use after New returns. Run blocks and should be
// called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until SIGINT/SIGTERM or a
	// server error. In-flight requests are drained before it returns.
	Run() error

	// Router returns the configured Gin engine, mainly for tests.
	Router() *gin.Engine

	// Guide returns the engine behind the HTTP API.
	Guide() *guide.Service

	// SetRateLimit changes the per-client limit of a running server.
	// rps <= 0 disables limiting.
	SetRateLimit(rps float64, burst int)

	// Close releases every resource without serving. Run calls it itself.
	Close(ctx context.Context) error
}

// =============================================================================
// Configuration
// =============================================================================

// Tracing exporters accepted by Config.TracingExporter.
const (
	TracingOTLP   = "otlp"
	TracingStdout = "stdout"
	TracingNone   = "none"
)

// ProviderConfig configures one content provider in priority order.
type ProviderConfig struct {
	// Backend is one of openai, lmstudio, anthropic, ollama, local.
	Backend string `yaml:"backend"`

	// Name labels the provider in logs and failure reports. Default: Backend.
	Name string `yaml:"name"`

	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`

	// APIKey overrides the backend's environment variable. Prefer the
	// environment or a container secret over config files.
	APIKey string `yaml:"-"`

	// Timeout bounds one generation attempt. Default: 60s.
	Timeout time.Duration `yaml:"timeout"`
}

// Config holds orchestrator configuration options.
//
// # Description
//
// All fields are optional; zero values take the defaults applied by
// applyConfigDefaults. With no providers configured the server serves
// rule-based template guides.
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	// Default: the GIN_MODE env var, else release.
	GinMode string

	// Providers in priority order. The rule-based provider is always
	// appended last unless NoRuleFallback is set.
	Providers      []ProviderConfig
	NoRuleFallback bool

	// DataDir enables BadgerDB persistence of guides and sessions.
	// Empty keeps everything in memory.
	DataDir string

	// CacheTTL is how long a generated guide is reused. Default: 1h.
	CacheTTL        time.Duration
	CacheMaxEntries int

	// LockWait bounds how long a session mutation waits for the session.
	LockWait time.Duration

	// MaxConcurrentGenerations caps provider work. Default: 8.
	MaxConcurrentGenerations int64

	// IdleSessionTTL abandons active sessions idle this long. Zero
	// disables expiry.
	IdleSessionTTL time.Duration

	// CleanupInterval is how often the scheduler runs. Default: 1 minute.
	CleanupInterval time.Duration

	// RateLimitRPS is the per-client request rate. Zero disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	// TracingExporter selects otlp, stdout or none. Default: otlp when
	// OTelEndpoint is set, else none.
	TracingExporter string
	OTelEndpoint    string

	// ServiceName is the OTel resource service.name. Default: guide-service
	ServiceName string

	// APITokens maps bearer tokens to user ids. Non-empty enables token
	// auth when no AuthProvider is injected.
	APITokens map[string]string

	// BlockedTerms enables the term filter when no MessageFilter is injected.
	BlockedTerms []string

	// AuditCapacity is the in-memory audit ring size. Default: 1000.
	AuditCapacity int

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration

	// Logger is used by every component. Nil uses slog.Default().
	Logger *slog.Logger
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Thread Safety
//
// All fields are read-only after New() returns. The limiter synchronises
// its own updates.
type service struct {
	config        Config
	opts          extensions.ServiceOptions
	logger        *slog.Logger
	router        *gin.Engine
	limiter       *middleware.RateLimiter
	guide         *guide.Service
	registry      *prometheus.Registry
	scheduler     ttl.Scheduler
	tracerCleanup func(context.Context)
	meterCleanup  func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates the guide server.
//
// # Description
//
//  1. Applies default configuration for missing values
//  2. Initializes tracing and the metrics registry
//  3. Builds content providers from cfg.Providers
//  4. Opens storage and creates the guide engine
//  5. Sets up HTTP routes with extension options
//  6. Starts the idle-session scheduler
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - opts: Extension options. May be nil.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Non-nil if any component fails to initialize. Everything
//     started so far is released.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	s.logger = s.config.Logger
	s.opts = s.buildOptions(opts)

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if err := s.initMetrics(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := s.initGuide(); err != nil {
		s.cleanup()
		return nil, err
	}

	s.initRouter()

	if err := s.initScheduler(); err != nil {
		s.cleanup()
		return nil, err
	}

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until a shutdown signal.
func (s *service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		s.cleanup()
		return fmt.Errorf("listen on port %d: %w", s.config.Port, err)
	}
	return s.serve(ctx, ln)
}

// Router returns the underlying Gin engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Guide returns the guide engine.
func (s *service) Guide() *guide.Service {
	return s.guide
}

// SetRateLimit applies a new per-client limit.
func (s *service) SetRateLimit(rps float64, burst int) {
	s.limiter.SetLimit(rps, burst)
	s.logger.Info("Rate limit updated", "rps", rps, "burst", burst)
}

// Close stops the scheduler, closes storage and flushes telemetry.
func (s *service) Close(ctx context.Context) error {
	return s.shutdown(ctx)
}

// serve runs the HTTP server on ln until ctx is done, then drains
// in-flight requests and releases resources.
func (s *service) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting guide server", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received, draining requests",
			"timeout", s.config.ShutdownTimeout.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("http shutdown: %w", err)
	}
	if err := s.shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	s.logger.Info("Guide server stopped")
	return serveErr
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.GinMode == "" {
		cfg.GinMode = os.Getenv(gin.EnvGinMode)
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.IdleSessionTTL < 0 {
		cfg.IdleSessionTTL = 0
	}
	if cfg.TracingExporter == "" {
		if cfg.OTelEndpoint != "" {
			cfg.TracingExporter = TracingOTLP
		} else {
			cfg.TracingExporter = TracingNone
		}
	}
	cfg.TracingExporter = strings.ToLower(cfg.TracingExporter)
	if cfg.ServiceName == "" {
		cfg.ServiceName = "guide-service"
	}
	if cfg.AuditCapacity <= 0 {
		cfg.AuditCapacity = 1000
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		p.Backend = strings.ToLower(strings.TrimSpace(p.Backend))
		if p.Name == "" {
			p.Name = p.Backend
		}
		if p.Timeout <= 0 {
			p.Timeout = 60 * time.Second
		}
	}
	return cfg
}

// buildOptions fills extension points the caller left nil from config.
func (s *service) buildOptions(in *extensions.ServiceOptions) extensions.ServiceOptions {
	var opts extensions.ServiceOptions
	if in != nil {
		opts = *in
	}
	if opts.AuthProvider == nil && len(s.config.APITokens) > 0 {
		opts.AuthProvider = extensions.NewStaticTokenAuthProvider(s.config.APITokens)
		s.logger.Info("Bearer token authentication enabled", "tokens", len(s.config.APITokens))
	}
	if opts.MessageFilter == nil && len(s.config.BlockedTerms) > 0 {
		opts.MessageFilter = extensions.NewTermFilter(s.config.BlockedTerms)
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = extensions.NewSlogAuditLogger(s.logger, s.config.AuditCapacity)
	}
	return opts.Normalize()
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// "otlp" sends spans to the collector at OTelEndpoint over insecure gRPC,
// "stdout" writes them to stderr, "none" leaves the no-op provider.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	switch s.config.TracingExporter {
	case TracingNone:
		return nil, nil
	case TracingOTLP:
		if s.config.OTelEndpoint == "" {
			return nil, fmt.Errorf("otlp tracing requires an OTel endpoint")
		}
		conn, err := grpc.NewClient(s.config.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
	case TracingStdout:
		var err error
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown tracing exporter %q", s.config.TracingExporter)
	}

	res, err := s.newResource(ctx)
	if err != nil {
		return nil, err
	}

	bsp := sdktrace.NewBatchSpanProcessor(exporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	s.logger.Info("Tracing enabled", "exporter", s.config.TracingExporter)

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown trace provider", "error", err)
		}
	}
	return cleanup, nil
}

// initMetrics creates the Prometheus registry and bridges OTel metrics
// recorded by the guide packages into it.
func (s *service) initMetrics() error {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(s.registry))
	if err != nil {
		return fmt.Errorf("create otel prometheus exporter: %w", err)
	}
	res, err := s.newResource(context.Background())
	if err != nil {
		return err
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	s.meterCleanup = func(ctx context.Context) {
		if err := meterProvider.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown meter provider", "error", err)
		}
	}
	return nil
}

func (s *service) newResource(ctx context.Context) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(s.config.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// initGuide builds providers, opens storage and creates the guide engine.
func (s *service) initGuide() error {
	providers, err := buildProviders(s.config.Providers)
	if err != nil {
		return err
	}

	var repo storage.Repository
	if s.config.DataDir != "" {
		dbCfg := badgerstore.DefaultConfig(s.config.DataDir)
		dbCfg.Logger = s.logger
		badgerRepo, err := badgerstore.NewRepository(dbCfg)
		if err != nil {
			return fmt.Errorf("failed to open guide storage: %w", err)
		}
		repo = badgerRepo
		s.logger.Info("Guide storage opened", "path", s.config.DataDir)
	} else {
		s.logger.Info("Guide storage is in memory; sessions are lost on restart")
	}

	s.guide, err = guide.NewService(guide.Config{
		Providers:                providers,
		NoRuleFallback:           s.config.NoRuleFallback,
		Repository:               repo,
		CacheTTL:                 s.config.CacheTTL,
		CacheMaxEntries:          s.config.CacheMaxEntries,
		LockWait:                 s.config.LockWait,
		MaxConcurrentGenerations: s.config.MaxConcurrentGenerations,
		Logger:                   s.logger,
	}, s.opts)
	if err != nil {
		if repo != nil {
			_ = repo.Close()
		}
		return fmt.Errorf("failed to initialize guide engine: %w", err)
	}
	s.logger.Info("Guide engine ready", "providers", s.guide.Providers())
	return nil
}

// buildProviders turns provider configs into LLM-backed providers.
func buildProviders(configs []ProviderConfig) ([]provider.Client, error) {
	providers := make([]provider.Client, 0, len(configs))
	for _, pc := range configs {
		client, err := llm.NewClient(pc.Backend, llm.ClientConfig{
			Model:   pc.Model,
			BaseURL: pc.BaseURL,
			APIKey:  pc.APIKey,
			Timeout: pc.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize provider %q: %w", pc.Name, err)
		}
		providers = append(providers, provider.NewLLMProvider(pc.Name, client, pc.Timeout))
	}
	return providers, nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	gin.SetMode(s.config.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(s.config.ServiceName))

	httpMetrics := observability.NewHTTPMetrics(s.registry)
	s.router.Use(httpMetrics.Middleware())

	s.limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: s.config.RateLimitRPS,
		Burst:             s.config.RateLimitBurst,
	})

	deps := handlers.Deps{Service: s.guide, Metrics: httpMetrics}
	metricsHandler := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
	routes.SetupRoutes(s.router, deps, s.opts, s.limiter, metricsHandler)
}

// initScheduler starts the idle-session scheduler.
func (s *service) initScheduler() error {
	s.scheduler = ttl.NewScheduler(s.guide, ttl.SchedulerConfig{
		Interval: s.config.CleanupInterval,
		IdleTTL:  s.config.IdleSessionTTL,
	}, s.logger)
	if err := s.scheduler.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start session cleanup scheduler: %w", err)
	}
	if s.config.IdleSessionTTL == 0 {
		s.logger.Info("Idle session expiry disabled")
	}
	return nil
}

// shutdown releases resources in reverse order of creation.
func (s *service) shutdown(ctx context.Context) error {
	var errs []error
	if s.scheduler != nil {
		if err := s.scheduler.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
		}
	}
	if s.guide != nil {
		if err := s.guide.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close guide engine: %w", err))
		}
	}
	if s.meterCleanup != nil {
		s.meterCleanup(ctx)
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(ctx)
	}
	return errors.Join(errs...)
}

// cleanup releases resources after a failed initialization.
func (s *service) cleanup() {
	if err := s.shutdown(context.Background()); err != nil {
		s.logger.Warn("Cleanup after failed initialization", "error", err)
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
