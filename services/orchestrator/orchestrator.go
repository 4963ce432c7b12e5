// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator provides the core orchestrator service for CaseForge.
//
// This package contains the main service type that coordinates all
// components: HTTP routing, the LLM client, the evidence retriever, the
// durable job store, the generation pipeline, and observability
// infrastructure.
//
// # Extension Integration
//
// The orchestrator supports dependency injection via extensions.ServiceOptions,
// letting deployments provide custom implementations of:
//   - AuthProvider: Custom authentication (JWT, API keys)
//   - AuditLogger: Compliance audit logging
//
// # Usage
//
// Open source (uses no-op defaults):
//
//	cfg := orchestrator.Config{Port: 12310, LLMBackend: "ollama"}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/caseforge-ai/caseforge/pkg/extensions"
	"github.com/caseforge-ai/caseforge/services/generation"
	"github.com/caseforge-ai/caseforge/services/itemstore"
	"github.com/caseforge-ai/caseforge/services/jobstore"
	"github.com/caseforge-ai/caseforge/services/llm"
	"github.com/caseforge-ai/caseforge/services/orchestrator/datatypes"
	"github.com/caseforge-ai/caseforge/services/orchestrator/observability"
	"github.com/caseforge-ai/caseforge/services/orchestrator/routes"
	"github.com/caseforge-ai/caseforge/services/orchestrator/ttl"
)

// =============================================================================
// Service Interface
// =============================================================================

// Service is the orchestrator's public surface.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration. Zero values use defaults.
type Config struct {
	// Port is the HTTP listen port. Default: 12310
	Port int

	// LLMBackend selects the completion provider: "openai" or "ollama".
	// Default: "ollama"
	LLMBackend string

	// LLMModel is the completion model name. Empty uses the backend default.
	LLMModel string

	// LLMBaseURL overrides the provider endpoint. Required for Ollama.
	// Default: "http://localhost:11434"
	LLMBaseURL string

	// LLMAPIKey authenticates OpenAI requests. Ignored by Ollama.
	LLMAPIKey string

	// EmbeddingModel is the embedding model name.
	// Empty uses the backend default.
	EmbeddingModel string

	// WeaviateURL is the vector database endpoint. Empty runs the service
	// in lightweight mode without evidence retrieval or item storage.
	WeaviateURL string

	// OTelEndpoint is the OTLP gRPC collector address.
	// Default: "caseforge-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics controls Prometheus metric registration.
	// Default: true
	EnableMetrics bool

	// JobStorePath is the BadgerDB directory for job and plan state.
	// Default: "./data/jobs"
	JobStorePath string

	// JobTTL bounds how long job and plan records are retained.
	// Default: 24h
	JobTTL time.Duration

	// AbortDeadline caps one streaming completion before partial salvage.
	// Default: 10m
	AbortDeadline time.Duration

	// EvidenceRetention is how long ingested evidence chunks are kept.
	// Default: 720h (30 days)
	EvidenceRetention time.Duration

	// RetentionInterval is the time between retention cleanup passes.
	// Default: 1h
	RetentionInterval time.Duration
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use. All fields are read-only
// after New returns.
type service struct {
	config         Config
	opts           extensions.ServiceOptions
	router         *gin.Engine
	llmClient      llm.CompletionClient
	embedder       llm.Embedder
	weaviateClient *weaviate.Client
	jobStore       *jobstore.Store
	itemStore      *itemstore.Store
	pipeline       *generation.Pipeline
	planner        *generation.Planner
	retention      ttl.Scheduler
	tracerCleanup  func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new orchestrator Service with the given configuration.
//
// New initializes all components in order:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Creates the Weaviate client if a URL is provided
//  5. Opens the durable job store
//  6. Creates the LLM client and embedder
//  7. Wires the retriever, driver, pipeline, and planner
//  8. Sets up HTTP routes with extension options
//
// If opts is nil, DefaultOptions() is used (no-op implementations).
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	if opts != nil {
		s.opts = opts.Normalized()
	} else {
		s.opts = extensions.DefaultOptions()
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.EnableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for generation")
	}

	// Weaviate is optional. Without it the evidence and item routes are
	// not registered and retrieval degrades to empty evidence; jobs and
	// plans still work.
	if err := s.initWeaviate(); err != nil {
		slog.Warn("Weaviate initialization failed, running in lightweight mode",
			"error", err)
	}

	// Retention cleanup needs Weaviate. Failure to start it is not fatal.
	if s.weaviateClient != nil {
		if err := s.initRetention(); err != nil {
			slog.Warn("Retention scheduler initialization failed", "error", err)
		}
	}

	if err := s.initJobStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}

	if err := s.initLLM(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	s.initPipeline()
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
// Cleanup is automatic on return.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting orchestrator server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing. Callers must not
// modify routes after construction.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.LLMBaseURL == "" {
		cfg.LLMBaseURL = "http://localhost:11434"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "caseforge-otel-collector:4317"
	}
	cfg.EnableMetrics = true

	if cfg.JobStorePath == "" {
		cfg.JobStorePath = "./data/jobs"
	}
	if cfg.JobTTL == 0 {
		cfg.JobTTL = 24 * time.Hour
	}
	if cfg.AbortDeadline == 0 {
		cfg.AbortDeadline = 10 * time.Minute
	}
	if cfg.EvidenceRetention == 0 {
		cfg.EvidenceRetention = 720 * time.Hour
	}
	if cfg.RetentionInterval == 0 {
		cfg.RetentionInterval = time.Hour
	}

	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing via an OTLP
// gRPC exporter. Uses an insecure connection, appropriate for internal
// networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("caseforge-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initWeaviate creates the Weaviate client and ensures the schema exists.
// Returns nil without a client when no URL is configured.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("Weaviate URL not configured, running in lightweight mode")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	clientConf := weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	}

	s.weaviateClient, err = weaviate.NewClient(clientConf)
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	datatypes.EnsureWeaviateSchema(s.weaviateClient)
	slog.Info("Weaviate client initialized", "url", weaviateURL)

	return nil
}

// initRetention starts the background evidence retention scheduler.
func (s *service) initRetention() error {
	retentionService := ttl.NewRetentionService(s.weaviateClient, s.config.EvidenceRetention)

	schedulerConfig := ttl.DefaultSchedulerConfig()
	schedulerConfig.Interval = s.config.RetentionInterval

	s.retention = ttl.NewScheduler(retentionService, schedulerConfig)
	if err := s.retention.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start retention scheduler: %w", err)
	}

	slog.Info("Evidence retention scheduler started",
		"retention", s.config.EvidenceRetention.String(),
		"interval", s.config.RetentionInterval.String())
	return nil
}

// initJobStore opens the BadgerDB-backed job and plan store.
func (s *service) initJobStore() error {
	store, err := jobstore.Open(jobstore.Config{
		Path:   s.config.JobStorePath,
		TTL:    s.config.JobTTL,
		Logger: slog.Default(),
	})
	if err != nil {
		return err
	}
	s.jobStore = store

	slog.Info("Job store opened",
		"path", s.config.JobStorePath, "ttl", s.config.JobTTL.String())
	return nil
}

// initLLM creates the completion client and embedder for the configured
// backend.
func (s *service) initLLM() error {
	providerCfg := llm.ProviderConfig{
		Backend:        s.config.LLMBackend,
		Model:          s.config.LLMModel,
		BaseURL:        s.config.LLMBaseURL,
		APIKey:         s.config.LLMAPIKey,
		EmbeddingModel: s.config.EmbeddingModel,
	}

	client, err := llm.NewClient(providerCfg)
	if err != nil {
		return err
	}
	s.llmClient = client

	embedder, err := llm.NewEmbedder(providerCfg)
	if err != nil {
		return err
	}
	s.embedder = embedder

	slog.Info("LLM client initialized", "backend", s.config.LLMBackend)
	return nil
}

// initPipeline wires the retriever, driver, pipeline, and planner.
func (s *service) initPipeline() {
	s.itemStore = itemstore.New(s.weaviateClient)

	retriever := generation.NewRetriever(s.weaviateClient, s.embedder,
		generation.DefaultRetrieverConfig())

	driverCfg := generation.DefaultDriverConfig()
	driverCfg.AbortDeadline = s.config.AbortDeadline
	driver := generation.NewDriver(s.llmClient, s.jobStore, driverCfg)

	s.pipeline = generation.NewPipeline(retriever, driver, s.jobStore,
		s.itemStore, generation.DefaultPipelineConfig())
	s.planner = generation.NewPlanner(s.llmClient, s.pipeline, s.jobStore)
}

// initRouter sets up the Gin HTTP router with all routes. ServiceOptions
// are passed through so deployments can swap auth and audit providers.
func (s *service) initRouter() {
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("caseforge-orchestrator"))

	routes.SetupRoutes(s.router, s.weaviateClient, s.embedder,
		s.pipeline, s.planner, s.jobStore, s.itemStore, s.opts)
}

// cleanup releases all resources held by the service. Called when Run()
// exits or on initialization failure.
func (s *service) cleanup() {
	if s.retention != nil {
		if err := s.retention.Stop(); err != nil {
			slog.Warn("Retention scheduler stop error", "error", err)
		}
	}

	if s.jobStore != nil {
		if err := s.jobStore.Close(); err != nil {
			slog.Warn("Job store close error", "error", err)
		}
	}

	if s.opts.AuditLogger != nil {
		if err := s.opts.AuditLogger.Flush(context.Background()); err != nil {
			slog.Warn("Audit logger flush error", "error", err)
		}
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
