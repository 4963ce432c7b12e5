// Copyright (C) 2026 CaseForge AI (dev@caseforge.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command orchestrator starts the CaseForge orchestrator HTTP server.
//
// Configuration is layered: built-in defaults, then an optional YAML config
// file (--config), then environment variables. Environment always wins so
// container deployments can override a baked-in config file.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT: HTTP server port (default: 12310)
//   - LLM_BACKEND_TYPE: LLM provider - openai, ollama (default: ollama)
//   - LLM_MODEL: completion model name (backend default if unset)
//   - LLM_BASE_URL: provider endpoint (default: http://localhost:11434)
//   - LLM_API_KEY: API key for OpenAI backends
//   - EMBEDDING_MODEL: embedding model name (backend default if unset)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: caseforge-otel-collector:4317)
//   - JOB_STORE_PATH: BadgerDB directory for job state (default: ./data/jobs)
//   - JOB_TTL: job record retention, Go duration (default: 24h)
//   - EVIDENCE_RETENTION: evidence chunk retention, Go duration (default: 720h)
//
// # Usage
//
//	# Build
//	go build -o orchestrator ./cmd/orchestrator
//
//	# Run with defaults
//	./orchestrator
//
//	# Run with a config file
//	./orchestrator --config /etc/caseforge/orchestrator.yaml
//
//	# Or via container
//	podman-compose up orchestrator
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/caseforge-ai/caseforge/services/orchestrator"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "orchestrator",
		Short: "CaseForge test-case generation orchestrator",
		Long: `The orchestrator serves the CaseForge generation API: evidence
ingestion, test-case generation jobs, and plan-driven batch runs.`,
		RunE:          runServe,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// fileConfig mirrors orchestrator.Config for YAML loading. Durations are
// Go duration strings ("24h", "10m").
type fileConfig struct {
	Port              int    `yaml:"port"`
	LLMBackend        string `yaml:"llm_backend"`
	LLMModel          string `yaml:"llm_model"`
	LLMBaseURL        string `yaml:"llm_base_url"`
	LLMAPIKey         string `yaml:"llm_api_key"`
	EmbeddingModel    string `yaml:"embedding_model"`
	WeaviateURL       string `yaml:"weaviate_url"`
	OTelEndpoint      string `yaml:"otel_endpoint"`
	JobStorePath      string `yaml:"job_store_path"`
	JobTTL            string `yaml:"job_ttl"`
	AbortDeadline     string `yaml:"abort_deadline"`
	EvidenceRetention string `yaml:"evidence_retention"`
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Orchestrator failed", "error", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	slog.Info("Starting orchestrator",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
		"job_store_path", cfg.JobStorePath,
	)

	// Default (no-op) extension options. Deployments with real auth pass
	// custom ServiceOptions here.
	svc, err := orchestrator.New(cfg, nil)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}
	return svc.Run()
}

// loadConfig builds the service configuration: defaults, then the YAML
// config file when given, then environment variables.
func loadConfig(path string) (orchestrator.Config, error) {
	cfg := orchestrator.Config{
		Port:              12310,
		LLMBackend:        "ollama",
		LLMBaseURL:        "http://localhost:11434",
		OTelEndpoint:      "caseforge-otel-collector:4317",
		JobStorePath:      "./data/jobs",
		JobTTL:            24 * time.Hour,
		EvidenceRetention: 720 * time.Hour,
	}

	if path != "" {
		if err := applyFileConfig(&cfg, path); err != nil {
			return orchestrator.Config{}, err
		}
	}

	cfg.Port = getEnvInt("ORCHESTRATOR_PORT", cfg.Port)
	cfg.LLMBackend = getEnvString("LLM_BACKEND_TYPE", cfg.LLMBackend)
	cfg.LLMModel = getEnvString("LLM_MODEL", cfg.LLMModel)
	cfg.LLMBaseURL = getEnvString("LLM_BASE_URL", cfg.LLMBaseURL)
	cfg.LLMAPIKey = getEnvString("LLM_API_KEY", cfg.LLMAPIKey)
	cfg.EmbeddingModel = getEnvString("EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.WeaviateURL = getEnvString("WEAVIATE_SERVICE_URL", cfg.WeaviateURL)
	cfg.OTelEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTelEndpoint)
	cfg.JobStorePath = getEnvString("JOB_STORE_PATH", cfg.JobStorePath)
	cfg.JobTTL = getEnvDuration("JOB_TTL", cfg.JobTTL)
	cfg.AbortDeadline = getEnvDuration("ABORT_DEADLINE", cfg.AbortDeadline)
	cfg.EvidenceRetention = getEnvDuration("EVIDENCE_RETENTION", cfg.EvidenceRetention)

	return cfg, nil
}

func applyFileConfig(cfg *orchestrator.Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Port > 0 {
		cfg.Port = fc.Port
	}
	if fc.LLMBackend != "" {
		cfg.LLMBackend = fc.LLMBackend
	}
	if fc.LLMModel != "" {
		cfg.LLMModel = fc.LLMModel
	}
	if fc.LLMBaseURL != "" {
		cfg.LLMBaseURL = fc.LLMBaseURL
	}
	if fc.LLMAPIKey != "" {
		cfg.LLMAPIKey = fc.LLMAPIKey
	}
	if fc.EmbeddingModel != "" {
		cfg.EmbeddingModel = fc.EmbeddingModel
	}
	if fc.WeaviateURL != "" {
		cfg.WeaviateURL = fc.WeaviateURL
	}
	if fc.OTelEndpoint != "" {
		cfg.OTelEndpoint = fc.OTelEndpoint
	}
	if fc.JobStorePath != "" {
		cfg.JobStorePath = fc.JobStorePath
	}

	var parseErr error
	setDuration := func(field *time.Duration, raw, name string) {
		if raw == "" || parseErr != nil {
			return
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			parseErr = fmt.Errorf("config %s: invalid duration %q", name, raw)
			return
		}
		*field = d
	}
	setDuration(&cfg.JobTTL, fc.JobTTL, "job_ttl")
	setDuration(&cfg.AbortDeadline, fc.AbortDeadline, "abort_deadline")
	setDuration(&cfg.EvidenceRetention, fc.EvidenceRetention, "evidence_retention")
	return parseErr
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("Invalid duration in environment, using default", "key", key, "default", defaultValue.String())
	}
	return defaultValue
}
