// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the knowledge graph service configuration.
//
// Configuration comes from a YAML file (path from the caller or KG_CONFIG)
// layered over DefaultConfig, then environment overrides:
//
//   - OPENAI_API_KEY: OpenAI key, held in a memguard enclave
//   - OLLAMA_BASE_URL: Ollama endpoint when the provider is ollama
//   - WEAVIATE_URL: Weaviate endpoint, selects the weaviate vector backend
//   - NEO4J_PASSWORD: Neo4j sink password, held in a memguard enclave
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianKG/pkg/logging"
	"github.com/AleutianAI/AleutianKG/services/knowledge/export"
	"github.com/AleutianAI/AleutianKG/services/knowledge/storage/badger"
	"github.com/AleutianAI/AleutianKG/services/knowledge/telemetry"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "KG_CONFIG"

// LLM providers.
const (
	ProviderNone   = "none"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Vector backends.
const (
	VectorNone     = "none"
	VectorMemory   = "memory"
	VectorWeaviate = "weaviate"
)

var (
	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrMissingSecret is returned when a selected backend needs a secret
	// that was not provided.
	ErrMissingSecret = errors.New("missing secret")
)

// configValidate is the validator instance for configuration structs.
// Initialized in init() with custom validators.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("listenaddr", validateListenAddr)
}

// validateListenAddr accepts "host:port" and ":port".
func validateListenAddr(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	return err == nil && port != ""
}

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Storage   StorageConfig    `yaml:"storage"`
	LLM       LLMConfig        `yaml:"llm"`
	Vector    VectorConfig     `yaml:"vector"`
	Build     BuildConfig      `yaml:"build"`
	Export    ExportConfig     `yaml:"export"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required,listenaddr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// StorageConfig selects graph persistence. Disabled keeps graphs in memory
// only.
type StorageConfig struct {
	Enabled bool          `yaml:"enabled"`
	Badger  badger.Config `yaml:",inline"`
}

// LLMConfig selects the language model backend used for smart extraction,
// answers and embeddings.
type LLMConfig struct {
	Provider       string        `yaml:"provider" validate:"oneof=none openai ollama"`
	Model          string        `yaml:"model"`
	EmbeddingModel string        `yaml:"embedding_model"`
	BaseURL        string        `yaml:"base_url" validate:"omitempty,url"`
	Timeout        time.Duration `yaml:"timeout" validate:"gte=0"`
	APIKey         *Secret       `yaml:"api_key,omitempty"`

	// SmartExtraction routes the smart stage through the LLM instead of
	// the built-in heuristics.
	SmartExtraction bool `yaml:"smart_extraction"`

	// Answers generates query answers with the LLM.
	Answers bool `yaml:"answers"`

	// RequestsPerSecond throttles extraction calls.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`

	// KeepAlive is passed to Ollama as keep_alive ("-1" keeps models
	// loaded). When set, kg serve loads both models before listening.
	KeepAlive string `yaml:"keep_alive,omitempty"`
}

// VectorConfig selects where entity embeddings are indexed.
type VectorConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=none memory weaviate"`
	WeaviateURL string `yaml:"weaviate_url" validate:"omitempty,url"`
	ClassName   string `yaml:"class_name"`
}

// BuildConfig tunes graph construction.
type BuildConfig struct {
	MaxCorpusChars int `yaml:"max_corpus_chars" validate:"gte=0"`

	// RulesFile adds to or overrides the built-in extraction rules by name.
	RulesFile string `yaml:"rules_file"`

	// WatchRules reloads RulesFile on change.
	WatchRules bool `yaml:"watch_rules"`

	// DocumentDir resolves document ids to files in this directory.
	DocumentDir string `yaml:"document_dir"`

	// SensitiveData is allow, redact or reject. It decides what happens
	// to credentials and personal data found in build input.
	SensitiveData string `yaml:"sensitive_data" validate:"oneof=allow redact reject"`
}

// ExportConfig configures optional export sinks. A nil section disables
// its sink.
type ExportConfig struct {
	Neo4j         *export.Neo4jConfig `yaml:"neo4j,omitempty"`
	Neo4jPassword *Secret             `yaml:"neo4j_password,omitempty"`
	GCS           *export.GCSConfig   `yaml:"gcs,omitempty"`
}

// LoggingConfig maps onto logging.Config.
type LoggingConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON       bool   `yaml:"json"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`

	// SpanEvents copies log records made with a request context onto the
	// active trace span as events.
	SpanEvents bool `yaml:"span_events"`
}

// DefaultConfig returns settings for a local, in-memory service with no
// external backends.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8090",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Badger: badger.DefaultConfig(defaultDataDir()),
		},
		LLM: LLMConfig{
			Provider:          ProviderNone,
			Timeout:           2 * time.Minute,
			RequestsPerSecond: 2,
		},
		Vector: VectorConfig{
			Backend:   VectorNone,
			ClassName: "KGEntity",
		},
		Build: BuildConfig{
			MaxCorpusChars: 200_000,
			SensitiveData:  "redact",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "aleutian-kg")
	}
	return filepath.Join(home, ".aleutian", "kg", "data")
}

// Load reads path over DefaultConfig, applies environment overrides and
// validates the result.
//
// Description:
//
//	An empty path falls back to KG_CONFIG. With neither set, only the
//	defaults and the environment apply. A path that does not exist is an
//	error; use WriteDefault to create one.
//
// Outputs:
//
//	Config - Validated configuration. Secrets are sealed in enclaves.
//	error  - Read, parse, or ErrInvalidConfig / ErrMissingSecret.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.LLM.APIKey = NewSecret(v)
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" && c.LLM.Provider == ProviderOllama {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("WEAVIATE_URL"); v != "" {
		c.Vector.Backend = VectorWeaviate
		c.Vector.WeaviateURL = v
	}
	if v := os.Getenv("NEO4J_PASSWORD"); v != "" {
		c.Export.Neo4jPassword = NewSecret(v)
	}
}

// Validate checks struct tags and cross-field requirements.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.LLM.APIKey.Empty() {
			return fmt.Errorf("%w: llm.api_key or OPENAI_API_KEY for provider openai", ErrMissingSecret)
		}
	case ProviderOllama:
		if c.LLM.BaseURL == "" {
			return fmt.Errorf("%w: llm.base_url or OLLAMA_BASE_URL for provider ollama", ErrInvalidConfig)
		}
	}
	if c.Vector.Backend == VectorWeaviate && c.Vector.WeaviateURL == "" {
		return fmt.Errorf("%w: vector.weaviate_url or WEAVIATE_URL for backend weaviate", ErrInvalidConfig)
	}
	if c.Storage.Enabled && !c.Storage.Badger.InMemory && c.Storage.Badger.Dir == "" {
		return fmt.Errorf("%w: storage.dir is required when storage is enabled", ErrInvalidConfig)
	}
	return nil
}

// EmbeddingsEnabled reports whether entities are embedded and indexed.
func (c Config) EmbeddingsEnabled() bool {
	return c.Vector.Backend != VectorNone && c.LLM.Provider != ProviderNone
}

// LoggerConfig converts the logging section for service.
func (c Config) LoggerConfig(service string) logging.Config {
	level, ok := logging.ParseLevel(c.Logging.Level)
	if !ok {
		level = logging.LevelInfo
	}
	lc := logging.Config{
		Level:      level,
		LogDir:     c.Logging.Dir,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Service:    service,
		JSON:       c.Logging.JSON,
	}
	if c.Logging.SpanEvents {
		lc.Exporter = logging.NewSpanEventExporter()
	}
	return lc
}

// WriteDefault writes DefaultConfig to path, creating parent directories.
// An existing file is left untouched.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
