package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Archive backends.
const (
	ArchiveFile  = "file"
	ArchiveMongo = "mongo"
	ArchiveRedis = "redis"
)

type ServerConfig struct {
	Port           string `yaml:"port"`
	AllowedOrigins string `yaml:"cors_allowed_origins"`
	AllowedMethods string `yaml:"cors_allowed_methods"`
	AllowedHeaders string `yaml:"cors_allowed_headers"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

// PersonaConfig points at an alternative patient system prompt. Empty means
// the embedded default.
type PersonaConfig struct {
	SystemPromptFile string `yaml:"system_prompt_file"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type RedisConfig struct {
	URI    string        `yaml:"uri"`
	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
}

type ArchiveConfig struct {
	Backend string      `yaml:"backend"`
	Dir     string      `yaml:"dir"`
	Mongo   MongoConfig `yaml:"mongo"`
	Redis   RedisConfig `yaml:"redis"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type TracingConfig struct {
	Exporter string `yaml:"exporter"` // none, stdout, otlp
	Endpoint string `yaml:"endpoint"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	AI      AIConfig      `yaml:"ai"`
	Catalog CatalogConfig `yaml:"catalog"`
	Persona PersonaConfig `yaml:"persona"`
	Archive ArchiveConfig `yaml:"archive"`
	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "5000",
			AllowedOrigins: "*",
			AllowedMethods: "GET, POST, OPTIONS",
			AllowedHeaders: "Content-Type, Authorization",
		},
		AI:      DefaultAIConfig(),
		Catalog: CatalogConfig{Path: "product_config.json"},
		Archive: ArchiveConfig{
			Backend: ArchiveFile,
			Dir:     "data",
			Mongo: MongoConfig{
				URI:        "mongodb://localhost:27017",
				Database:   "hrtrainer",
				Collection: "sessions",
			},
			Redis: RedisConfig{
				URI:    "localhost:6379",
				Prefix: "session",
			},
		},
		Log:     LogConfig{Level: "info", File: "hr_chatbot.log"},
		Tracing: TracingConfig{Exporter: "none"},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads the YAML file at path (a missing file is not an error), then
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvOrDefault("PORT", c.Server.Port)
	c.Server.AllowedOrigins = getEnvOrDefault("CORS_ALLOWED_ORIGINS", c.Server.AllowedOrigins)
	c.Server.AllowedMethods = getEnvOrDefault("CORS_ALLOWED_METHODS", c.Server.AllowedMethods)
	c.Server.AllowedHeaders = getEnvOrDefault("CORS_ALLOWED_HEADERS", c.Server.AllowedHeaders)

	c.AI.applyEnv()

	c.Catalog.Path = getEnvOrDefault("PRODUCT_CONFIG", c.Catalog.Path)
	c.Persona.SystemPromptFile = getEnvOrDefault("PERSONA_PROMPT_FILE", c.Persona.SystemPromptFile)

	c.Archive.Backend = getEnvOrDefault("ARCHIVE_BACKEND", c.Archive.Backend)
	c.Archive.Dir = getEnvOrDefault("DATA_DIR", c.Archive.Dir)
	c.Archive.Mongo.URI = getEnvOrDefault("MONGO_URI", c.Archive.Mongo.URI)
	c.Archive.Redis.URI = getEnvOrDefault("REDIS_URI", c.Archive.Redis.URI)

	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnvOrDefault("LOG_FILE", c.Log.File)

	c.Tracing.Exporter = getEnvOrDefault("OTEL_TRACES_EXPORTER", c.Tracing.Exporter)
	c.Tracing.Endpoint = getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
}

// Validate rejects values no component knows how to build.
func (c *Config) Validate() error {
	switch c.AI.Provider {
	case ProviderAzure, ProviderOpenAI, ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("unknown ai provider %q", c.AI.Provider)
	}
	switch c.Archive.Backend {
	case ArchiveFile, ArchiveMongo, ArchiveRedis:
	default:
		return fmt.Errorf("unknown archive backend %q", c.Archive.Backend)
	}
	switch c.Tracing.Exporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("unknown traces exporter %q", c.Tracing.Exporter)
	}
	if c.Catalog.Path == "" {
		return errors.New("catalog path is required")
	}
	return nil
}

// RedisAddr strips the redis:// scheme the client options do not accept.
func (c RedisConfig) RedisAddr() string {
	return strings.TrimPrefix(c.URI, "redis://")
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}
