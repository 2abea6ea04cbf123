// Package config reads service settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Classifier backends.
const (
	BackendGRPC = "grpc"
	BackendONNX = "onnx"
)

// Config holds every tunable of the service.
type Config struct {
	HTTPAddr string

	ClassifierBackend string
	ClassifierAddr    string
	ModelPath         string
	ModelMetadataPath string
	ONNXLibraryPath   string
	TopK              int

	RedisAddr          string
	PredictionCacheTTL time.Duration

	SessionTTL        time.Duration
	StrictTransitions bool
	LoadTimeout       time.Duration
	ClassifyTimeout   time.Duration
	ShutdownTimeout   time.Duration

	JWTSecret   string
	JWTAudience string

	Development bool
}

// Load reads .env files (if present) and then the process environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	p := parser{getenv: getenv}
	cfg := &Config{
		HTTPAddr:           p.str("HTTP_ADDR", ":8080"),
		ClassifierBackend:  strings.ToLower(p.str("CLASSIFIER_BACKEND", BackendGRPC)),
		ClassifierAddr:     p.str("CLASSIFIER_ADDR", "classifier:50051"),
		ModelPath:          p.str("MODEL_PATH", "models/model.onnx"),
		ModelMetadataPath:  p.str("MODEL_METADATA_PATH", "models/model_metadata.json"),
		ONNXLibraryPath:    p.str("ONNX_LIBRARY_PATH", ""),
		TopK:               p.integer("TOP_K", 3),
		RedisAddr:          p.str("REDIS_ADDR", ""),
		PredictionCacheTTL: p.duration("PREDICTION_CACHE_TTL", 10*time.Minute),
		SessionTTL:         p.duration("SESSION_TTL", 30*time.Minute),
		StrictTransitions:  p.boolean("STRICT_TRANSITIONS", false),
		LoadTimeout:        p.duration("LOAD_TIMEOUT", time.Minute),
		ClassifyTimeout:    p.duration("CLASSIFY_TIMEOUT", 30*time.Second),
		ShutdownTimeout:    p.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		JWTSecret:          strings.TrimSpace(p.str("JWT_SECRET", "")),
		JWTAudience:        strings.TrimSpace(p.str("JWT_AUDIENCE", "")),
		Development:        p.boolean("DEVELOPMENT", false),
	}
	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.ClassifierBackend {
	case BackendGRPC:
		if c.ClassifierAddr == "" {
			return errors.New("CLASSIFIER_ADDR is required for the grpc backend")
		}
	case BackendONNX:
		if c.ModelPath == "" || c.ModelMetadataPath == "" {
			return errors.New("MODEL_PATH and MODEL_METADATA_PATH are required for the onnx backend")
		}
	default:
		return fmt.Errorf("unknown CLASSIFIER_BACKEND %q", c.ClassifierBackend)
	}
	if c.TopK < 0 {
		return fmt.Errorf("TOP_K must not be negative, got %d", c.TopK)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	return nil
}

// AuthEnabled reports whether session routes require a bearer token.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}

type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) str(key, fallback string) string {
	if value := p.getenv(key); value != "" {
		return value
	}
	return fallback
}

func (p *parser) integer(key string, fallback int) int {
	raw := p.getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := p.getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}

func (p *parser) boolean(key string, fallback bool) bool {
	raw := p.getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return v
}
