package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(envMap(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.HTTPAddr)
	}
	if cfg.ClassifierBackend != BackendGRPC || cfg.TopK != 3 {
		t.Fatalf("unexpected classifier defaults: %+v", cfg)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("unexpected session ttl: %s", cfg.SessionTTL)
	}
	if cfg.AuthEnabled() {
		t.Fatal("auth must be disabled without a secret")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"CLASSIFIER_BACKEND": "ONNX",
		"TOP_K":              "5",
		"SESSION_TTL":        "5m",
		"STRICT_TRANSITIONS": "true",
		"JWT_SECRET":         " secret ",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ClassifierBackend != BackendONNX || cfg.TopK != 5 || cfg.SessionTTL != 5*time.Minute {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if !cfg.StrictTransitions {
		t.Fatal("expected strict transitions")
	}
	if cfg.JWTSecret != "secret" || !cfg.AuthEnabled() {
		t.Fatalf("expected trimmed secret, got %q", cfg.JWTSecret)
	}
}

func TestFromEnvReportsParseErrors(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{
		"TOP_K":        "many",
		"LOAD_TIMEOUT": "soon",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"TOP_K", "LOAD_TIMEOUT"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in error, got %v", key, err)
		}
	}
}

func TestFromEnvRejectsUnknownBackend(t *testing.T) {
	if _, err := FromEnv(envMap(map[string]string{"CLASSIFIER_BACKEND": "tflite"})); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("BREED_TEST_ONLY=1\nTOP_K=7\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TOP_K", "")
	os.Unsetenv("TOP_K")
	t.Cleanup(func() {
		os.Unsetenv("BREED_TEST_ONLY")
		os.Unsetenv("TOP_K")
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TopK != 7 {
		t.Fatalf("expected TOP_K from env file, got %d", cfg.TopK)
	}
}

func TestLoadToleratesMissingEnvFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("expected missing env file to be ignored, got %v", err)
	}
}
