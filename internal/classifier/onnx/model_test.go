package onnx

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

type fakeEnvironment struct {
	initialized bool
	initErrs    []error
	initCalls   int
	libraryPath string
}

func (e *fakeEnvironment) IsInitialized() bool { return e.initialized }

func (e *fakeEnvironment) SetSharedLibraryPath(path string) { e.libraryPath = path }

func (e *fakeEnvironment) Initialize() error {
	e.initCalls++
	if e.initialized {
		return errors.New("environment already initialized")
	}
	if len(e.initErrs) > 0 {
		err := e.initErrs[0]
		e.initErrs = e.initErrs[1:]
		if err != nil {
			return err
		}
	}
	e.initialized = true
	return nil
}

func newTestLoader(opts Options, env *fakeEnvironment) *Loader {
	l := NewLoader(opts, zap.NewNop())
	l.env = env
	return l
}

func TestEnsureEnvironmentInitializesOnce(t *testing.T) {
	env := &fakeEnvironment{}
	l := newTestLoader(Options{LibraryPath: "/opt/onnxruntime.so"}, env)

	for i := 0; i < 3; i++ {
		if err := l.ensureEnvironment(); err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i, err)
		}
	}
	if env.initCalls != 1 {
		t.Fatalf("expected one initialization, got %d", env.initCalls)
	}
	if env.libraryPath != "/opt/onnxruntime.so" {
		t.Fatalf("expected library path to be set, got %q", env.libraryPath)
	}
}

func TestEnsureEnvironmentRetriesAfterInitFailure(t *testing.T) {
	env := &fakeEnvironment{initErrs: []error{errors.New("library not found")}}
	l := newTestLoader(Options{}, env)

	if err := l.ensureEnvironment(); err == nil {
		t.Fatal("expected first initialization to fail")
	}
	if err := l.ensureEnvironment(); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if env.initCalls != 2 {
		t.Fatalf("expected 2 initialization attempts, got %d", env.initCalls)
	}
}

func TestLoadWithBadMetadataCanBeRetried(t *testing.T) {
	env := &fakeEnvironment{}
	l := newTestLoader(Options{MetadataPath: filepath.Join(t.TempDir(), "missing.json")}, env)

	for i := 0; i < 2; i++ {
		if _, err := l.Load(context.Background()); err == nil {
			t.Fatalf("attempt %d: expected metadata error", i)
		}
	}
	if env.initCalls != 0 {
		t.Fatalf("expected runtime untouched, got %d initializations", env.initCalls)
	}

	env.initialized = true
	if err := l.ensureEnvironment(); err != nil {
		t.Fatalf("expected initialized runtime to be reused, got %v", err)
	}
}

func TestLoadHonorsCancelledContext(t *testing.T) {
	env := &fakeEnvironment{}
	l := newTestLoader(Options{}, env)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.Load(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
