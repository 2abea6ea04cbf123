// Package onnx runs an image classifier in-process through ONNX Runtime.
package onnx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/example/breed-identifier/internal/classifier"
)

// Metadata describes the exported model.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	InputName   string   `json:"input_name,omitempty"`
	OutputName  string   `json:"output_name,omitempty"`
}

// Options configures the loader.
type Options struct {
	ModelPath    string
	MetadataPath string
	LibraryPath  string
	TopK         int
}

// environment is the process-wide ONNX Runtime state.
type environment interface {
	IsInitialized() bool
	SetSharedLibraryPath(path string)
	Initialize() error
}

type ortEnvironment struct{}

func (ortEnvironment) IsInitialized() bool              { return ort.IsInitialized() }
func (ortEnvironment) SetSharedLibraryPath(path string) { ort.SetSharedLibraryPath(path) }
func (ortEnvironment) Initialize() error                { return ort.InitializeEnvironment() }

// Loader initializes the runtime and opens the model on Load.
type Loader struct {
	opts   Options
	env    environment
	logger *zap.Logger
}

// NewLoader returns a loader for the given model files.
func NewLoader(opts Options, logger *zap.Logger) *Loader {
	return &Loader{opts: opts, env: ortEnvironment{}, logger: logger.Named("onnx_loader")}
}

// Load implements classifier.Loader.
func (l *Loader) Load(ctx context.Context) (classifier.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta, err := ReadMetadata(l.opts.MetadataPath)
	if err != nil {
		return nil, err
	}

	if err := l.ensureEnvironment(); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(l.opts.ModelPath,
		[]string{nameOr(meta.InputName, "input")}, []string{nameOr(meta.OutputName, "output")},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	l.logger.Info("onnx model opened",
		zap.String("model_path", l.opts.ModelPath),
		zap.Int("classes", len(meta.Classes)),
		zap.Int("image_size", meta.ImageSize))

	return &Model{
		session:      session,
		meta:         meta,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		topK:         l.opts.TopK,
	}, nil
}

// ensureEnvironment initializes the runtime once per process. A load that
// fails after initialization leaves the runtime up for the next attempt.
func (l *Loader) ensureEnvironment() error {
	if l.env.IsInitialized() {
		return nil
	}
	if l.opts.LibraryPath != "" {
		l.env.SetSharedLibraryPath(l.opts.LibraryPath)
	}
	if err := l.env.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// ReadMetadata parses the metadata file that accompanies a model.
func ReadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := meta.validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (m Metadata) validate() error {
	if len(m.Classes) == 0 {
		return fmt.Errorf("metadata lists no classes")
	}
	if m.ImageSize <= 0 {
		return fmt.Errorf("metadata image_size must be positive, got %d", m.ImageSize)
	}
	if want := 3 * int64(m.ImageSize) * int64(m.ImageSize); volume(m.InputShape) != want {
		return fmt.Errorf("input_shape %v does not hold a %dx%d RGB image", m.InputShape, m.ImageSize, m.ImageSize)
	}
	return nil
}

// Model is a loaded ONNX session. The runtime session binds fixed tensors,
// so Classify calls are serialized.
type Model struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	meta         Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	topK         int
}

// Classify implements classifier.Model.
func (m *Model) Classify(ctx context.Context, img classifier.Image) ([]classifier.Prediction, error) {
	input, err := Preprocess(img.Data, m.meta.ImageSize)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	copy(m.inputTensor.GetData(), input)
	if err := m.session.Run(); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	output := make([]float32, len(m.outputTensor.GetData()))
	copy(output, m.outputTensor.GetData())
	m.mu.Unlock()

	return Rank(output, m.meta.Classes, m.topK), nil
}

// Close releases the session, its tensors and the runtime.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	if m.session != nil {
		errs = append(errs, m.session.Destroy())
		m.session = nil
	}
	if m.inputTensor != nil {
		errs = append(errs, m.inputTensor.Destroy())
		m.inputTensor = nil
	}
	if m.outputTensor != nil {
		errs = append(errs, m.outputTensor.Destroy())
		m.outputTensor = nil
	}
	if ort.IsInitialized() {
		errs = append(errs, ort.DestroyEnvironment())
	}
	return errors.Join(errs...)
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

func volume(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	v := int64(1)
	for _, d := range shape {
		v *= d
	}
	return v
}
