package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/example/breed-identifier/internal/classifier"
	"github.com/example/breed-identifier/internal/logging"
	"github.com/example/breed-identifier/internal/machine"
)

// User-visible messages attached to failed operations.
const (
	msgModelLoad      = "The model could not be loaded. Please try again."
	msgClassification = "The image could not be identified. Please upload another image."
	msgInvalidUpload  = "Please choose an image file."
)

// ImageRef is the uploaded image as held by a session.
type ImageRef struct {
	Filename    string
	ContentType string
	Digest      string
	URL         string
	Data        []byte
}

// UploadedFile is one file chosen by the user.
type UploadedFile struct {
	Filename string
	Data     []byte
}

// AppState is the complete controller state of one session.
type AppState struct {
	Machine machine.State
	Model   classifier.Model
	Image   *ImageRef
	Results []classifier.Prediction
	Message string
}

type sessionDeps struct {
	loader          classifier.Loader
	predictions     *predictionCache
	metrics         *metrics
	logger          *zap.Logger
	strict          bool
	loadTimeout     time.Duration
	classifyTimeout time.Duration
}

// Session hosts one instance of the identify flow.
type Session struct {
	ID        string
	Owner     string
	CreatedAt time.Time

	deps   *sessionDeps
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   AppState
	pending *Task
	closed  bool
}

func newSession(ctx context.Context, id, owner string, deps *sessionDeps) *Session {
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		ID:        id,
		Owner:     owner,
		CreatedAt: time.Now().UTC(),
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		state:     AppState{Machine: machine.Initial},
	}
}

// State returns the current machine state.
func (s *Session) State() machine.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Machine
}

// Snapshot returns a copy of the controller state.
func (s *Session) Snapshot() AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.state
	snapshot.Results = append([]classifier.Prediction(nil), s.state.Results...)
	return snapshot
}

// Image returns the uploaded image while the current state displays it.
func (s *Session) Image() (*ImageRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Machine.Flags().ShowImage || s.state.Image == nil {
		return nil, false
	}
	return s.state.Image, true
}

// Wait blocks until the outstanding asynchronous operation, if any, has
// been applied.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	task := s.pending
	s.mu.Unlock()
	if task == nil {
		return nil
	}
	return task.Wait(ctx)
}

// Load starts loading the model.
func (s *Session) Load(ctx context.Context) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, s.errorLocked("session.load_model", err)
	}
	if err := s.requireLocked("session.load_model", machine.Initial, machine.LoadError); err != nil {
		return nil, err
	}
	if err := s.dispatchLocked(machine.Next); err != nil {
		return nil, err
	}
	s.state.Message = ""

	task := newTask()
	s.pending = task
	go s.runLoad(task)
	return task, nil
}

func (s *Session) runLoad(task *Task) {
	opLogger := logging.WithOperation(s.deps.logger, "session.load_model", s.ID)
	ctx, cancel := s.taskContext(s.deps.loadTimeout)
	defer cancel()

	model, err := s.deps.loader.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		task.finish(s.errorLocked("session.load_model", context.Canceled))
		return
	}

	if err != nil {
		s.deps.metrics.loadFailures.Add(1)
		wrapped := s.errorLocked("session.load_model", fmt.Errorf("%w: %w", ErrModelLoad, err))
		opLogger.Error("model load failed", zap.Error(wrapped))
		s.state.Message = msgModelLoad
		if dispatchErr := s.dispatchLocked(machine.Fail); dispatchErr != nil {
			task.finish(dispatchErr)
			return
		}
		task.finish(wrapped)
		return
	}

	s.state.Model = model
	task.finish(s.dispatchLocked(machine.Next))
	opLogger.Debug("model ready")
}

// Upload accepts the user's file selection. An empty selection is a no-op.
func (s *Session) Upload(ctx context.Context, files []UploadedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return s.errorLocked("session.upload", err)
	}
	if err := s.requireLocked("session.upload", machine.AwaitingUpload); err != nil {
		return err
	}
	if len(files) == 0 {
		return nil
	}

	file := files[0]
	detected := mimetype.Detect(file.Data)
	if len(file.Data) == 0 || !strings.HasPrefix(detected.String(), "image/") {
		s.state.Message = msgInvalidUpload
		err := s.errorLocked("session.upload",
			fmt.Errorf("%w: %q is %s", ErrInvalidUpload, file.Filename, detected.String()))
		logging.WithOperation(s.deps.logger, "session.upload", s.ID).Info("rejected upload", zap.Error(err))
		return err
	}

	digest := sha1.Sum(file.Data)
	s.state.Image = &ImageRef{
		Filename:    file.Filename,
		ContentType: detected.String(),
		Digest:      hex.EncodeToString(digest[:]),
		URL:         fmt.Sprintf("/sessions/%s/image", s.ID),
		Data:        file.Data,
	}
	s.state.Message = ""
	return s.dispatchLocked(machine.Next)
}

// Identify starts classifying the uploaded image.
func (s *Session) Identify(ctx context.Context) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, s.errorLocked("session.identify", err)
	}
	if err := s.requireLocked("session.identify", machine.Ready); err != nil {
		return nil, err
	}
	model, image := s.state.Model, s.state.Image
	if err := s.dispatchLocked(machine.Next); err != nil {
		return nil, err
	}

	task := newTask()
	s.pending = task
	go s.runClassify(task, model, image)
	return task, nil
}

func (s *Session) runClassify(task *Task, model classifier.Model, image *ImageRef) {
	opLogger := logging.WithOperation(s.deps.logger, "session.identify", s.ID)
	ctx, cancel := s.taskContext(s.deps.classifyTimeout)
	defer cancel()

	started := time.Now()
	predictions, hit := s.deps.predictions.lookup(ctx, s.ID, image.Digest)
	var err error
	switch {
	case hit:
		s.deps.metrics.cacheHits.Add(1)
	case model == nil:
		err = fmt.Errorf("no model loaded")
	default:
		predictions, err = model.Classify(ctx, classifier.Image{Data: image.Data, ContentType: image.ContentType})
		if err == nil {
			s.deps.predictions.store(ctx, s.ID, image.Digest, predictions)
		}
	}
	s.deps.metrics.observeClassification(time.Since(started), err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		task.finish(s.errorLocked("session.identify", context.Canceled))
		return
	}

	if err != nil {
		wrapped := s.errorLocked("session.identify", fmt.Errorf("%w: %w", ErrClassification, err))
		opLogger.Error("classification failed", zap.Error(wrapped))
		s.state.Image = nil
		s.state.Results = nil
		s.state.Message = msgClassification
		if dispatchErr := s.dispatchLocked(machine.Fail); dispatchErr != nil {
			task.finish(dispatchErr)
			return
		}
		task.finish(wrapped)
		return
	}

	s.state.Results = predictions
	task.finish(s.dispatchLocked(machine.Next))
	opLogger.Debug("classification complete", zap.Int("predictions", len(predictions)), zap.Bool("cache_hit", hit))
}

// Reset clears the image and results and returns to awaiting an upload.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return s.errorLocked("session.reset", err)
	}
	if err := s.requireLocked("session.reset", machine.Complete); err != nil {
		return err
	}
	s.state.Results = nil
	s.state.Image = nil
	s.state.Message = ""
	return s.dispatchLocked(machine.Next)
}

// Press runs the primary action of the current state. The returned task is
// nil for synchronous actions.
func (s *Session) Press(ctx context.Context) (*Task, error) {
	state := s.State()
	switch action := buttonFor(state).Action; action {
	case ActionLoad:
		return s.Load(ctx)
	case ActionIdentify:
		return s.Identify(ctx)
	case ActionReset:
		return nil, s.Reset(ctx)
	case ActionUpload:
		return nil, logging.NewSessionError("session.press", s.ID, state.String(), ErrUploadRequired)
	default:
		return nil, logging.NewSessionError("session.press", s.ID, state.String(), ErrActionUnavailable)
	}
}

func (s *Session) requireLocked(operation string, allowed ...machine.State) error {
	for _, state := range allowed {
		if s.state.Machine == state {
			return nil
		}
	}
	return s.errorLocked(operation, ErrActionUnavailable)
}

// errorLocked wraps err with the operation, the session and its current
// machine state.
func (s *Session) errorLocked(operation string, err error) error {
	return logging.NewSessionError(operation, s.ID, s.state.Machine.String(), err)
}

// dispatchLocked applies event to the machine. Rejected transitions are
// logged; strict sessions keep their state and return the error, others
// take the machine's fallback and start over.
func (s *Session) dispatchLocked(event machine.Event) error {
	prev := s.state.Machine
	next, err := machine.Transition(prev, event)
	if err != nil {
		wrapped := s.errorLocked("session.dispatch", err)
		logging.WithOperation(s.deps.logger, "session.dispatch", s.ID).Error("invalid transition",
			zap.Error(wrapped), zap.Bool("strict", s.deps.strict))
		if s.deps.strict {
			return wrapped
		}
		s.state = AppState{Machine: next}
		return nil
	}
	s.state.Machine = next
	s.deps.logger.Debug("session state transition",
		zap.String("session_id", s.ID),
		zap.Stringer("from", prev),
		zap.Stringer("to", next),
		zap.Stringer("event", event))
	return nil
}

func (s *Session) taskContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(s.ctx, timeout)
	}
	return context.WithCancel(s.ctx)
}

func (s *Session) discard() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}
