package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/breed-identifier/internal/classifier"
	"github.com/example/breed-identifier/internal/logging"
)

// Options tunes session behavior.
type Options struct {
	SessionTTL         time.Duration
	PredictionCacheTTL time.Duration
	LoadTimeout        time.Duration
	ClassifyTimeout    time.Duration
	StrictTransitions  bool
}

// SessionUseCase owns the live sessions and the collaborators they share.
type SessionUseCase struct {
	ctx     context.Context
	deps    *sessionDeps
	store   *sessionStore
	metrics *metrics
	logger  *zap.Logger
}

// NewSessionUseCase constructs a new use case instance. Asynchronous work is
// bound to ctx; cancelling it abandons every in-flight operation. cache may
// be nil to disable prediction caching.
func NewSessionUseCase(ctx context.Context, loader classifier.Loader, cache Cache, logger *zap.Logger, opts Options) *SessionUseCase {
	logger = logger.Named("session_usecase")
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	m := &metrics{}
	deps := &sessionDeps{
		loader:          loader,
		metrics:         m,
		logger:          logger,
		strict:          opts.StrictTransitions,
		loadTimeout:     opts.LoadTimeout,
		classifyTimeout: opts.ClassifyTimeout,
	}
	if cache != nil {
		deps.predictions = newPredictionCache(cache, opts.PredictionCacheTTL, logger)
	}

	uc := &SessionUseCase{
		ctx:     ctx,
		deps:    deps,
		metrics: m,
		logger:  logger,
	}
	uc.store = newSessionStore(opts.SessionTTL, func(s *Session) {
		s.discard()
		logging.WithOperation(logger, "usecase.evict_session", s.ID).Debug("session discarded")
	})
	return uc
}

// Create starts a new session in the initial state.
func (uc *SessionUseCase) Create(owner string) *Session {
	s := newSession(uc.ctx, uuid.NewString(), owner, uc.deps)
	uc.store.put(s)
	uc.metrics.sessionsCreated.Add(1)
	logging.WithOperation(uc.logger, "usecase.create_session", s.ID).Info("session created", zap.String("owner", owner))
	return s
}

// Get returns the session with id when it belongs to owner.
func (uc *SessionUseCase) Get(id, owner string) (*Session, error) {
	s, ok := uc.store.get(id)
	if !ok || s.Owner != owner {
		return nil, logging.NewOperationError("usecase.get_session", id, ErrSessionNotFound)
	}
	return s, nil
}

// Delete discards a session, abandoning any in-flight operation.
func (uc *SessionUseCase) Delete(id, owner string) error {
	if _, err := uc.Get(id, owner); err != nil {
		return err
	}
	uc.store.delete(id)
	return nil
}

// Close discards every session.
func (uc *SessionUseCase) Close() {
	uc.store.flush()
}
