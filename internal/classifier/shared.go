package classifier

import (
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultSharedLoadTimeout bounds a shared load when no timeout is given.
const DefaultSharedLoadTimeout = 2 * time.Minute

// SharedLoader memoizes the first successful load of an underlying Loader so
// every session reuses one model handle. Concurrent loads collapse into a
// single call; failed loads are retried on the next request.
//
// The underlying load runs detached from any single caller. A caller whose
// context ends stops waiting, but the load keeps going for everyone else
// until it finishes or the loader's own timeout expires.
type SharedLoader struct {
	loader  Loader
	logger  *zap.Logger
	timeout time.Duration
	group   singleflight.Group

	mu    sync.RWMutex
	model Model
}

// NewSharedLoader wraps loader. A non-positive timeout selects
// DefaultSharedLoadTimeout.
func NewSharedLoader(loader Loader, timeout time.Duration, logger *zap.Logger) *SharedLoader {
	if timeout <= 0 {
		timeout = DefaultSharedLoadTimeout
	}
	return &SharedLoader{loader: loader, timeout: timeout, logger: logger.Named("shared_loader")}
}

// Load returns the memoized model, loading it if needed.
func (s *SharedLoader) Load(ctx context.Context) (Model, error) {
	if model := s.cached(); model != nil {
		return model, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan("model", func() (interface{}, error) {
		if cached := s.cached(); cached != nil {
			return cached, nil
		}

		ctx, cancel := context.WithTimeout(loadCtx, s.timeout)
		defer cancel()
		loaded, err := s.loader.Load(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.model = loaded
		s.mu.Unlock()
		s.logger.Info("model loaded")
		return loaded, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			s.logger.Warn("model load failed", zap.Error(res.Err), zap.Bool("shared", res.Shared))
			return nil, res.Err
		}
		return res.Val.(Model), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close releases the memoized model when it holds resources. Later loads
// open a fresh one.
func (s *SharedLoader) Close() error {
	s.mu.Lock()
	model := s.model
	s.model = nil
	s.mu.Unlock()

	closer, ok := model.(io.Closer)
	if !ok {
		return nil
	}
	if err := closer.Close(); err != nil {
		s.logger.Warn("model close failed", zap.Error(err))
		return err
	}
	return nil
}

func (s *SharedLoader) cached() Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}
