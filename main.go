package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/breed-identifier/internal/auth"
	"github.com/example/breed-identifier/internal/classifier"
	"github.com/example/breed-identifier/internal/classifier/onnx"
	"github.com/example/breed-identifier/internal/config"
	"github.com/example/breed-identifier/internal/grpcclient"
	"github.com/example/breed-identifier/internal/handlers"
	"github.com/example/breed-identifier/internal/logging"
	"github.com/example/breed-identifier/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Development)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	loader, closeLoader := initClassifier(baseCtx, cfg, logger)
	defer closeLoader()

	var cache usecase.Cache
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(baseCtx, 5*time.Second)
		cache = usecase.NewRedisCache(initRedis(redisCtx, cfg.RedisAddr, logger))
		redisCancel()
	}

	shared := classifier.NewSharedLoader(loader, cfg.LoadTimeout, logger)
	defer shared.Close() //nolint:errcheck

	uc := usecase.NewSessionUseCase(baseCtx, shared, cache, logger, usecase.Options{
		SessionTTL:         cfg.SessionTTL,
		PredictionCacheTTL: cfg.PredictionCacheTTL,
		LoadTimeout:        cfg.LoadTimeout,
		ClassifyTimeout:    cfg.ClassifyTimeout,
		StrictTransitions:  cfg.StrictTransitions,
	})
	defer uc.Close()

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize

	handlers.RegisterRoutes(r, uc, auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience))

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	logger.Info("breed identifier listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("classifier_backend", cfg.ClassifierBackend),
		zap.Bool("auth", cfg.AuthEnabled()),
		zap.Bool("prediction_cache", cache != nil))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// initClassifier builds the configured backend. Loading the model itself is
// deferred until a session asks for it. The returned func releases the
// backend's connection; the loaded model is released by SharedLoader.Close.
func initClassifier(ctx context.Context, cfg *config.Config, logger *zap.Logger) (classifier.Loader, func()) {
	switch cfg.ClassifierBackend {
	case config.BackendONNX:
		return onnx.NewLoader(onnx.Options{
			ModelPath:    cfg.ModelPath,
			MetadataPath: cfg.ModelMetadataPath,
			LibraryPath:  cfg.ONNXLibraryPath,
			TopK:         cfg.TopK,
		}, logger), func() {}
	default:
		loader, conn, err := grpcclient.DialClassifier(ctx, cfg.ClassifierAddr, logger)
		if err != nil {
			logger.Fatal("failed to connect to classifier", zap.Error(err))
		}
		return loader.WithTopK(cfg.TopK), func() { conn.Close() }
	}
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
