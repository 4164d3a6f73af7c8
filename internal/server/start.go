package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/go-audioml/internal/classifier"
	"github.com/example/go-audioml/internal/config"
	"github.com/example/go-audioml/internal/engine"
	"github.com/example/go-audioml/internal/model"
)

// PoolClassifier adapts a classifier.Pool to Classifier and ModelDescriber.
type PoolClassifier struct {
	Pool *classifier.Pool
}

// Classify runs samples on the next idle classifier.
func (p PoolClassifier) Classify(ctx context.Context, samples []int16) (classifier.Result, error) {
	return p.Pool.Do(ctx, func(o *classifier.Orchestrator) classifier.Result {
		return o.Process(ctx, samples, len(samples))
	})
}

// Describe reports the pooled model and its engine settings.
func (p PoolClassifier) Describe() ModelInfo {
	o := p.Pool.Primary()
	if o == nil || o.Model() == nil {
		return ModelInfo{}
	}

	info := DescribeModel(o.Model())
	if cfg, ok := o.Config(); ok {
		info.Threads = cfg.Threads
		info.Delegate = cfg.Delegate
	}
	info.Workers = p.Pool.Size()

	return info
}

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		cfg:             cfg,
		logger:          logger,
		shutdownTimeout: time.Duration(cfg.Server.ShutdownTimeout) * time.Second,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// Start builds one classifier per worker, serves until ctx is cancelled,
// then drains in-flight requests and releases the classifiers.
func (s *Server) Start(ctx context.Context) error {
	engineCfg, err := engine.ConfigFrom(s.cfg.Runtime)
	if err != nil {
		return err
	}

	if engine.NeedsRuntime(engineCfg.Delegate) {
		if _, err := engine.Bootstrap(s.cfg.Runtime); err != nil {
			return fmt.Errorf("bootstrap onnx runtime: %w", err)
		}
	}

	modelPath := s.cfg.Paths.ModelPath

	var labels []string
	mf, ok, err := model.LoadManifestFor(modelPath)
	if err != nil {
		return err
	}
	if ok {
		labels = mf.Labels
	}

	pool, err := classifier.NewPool(s.cfg.Server.Workers, modelPath,
		classifier.WithLogger(s.logger),
		classifier.WithEngineConfig(engineCfg),
	)
	if err != nil {
		return fmt.Errorf("initialize classifiers: %w", err)
	}
	defer s.closePool(pool)

	if ok {
		if err := mf.Verify(pool.Primary().Model()); err != nil {
			return err
		}
	}

	pc := PoolClassifier{Pool: pool}
	h := NewHandler(pc, pc,
		WithLogger(s.logger),
		WithMaxSamples(s.cfg.Server.MaxSamples),
		WithSampleRate(s.cfg.Audio.SampleRate),
		WithHop(s.cfg.Audio.Hop),
		WithLabels(labels),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout)*time.Second),
	)

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	s.logger.Info("server listening", "addr", s.cfg.Server.ListenAddr, "workers", pool.Size(), "model", modelPath)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

// closePool waits up to the shutdown timeout for in-flight classifications
// before releasing the engines.
func (s *Server) closePool(pool *classifier.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	if err := pool.CloseContext(ctx); err != nil {
		s.logger.Warn("classifier pool not fully released", "error", err)
	}
}
