// Package classifier turns windows of 16-bit PCM audio into class scores.
//
// An Orchestrator owns one model, one engine configuration, and one engine.
// Construction never fails outright: a failed step leaves the Orchestrator
// uninitialized, and every later call returns an empty result. Orchestrators
// are not safe for concurrent use; Registry and Pool serialize access.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/go-audioml/internal/audio"
	"github.com/example/go-audioml/internal/engine"
	"github.com/example/go-audioml/internal/model"
	"github.com/google/uuid"
)

type options struct {
	logger    *slog.Logger
	engineCfg engine.Config
}

func defaultOptions() options {
	return options{
		logger:    slog.Default(),
		engineCfg: engine.DefaultConfig(),
	}
}

// Option configures an Orchestrator or Registry.
type Option func(*options)

// WithLogger sets the structured logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEngineConfig sets the engine configuration. Zero fields take the
// engine defaults.
func WithEngineConfig(cfg engine.Config) Option {
	return func(o *options) { o.engineCfg = cfg }
}

// Orchestrator runs the normalize, write, invoke, extract sequence.
type Orchestrator struct {
	id        string
	modelPath string
	log       *slog.Logger

	model  *model.Model
	cfg    *engine.Config
	engine engine.Engine

	buf    []float32
	err    error
	closed bool
}

// New loads modelPath and prepares an engine for it. It never returns nil;
// check Err or Ready to learn whether construction succeeded.
func New(modelPath string, opts ...Option) *Orchestrator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := &Orchestrator{
		id:        uuid.NewString(),
		modelPath: modelPath,
		buf:       make([]float32, audio.InputLen),
	}
	c.log = o.logger.With("instance", c.id, "model", modelPath)

	if err := c.init(o.engineCfg); err != nil {
		c.err = err
		c.log.Error("classifier initialization failed", "error", err)
		c.release()

		return c
	}

	c.log.Info("classifier ready",
		"threads", c.cfg.Threads,
		"delegate", c.cfg.Delegate,
		"inputs", c.model.Inputs(),
		"outputs", c.model.Outputs(),
	)

	return c
}

func (c *Orchestrator) init(want engine.Config) error {
	m, err := model.Load(c.modelPath)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	c.model = m

	cfg, err := engine.NewConfig(want.Threads, want.InterOpThreads, want.Delegate)
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	c.cfg = &cfg

	e, err := engine.New(m, cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	c.engine = e

	if err := e.AllocateTensors(); err != nil {
		return fmt.Errorf("allocate tensors: %w", err)
	}

	return nil
}

// Process classifies the first min(length, len(samples), audio.InputLen)
// samples. ctx is forwarded to the engine; the sequence itself is not
// interrupted between steps.
func (c *Orchestrator) Process(ctx context.Context, samples []int16, length int) (res Result) {
	start := time.Now()
	res.Stage = StageValidating

	defer func() {
		if r := recover(); r != nil {
			res = c.fail(res.Stage, StatusInvocationError, fmt.Errorf("panic: %v", r), "classifier panicked")
		}
	}()

	if c.engine == nil {
		return c.fail(StageValidating, StatusUninitialized, ErrUninitialized, "classifier not initialized")
	}

	if length <= 0 || len(samples) == 0 {
		return c.fail(StageValidating, StatusEmptyInput, ErrEmptyInput, "empty audio input")
	}

	input := c.engine.InputTensor(0)
	if input == nil {
		return c.fail(StageValidating, StatusInvocationError, errors.New("input tensor unavailable"), "failed to get input tensor")
	}

	res.Stage = StagePreprocessing
	res.Peak = audio.NormalizeInto(c.buf, samples, length)
	c.log.Debug("audio normalized", "peak", res.Peak, "length", length)

	res.Stage = StageWriting
	if err := input.CopyFromBuffer(c.buf); err != nil {
		return c.fail(StageWriting, StatusInvocationError, err, "failed to write input tensor")
	}

	res.Stage = StageInvoking
	if err := c.engine.Invoke(ctx); err != nil {
		return c.fail(StageInvoking, StatusInvocationError, err, "failed to invoke engine")
	}

	res.Stage = StageExtracting
	output := c.engine.OutputTensor(0)
	if output == nil {
		return c.fail(StageExtracting, StatusInvocationError, errors.New("output tensor unavailable"), "failed to get output tensor")
	}

	n := 1
	for _, d := range output.Shape() {
		n *= int(d)
	}

	preds := make([]float32, n)
	if err := output.CopyToBuffer(preds); err != nil {
		return c.fail(StageExtracting, StatusInvocationError, err, "failed to read output tensor")
	}

	c.log.Debug("classification complete",
		"output_len", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return Result{
		Predictions: preds,
		Status:      StatusOK,
		Stage:       StageDone,
		Peak:        res.Peak,
	}
}

// ProcessAudio returns class scores for one window, or an empty non-nil
// slice on any failure.
func (c *Orchestrator) ProcessAudio(samples []int16, length int) []float32 {
	res := c.Process(context.Background(), samples, length)
	if !res.OK() {
		return []float32{}
	}

	return res.Predictions
}

func (c *Orchestrator) fail(stage Stage, status Status, err error, msg string) Result {
	level := slog.LevelError
	if status == StatusEmptyInput {
		level = slog.LevelWarn
	}
	c.log.Log(context.Background(), level, msg, "stage", stage.String(), "status", status.String(), "error", err)

	return Result{Status: status, Stage: stage, Err: err}
}

// Close releases the engine, then the configuration, then the model. It is
// safe to call more than once and on an uninitialized Orchestrator.
func (c *Orchestrator) Close() {
	if c.closed {
		return
	}
	c.closed = true

	c.release()
	c.log.Debug("classifier closed")
}

func (c *Orchestrator) release() {
	if c.engine != nil {
		if err := c.engine.Close(); err != nil {
			c.log.Warn("engine close failed", "error", err)
		}
		c.engine = nil
	}

	if c.cfg != nil {
		c.cfg = nil
	}

	if c.model != nil {
		c.model.Close()
		c.model = nil
	}
}

// Err returns the construction failure, or nil.
func (c *Orchestrator) Err() error { return c.err }

// Ready reports whether the Orchestrator can classify audio.
func (c *Orchestrator) Ready() bool { return c.engine != nil }

// ID is the instance identifier attached to every log line.
func (c *Orchestrator) ID() string { return c.id }

// ModelPath is the path the Orchestrator was created with.
func (c *Orchestrator) ModelPath() string { return c.modelPath }

// Model returns the loaded model, or nil when uninitialized or closed.
func (c *Orchestrator) Model() *model.Model { return c.model }

// Config returns the engine configuration in use. ok is false when
// uninitialized or closed.
func (c *Orchestrator) Config() (cfg engine.Config, ok bool) {
	if c.cfg == nil {
		return engine.Config{}, false
	}

	return *c.cfg, true
}
