package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/example/go-audioml/internal/audio"
	"github.com/example/go-audioml/internal/classifier"
	"github.com/example/go-audioml/internal/model"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Classifier scores one window of PCM samples.
type Classifier interface {
	Classify(ctx context.Context, samples []int16) (classifier.Result, error)
}

// ModelDescriber reports what the server is serving.
type ModelDescriber interface {
	Describe() ModelInfo
}

// TensorJSON is the wire form of a model tensor description.
type TensorJSON struct {
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Shape []int64 `json:"shape"`
}

// ModelInfo is the body of GET /model.
type ModelInfo struct {
	Name      string       `json:"name"`
	SHA256    string       `json:"sha256"`
	IRVersion int64        `json:"ir_version"`
	Opset     int64        `json:"opset"`
	Producer  string       `json:"producer,omitempty"`
	Inputs    []TensorJSON `json:"inputs"`
	Outputs   []TensorJSON `json:"outputs"`
	Labels    []string     `json:"labels,omitempty"`
	Threads   int          `json:"threads"`
	Delegate  string       `json:"delegate"`
	Workers   int          `json:"workers"`
	InputLen  int          `json:"input_len"`
}

// DescribeModel converts a loaded model into its wire description.
func DescribeModel(m *model.Model) ModelInfo {
	conv := func(in []model.TensorInfo) []TensorJSON {
		out := make([]TensorJSON, len(in))
		for i, t := range in {
			out[i] = TensorJSON{Name: t.Name, Type: t.ElemType.String(), Shape: t.Shape}
		}
		return out
	}

	return ModelInfo{
		Name:      m.Name(),
		SHA256:    m.SHA256(),
		IRVersion: m.IRVersion(),
		Opset:     m.Opset(),
		Producer:  m.Producer(),
		Inputs:    conv(m.Inputs()),
		Outputs:   conv(m.Outputs()),
		InputLen:  audio.InputLen,
	}
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxSamples     int
	sampleRate     int
	hop            int
	topK           int
	requestTimeout time.Duration
	logger         *slog.Logger
	labels         []string
}

func defaultOptions() options {
	return options{
		maxSamples:     1 << 20,
		sampleRate:     16000,
		hop:            audio.InputLen,
		topK:           5,
		requestTimeout: 30 * time.Second,
		logger:         slog.Default(),
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxSamples sets the maximum number of samples accepted per request.
func WithMaxSamples(n int) Option {
	return func(o *options) { o.maxSamples = n }
}

// WithSampleRate sets the sample rate WAV bodies must match. Zero accepts any.
func WithSampleRate(hz int) Option {
	return func(o *options) { o.sampleRate = hz }
}

// WithHop sets the stride between windows of a WAV body.
func WithHop(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.hop = n
		}
	}
}

// WithTopK sets how many ranked classes each window reports by default.
func WithTopK(k int) Option {
	return func(o *options) { o.topK = k }
}

// WithLabels names output classes in ranked results.
func WithLabels(labels []string) Option {
	return func(o *options) { o.labels = labels }
}

// WithRequestTimeout sets the per-request classification deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

type handler struct {
	clf   Classifier
	model ModelDescriber
	opts  options
	log   *slog.Logger
}

// NewHandler returns an http.Handler that serves /health, /model, and
// POST /classify.
func NewHandler(clf Classifier, md ModelDescriber, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		clf:   clf,
		model: md,
		opts:  opts,
		log:   opts.logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/model", h.handleModel)
	mux.HandleFunc("/classify", h.handleClassify)

	return mux
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}

	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

func (h *handler) handleModel(w http.ResponseWriter, _ *http.Request) {
	info := h.model.Describe()
	if info.Labels == nil {
		info.Labels = h.opts.labels
	}

	writeJSON(w, http.StatusOK, info)
}

type classifyRequest struct {
	Samples []int16 `json:"samples"`
	Top     int     `json:"top"`
}

// LabeledPrediction is a ranked class with its optional label.
type LabeledPrediction struct {
	Index int     `json:"index"`
	Label string  `json:"label,omitempty"`
	Score float32 `json:"score"`
}

// WindowResult is the classification of one window.
type WindowResult struct {
	Offset      int                 `json:"offset"`
	Peak        float32             `json:"peak"`
	Predictions []float32           `json:"predictions"`
	Top         []LabeledPrediction `json:"top"`
}

// ClassifyResponse is the body of a successful POST /classify.
type ClassifyResponse struct {
	RequestID  string         `json:"request_id"`
	Windows    []WindowResult `json:"windows"`
	DurationMS int64          `json:"duration_ms"`
}

func (h *handler) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	reqID := r.Header.Get("X-Request-Id")
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", reqID)
	log := h.log.With(slog.String("request_id", reqID))

	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	// 16-bit samples as JSON take at most 7 bytes each; WAV takes 2 plus header.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, int64(h.opts.maxSamples)*8+1024))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	samples, top, windowed, err := h.decodeRequest(r, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if len(samples) == 0 {
		writeError(w, http.StatusBadRequest, "no samples in request")
		return
	}

	if len(samples) > h.opts.maxSamples {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request exceeds maximum of %d samples", h.opts.maxSamples))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.requestTimeout)
	defer cancel()

	windows := [][]int16{samples}
	if windowed {
		windows = audio.Windows(samples, audio.InputLen, h.opts.hop)
	}

	start := time.Now()
	resp := ClassifyResponse{RequestID: reqID, Windows: make([]WindowResult, 0, len(windows))}

	for i, win := range windows {
		res, err := h.clf.Classify(ctx, win)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				log.WarnContext(r.Context(), "classification timed out",
					slog.Int("samples", len(samples)),
					slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				)
				writeError(w, http.StatusGatewayTimeout, "classification timed out")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		if !res.OK() {
			log.ErrorContext(r.Context(), "classification failed",
				slog.String("status", res.Status.String()),
				slog.String("stage", res.Stage.String()),
				slog.Int("window", i),
				slog.Any("error", res.Err),
			)
			writeJSON(w, statusCode(res.Status), map[string]string{
				"error":  errString(res.Err),
				"status": res.Status.String(),
				"stage":  res.Stage.String(),
			})
			return
		}

		resp.Windows = append(resp.Windows, WindowResult{
			Offset:      i * h.opts.hop,
			Peak:        res.Peak,
			Predictions: res.Predictions,
			Top:         h.label(res.TopK(top)),
		})
	}

	resp.DurationMS = time.Since(start).Milliseconds()

	log.InfoContext(r.Context(), "classification complete",
		slog.Int("samples", len(samples)),
		slog.Int("windows", len(resp.Windows)),
		slog.Int64("duration_ms", resp.DurationMS),
	)

	writeJSON(w, http.StatusOK, resp)
}

// decodeRequest accepts a JSON sample array or a WAV body. WAV bodies are
// split into windows; a JSON array is classified as a single window.
func (h *handler) decodeRequest(r *http.Request, body []byte) (samples []int16, top int, windowed bool, err error) {
	top = h.opts.topK
	if q := r.URL.Query().Get("top"); q != "" {
		top, err = strconv.Atoi(q)
		if err != nil {
			return nil, 0, false, fmt.Errorf("invalid top %q", q)
		}
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "audio/wav", "audio/wave", "audio/x-wav":
		pcm, err := audio.DecodeWAV(body, h.opts.sampleRate)
		if err != nil {
			return nil, 0, false, err
		}
		return pcm.Samples, top, true, nil
	case "", "application/json":
		var req classifyRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, 0, false, fmt.Errorf("invalid JSON: %w", err)
		}
		if req.Top != 0 {
			top = req.Top
		}
		return req.Samples, top, false, nil
	default:
		return nil, 0, false, fmt.Errorf("unsupported content type %q", ct)
	}
}

func (h *handler) label(preds []classifier.Prediction) []LabeledPrediction {
	out := make([]LabeledPrediction, len(preds))
	for i, p := range preds {
		out[i] = LabeledPrediction{Index: p.Index, Score: p.Score}
		if p.Index < len(h.opts.labels) {
			out[i].Label = h.opts.labels[p.Index]
		}
	}

	return out
}

func statusCode(s classifier.Status) int {
	switch s {
	case classifier.StatusEmptyInput:
		return http.StatusBadRequest
	case classifier.StatusUninitialized:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ProbeHTTP checks that a server is answering GET /health on addr.
func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}

	return nil
}
