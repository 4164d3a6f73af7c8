package classifier

import (
	"errors"
	"sort"
)

var (
	ErrUninitialized = errors.New("classifier not initialized")
	ErrEmptyInput    = errors.New("empty audio input")
)

// Status classifies the outcome of one Process call.
type Status int

const (
	StatusOK Status = iota
	// StatusUninitialized: construction failed, every call returns this.
	StatusUninitialized
	// StatusEmptyInput: length <= 0 or no samples.
	StatusEmptyInput
	// StatusInvocationError: tensor access, copy, or inference failed.
	StatusInvocationError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUninitialized:
		return "uninitialized"
	case StatusEmptyInput:
		return "empty_input"
	case StatusInvocationError:
		return "invocation_error"
	default:
		return "unknown"
	}
}

// Stage is the last step a Process call reached.
type Stage int

const (
	StageIdle Stage = iota
	StageValidating
	StagePreprocessing
	StageWriting
	StageInvoking
	StageExtracting
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageValidating:
		return "validating"
	case StagePreprocessing:
		return "preprocessing"
	case StageWriting:
		return "writing"
	case StageInvoking:
		return "invoking"
	case StageExtracting:
		return "extracting"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Result is the typed outcome of Process. Predictions is nil unless Status
// is StatusOK.
type Result struct {
	Predictions []float32
	Status      Status
	Stage       Stage
	Err         error
	// Peak is the absolute peak of the consumed samples before scaling.
	Peak float32
}

// OK reports whether Process produced predictions.
func (r Result) OK() bool { return r.Status == StatusOK }

// Prediction is one scored class index.
type Prediction struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// TopK returns up to k predictions ordered by descending score. Ties keep
// index order. k <= 0 returns all.
func (r Result) TopK(k int) []Prediction {
	return TopK(r.Predictions, k)
}

// TopK ranks scores in descending order and keeps the first k.
func TopK(scores []float32, k int) []Prediction {
	out := make([]Prediction, len(scores))
	for i, s := range scores {
		out[i] = Prediction{Index: i, Score: s}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	if k > 0 && k < len(out) {
		out = out[:k]
	}

	return out
}
