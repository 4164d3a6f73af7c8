package classifier

import (
	"errors"
	"log/slog"
	"sync"
)

// EmptyStreakThreshold is the number of consecutive empty results on one
// handle after which Run logs a recommendation to recreate it.
const EmptyStreakThreshold = 3

// Handle is an opaque reference to an Orchestrator held by a Registry. The
// zero Handle is never issued.
type Handle int64

type entry struct {
	mu          sync.Mutex
	path        string
	orch        *Orchestrator
	emptyStreak int
}

// Registry maps integer handles to Orchestrators for callers that cannot
// hold Go pointers. Calls on one handle are serialized; different handles
// run in parallel.
type Registry struct {
	opts []Option
	log  *slog.Logger

	mu      sync.Mutex
	next    Handle
	entries map[Handle]*entry
}

// NewRegistry returns an empty registry. opts are applied to every
// Orchestrator it creates.
func NewRegistry(opts ...Option) *Registry {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Registry{
		opts:    opts,
		log:     o.logger,
		entries: make(map[Handle]*entry),
	}
}

// Create builds an Orchestrator for modelPath and returns its handle. The
// handle is valid even when construction failed; Run on it returns empty.
func (r *Registry) Create(modelPath string) Handle {
	orch := New(modelPath, r.opts...)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	h := r.next
	r.entries[h] = &entry{path: modelPath, orch: orch}

	r.log.Debug("classifier handle created", "handle", int64(h), "instance", orch.ID(), "ready", orch.Ready())

	return h
}

func (r *Registry) lookup(h Handle) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.entries[h]
}

// Run classifies one window on h. It returns an empty non-nil slice for
// unknown handles and on any failure.
func (r *Registry) Run(h Handle, samples []int16, length int) []float32 {
	e := r.lookup(h)
	if e == nil {
		r.log.Error("invalid processor handle", "handle", int64(h))
		return []float32{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.orch == nil {
		r.log.Error("invalid processor handle", "handle", int64(h))
		return []float32{}
	}

	out := e.orch.ProcessAudio(samples, length)
	if len(out) > 0 {
		e.emptyStreak = 0
		return out
	}

	e.emptyStreak++
	if e.emptyStreak == EmptyStreakThreshold {
		r.log.Warn("classifier returned consecutive empty results; consider recreating the handle",
			"handle", int64(h),
			"streak", e.emptyStreak,
			"ready", e.orch.Ready(),
		)
	}

	return out
}

// Err returns the construction error of the Orchestrator behind h, or an
// error when h is unknown or closed.
func (r *Registry) Err(h Handle) error {
	e := r.lookup(h)
	if e == nil {
		return errors.New("invalid processor handle")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.orch == nil {
		return errors.New("invalid processor handle")
	}

	return e.orch.Err()
}

// Close releases the Orchestrator behind h. Unknown or already closed
// handles are logged and ignored.
func (r *Registry) Close(h Handle) {
	r.mu.Lock()
	e, ok := r.entries[h]
	delete(r.entries, h)
	r.mu.Unlock()

	if !ok {
		r.log.Warn("attempted to close invalid processor handle", "handle", int64(h))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.orch != nil {
		e.orch.Close()
		e.orch = nil
	}
}

// Recreate closes the Orchestrator behind h and builds a new one from the
// same model path. It reports whether the new Orchestrator is ready; false
// is also returned for unknown handles.
func (r *Registry) Recreate(h Handle) bool {
	e := r.lookup(h)
	if e == nil {
		r.log.Error("invalid processor handle", "handle", int64(h))
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.orch == nil {
		return false
	}

	e.orch.Close()
	e.orch = New(e.path, r.opts...)
	e.emptyStreak = 0

	r.log.Info("classifier handle recreated", "handle", int64(h), "instance", e.orch.ID(), "ready", e.orch.Ready())

	return e.orch.Ready()
}

// Len reports the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

// CloseAll releases every handle.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	handles := make([]Handle, 0, len(r.entries))
	for h := range r.entries {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		r.Close(h)
	}
}
