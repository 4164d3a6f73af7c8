package classifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolClosed is returned by Do once Close has started.
var ErrPoolClosed = errors.New("pool is closed")

// Pool hands out independent Orchestrators for the same model so parallel
// callers never share an engine.
type Pool struct {
	mu      sync.Mutex
	all     []*Orchestrator
	idle    chan *Orchestrator
	done    chan struct{}
	closing bool
}

// NewPool builds size Orchestrators for modelPath. It fails if any of them
// could not be initialized.
func NewPool(size int, modelPath string, opts ...Option) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be >= 1, got %d", size)
	}

	p := &Pool{
		idle: make(chan *Orchestrator, size),
		done: make(chan struct{}),
	}
	for i := range size {
		o := New(modelPath, opts...)
		if !o.Ready() {
			err := o.Err()
			o.Close()
			p.Close()

			return nil, fmt.Errorf("classifier %d: %w", i, err)
		}

		p.all = append(p.all, o)
		p.idle <- o
	}

	return p, nil
}

// Size is the number of Orchestrators in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.all)
}

// Do runs fn with an idle Orchestrator, waiting for one if all are busy.
func (p *Pool) Do(ctx context.Context, fn func(*Orchestrator) Result) (Result, error) {
	p.mu.Lock()
	if p.closing || len(p.all) == 0 {
		p.mu.Unlock()
		return Result{}, ErrPoolClosed
	}
	idle, done := p.idle, p.done
	p.mu.Unlock()

	var o *Orchestrator
	select {
	case o = <-idle:
	case <-done:
		return Result{}, ErrPoolClosed
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { idle <- o }()

	return fn(o), nil
}

// Primary returns the first Orchestrator for read-only model inspection.
func (p *Pool) Primary() *Orchestrator {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.all) == 0 {
		return nil
	}

	return p.all[0]
}

// Close waits for every checked-out Orchestrator to come back, then releases
// them all. Callers must not use the pool after.
func (p *Pool) Close() {
	_ = p.CloseContext(context.Background())
}

// CloseContext is Close with a bound on the wait. Orchestrators still busy
// when ctx ends are left open, never released under a running inference.
func (p *Pool) CloseContext(ctx context.Context) error {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return nil
	}
	p.closing = true
	if p.done != nil {
		close(p.done)
	}
	total := len(p.all)
	p.mu.Unlock()

	for released := 0; released < total; released++ {
		o, err := p.take(ctx)
		if err != nil {
			return fmt.Errorf("%d of %d classifiers still busy: %w", total-released, total, err)
		}
		o.Close()
	}

	p.mu.Lock()
	p.all = nil
	p.mu.Unlock()

	return nil
}

// take prefers an idle Orchestrator over an expired ctx.
func (p *Pool) take(ctx context.Context) (*Orchestrator, error) {
	select {
	case o := <-p.idle:
		return o, nil
	default:
	}

	select {
	case o := <-p.idle:
		return o, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
