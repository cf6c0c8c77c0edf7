// Package rendezvous lets foreign goroutines run a callback against state
// owned by the tick goroutine and wait for it to finish.
//
// Callers enqueue through RunSync. Once per tick the owner calls Drain, which
// takes every request queued at that moment as one batch, runs the callbacks
// in enqueue order, and only then releases all of the batch's callers.
package rendezvous

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"strconv"
	"sync/atomic"
)

var (
	// ErrReentrant is the panic value raised when RunSync is called from a
	// running drain or with a context derived from WithTick. Waiting on our
	// own drain would deadlock.
	ErrReentrant = errors.New("rendezvous: RunSync called from the tick goroutine")

	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("rendezvous: closed")
)

const (
	statePending int32 = iota
	stateTaken
	stateAbandoned
)

type request[T any] struct {
	fn    func(T)
	done  chan struct{}
	state atomic.Int32
}

// Rendezvous serializes callbacks onto the goroutine that calls Drain.
type Rendezvous[T any] struct {
	reqs   chan *request[T]
	closed chan struct{}
	once   atomic.Bool
	// owner is the goroutine running a drain batch, 0 between drains.
	owner atomic.Int64
}

// New creates a rendezvous whose queue holds up to size requests. Callers
// beyond that block in RunSync until a drain makes room.
func New[T any](size int) *Rendezvous[T] {
	if size <= 0 {
		size = 256
	}
	return &Rendezvous[T]{
		reqs:   make(chan *request[T], size),
		closed: make(chan struct{}),
	}
}

// RunSync queues fn and blocks until a drain has run it and finished its
// whole batch. If ctx ends before a drain picks fn up, fn never runs and the
// context error is returned. Once picked up, fn always runs to completion and
// RunSync waits for it regardless of ctx.
//
// Panics with ErrReentrant when ctx carries the tick marker or when called
// from inside a callback run by Drain.
func (r *Rendezvous[T]) RunSync(ctx context.Context, fn func(T)) error {
	if OnTick(ctx) {
		panic(ErrReentrant)
	}
	if owner := r.owner.Load(); owner != 0 && owner == goid() {
		panic(ErrReentrant)
	}
	if r.isClosed() {
		return ErrClosed
	}
	req := &request[T]{fn: fn, done: make(chan struct{})}
	select {
	case r.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.closed:
		return ErrClosed
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return r.abandon(req, ctx.Err())
	case <-r.closed:
		return r.abandon(req, ErrClosed)
	}
}

// abandon withdraws a queued request. If a drain already took it, wait for
// the batch instead: fn may be touching the caller's memory.
func (r *Rendezvous[T]) abandon(req *request[T], err error) error {
	if req.state.CompareAndSwap(statePending, stateAbandoned) {
		return err
	}
	<-req.done
	return nil
}

// Drain runs every request queued when it was called, in FIFO order, passing
// state to each. It must only be called from the owning goroutine. Requests
// queued while the batch runs wait for the next drain. Returns the number of
// callbacks run.
func (r *Rendezvous[T]) Drain(state T) int {
	n := len(r.reqs)
	if n == 0 {
		return 0
	}
	batch := make([]*request[T], 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, <-r.reqs)
	}
	r.owner.Store(goid())
	defer func() {
		r.owner.Store(0)
		for _, req := range batch {
			close(req.done)
		}
	}()

	ran := 0
	for _, req := range batch {
		if !req.state.CompareAndSwap(statePending, stateTaken) {
			continue
		}
		req.fn(state)
		ran++
	}
	return ran
}

// Pending reports how many requests are queued.
func (r *Rendezvous[T]) Pending() int { return len(r.reqs) }

// Close fails every waiting and future RunSync with ErrClosed. Callbacks
// already taken by a running drain still complete.
func (r *Rendezvous[T]) Close() {
	if r.once.CompareAndSwap(false, true) {
		close(r.closed)
	}
}

func (r *Rendezvous[T]) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

type tickKey struct{}

// WithTick marks ctx as belonging to the tick goroutine. RunSync refuses
// marked contexts.
func WithTick(ctx context.Context) context.Context {
	return context.WithValue(ctx, tickKey{}, true)
}

// OnTick reports whether ctx was derived from WithTick.
func OnTick(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, _ := ctx.Value(tickKey{}).(bool)
	return v
}

// goid returns the calling goroutine's id as printed in its stack header.
func goid() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		id, _ := strconv.ParseInt(string(b[:i]), 10, 64)
		return id
	}
	return 0
}
