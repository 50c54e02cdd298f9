// Package request implements spec component D: a generic asynchronous
// request engine that drives the authorize -> builder -> send -> (401 ->
// reauthorize -> retry once) -> parse skeleton of spec.md §4.D over Go
// generics, instead of the source's polymorphic IRequest<T> handle
// (REDESIGN per spec.md §9). Provider instances share one Pool so shutdown
// can drain every in-flight Request deterministically.
package request

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/rolledback/cloudkit/cloud"
	"github.com/rolledback/cloudkit/internal/auth"
	"github.com/rolledback/cloudkit/internal/httpengine"
	"github.com/rolledback/cloudkit/internal/xlog"
)

// parseContentLength reads Content-Length off header, defaulting to -1
// (unknown) the way net/http itself represents a missing/unparseable value.
func parseContentLength(h http.Header) int64 {
	v := h.Get("Content-Length")
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return -1
	}
	return n
}

// State mirrors spec.md §4.D's {constructed, running, done, cancelled}.
type State int

const (
	StateConstructed State = iota
	StateRunning
	StateDone
	StateCancelled
)

// BuildFunc constructs the HTTP request for one attempt. It is called again
// on the single 401-triggered retry, since some adapters embed a signed
// query parameter that must be regenerated per attempt.
type BuildFunc func(ctx context.Context) (*http.Request, error)

// ParseFunc turns a successful HTTP response into the operation's result
// type T.
type ParseFunc[T any] func(resp *http.Response) (T, error)

// Request is the generic, single-delivery handle for one async operation
// (spec invariant 1: its result/error is delivered through Wait exactly
// once, no matter how the request concludes).
type Request[T any] struct {
	id     string
	pool   *Pool
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	done  chan struct{}
	value T
	err   error
}

// ID returns a log-correlatable identifier for this request (spec.md §4.D's
// ambient request-id), generated with google/uuid the way ManuGH-xg2g
// stamps its own request contexts.
func (r *Request[T]) ID() string { return r.id }

// State reports the request's current lifecycle state.
func (r *Request[T]) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Cancel aborts the request if it hasn't already completed.
func (r *Request[T]) Cancel() {
	r.cancel()
}

// Wait blocks until the request completes, or ctx is done, whichever comes
// first.
func (r *Request[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (r *Request[T]) finish(value T, err error) {
	r.mu.Lock()
	if r.state == StateDone || r.state == StateCancelled {
		r.mu.Unlock()
		return
	}
	if err != nil && r.state == StateCancelled {
		r.mu.Unlock()
		return
	}
	r.value, r.err = value, err
	if errors.Is(err, context.Canceled) {
		r.state = StateCancelled
	} else {
		r.state = StateDone
	}
	r.mu.Unlock()
	close(r.done)
	r.pool.release(r)
}

// Pool owns the shared HTTP engine and auth machine for one provider
// instance, and tracks every in-flight Request so Shutdown can drain them
// deterministically (spec.md §4.D, testable property E6).
type Pool struct {
	http    *httpengine.Engine
	authm   *auth.Machine
	adapter cloud.Adapter

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	closed   bool
	drained  chan struct{}
}

// NewPool builds a Pool bound to one provider instance's engine, auth
// machine, and adapter.
func NewPool(eng *httpengine.Engine, m *auth.Machine, adapter cloud.Adapter) *Pool {
	return &Pool{
		http:     eng,
		authm:    m,
		adapter:  adapter,
		inflight: make(map[string]context.CancelFunc),
	}
}

func (p *Pool) track(id string, cancel context.CancelFunc) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.inflight[id] = cancel
	return true
}

func (p *Pool) release(r interface{ ID() string }) {
	p.mu.Lock()
	delete(p.inflight, r.ID())
	drained := p.closed && len(p.inflight) == 0
	var ch chan struct{}
	if drained {
		ch = p.drained
	}
	p.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Shutdown cancels every in-flight request and blocks until each has
// delivered its (cancelled) result, or ctx expires first.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.drained = make(chan struct{})
	empty := len(p.inflight) == 0
	cancels := make([]context.CancelFunc, 0, len(p.inflight))
	for _, c := range p.inflight {
		cancels = append(cancels, c)
	}
	ch := p.drained
	p.mu.Unlock()

	if empty {
		return nil
	}
	for _, c := range cancels {
		c()
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs one asynchronous operation through the full skeleton: authorize,
// send, retry exactly once on a 401 after reauthorizing, parse. It returns
// immediately with a *Request[T] the caller can Wait on.
func Do[T any](ctx context.Context, p *Pool, build BuildFunc, parse ParseFunc[T]) *Request[T] {
	rctx, cancel := context.WithCancel(ctx)
	r := &Request[T]{
		id:     uuid.NewString(),
		pool:   p,
		cancel: cancel,
		state:  StateConstructed,
		done:   make(chan struct{}),
	}
	if !p.track(r.id, cancel) {
		var zero T
		r.finish(zero, cloud.NewError(cloud.CodeFailure, "pool is shut down", nil))
		return r
	}

	go func() {
		r.mu.Lock()
		r.state = StateRunning
		r.mu.Unlock()

		value, err := attempt(rctx, p, build, parse, false)
		if rctx.Err() == context.Canceled && err != nil {
			err = cloud.NewError(cloud.CodeAborted, "request aborted", rctx.Err())
		}
		r.finish(value, err)
	}()

	return r
}

// Async runs an arbitrary resolver function as a tracked Request, for
// composite operations (e.g. walking multiple pages/directories) that
// don't map to a single builder/parser pair but still participate in pool
// shutdown drain.
func Async[T any](ctx context.Context, p *Pool, resolve func(ctx context.Context) (T, error)) *Request[T] {
	rctx, cancel := context.WithCancel(ctx)
	r := &Request[T]{
		id:     uuid.NewString(),
		pool:   p,
		cancel: cancel,
		state:  StateConstructed,
		done:   make(chan struct{}),
	}
	if !p.track(r.id, cancel) {
		var zero T
		r.finish(zero, cloud.NewError(cloud.CodeFailure, "pool is shut down", nil))
		return r
	}
	go func() {
		r.mu.Lock()
		r.state = StateRunning
		r.mu.Unlock()
		value, err := resolve(rctx)
		if rctx.Err() == context.Canceled && err != nil {
			err = cloud.NewError(cloud.CodeAborted, "request aborted", rctx.Err())
		}
		r.finish(value, err)
	}()
	return r
}

// Failed returns an already-completed Request carrying err, for callers
// that need to short-circuit before a pool-backed attempt would apply
// (e.g. a precondition check).
func Failed[T any](err error) *Request[T] {
	var zero T
	r := &Request[T]{
		id:    uuid.NewString(),
		state: StateDone,
		done:  make(chan struct{}),
		value: zero,
		err:   err,
	}
	close(r.done)
	return r
}

func attempt[T any](ctx context.Context, p *Pool, build BuildFunc, parse ParseFunc[T], retried bool) (T, error) {
	var zero T

	token, err := p.authm.EnsureAuthenticated(ctx)
	if err != nil {
		return zero, err
	}

	req, err := build(ctx)
	if err != nil {
		return zero, err
	}
	if req == nil {
		return zero, cloud.ErrNotSupported
	}
	p.adapter.AuthorizeRequest(req, token)

	res, err := p.http.Do(ctx, httpengine.Exchange{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header,
		Body:   req.Body,
	})
	if err != nil {
		if httpengine.IsAborted(err) {
			return zero, cloud.NewError(cloud.CodeAborted, "request aborted", err)
		}
		return zero, err
	}
	defer res.Body.Close()

	if res.IsAuthError() && !retried {
		xlog.L().Debug().Str("adapter", p.adapter.Name()).Msg("request: 401, reauthorizing and retrying once")
		if _, err := p.authm.Reauthorize(ctx); err != nil {
			return zero, err
		}
		return attempt(ctx, p, build, parse, true)
	}

	if !res.IsSuccess() {
		return zero, cloud.NewError(res.StatusCode, "request failed", nil)
	}

	httpResp := &http.Response{
		StatusCode:    res.StatusCode,
		Header:        res.Header,
		Body:          res.Body,
		Request:       req,
		ContentLength: parseContentLength(res.Header),
	}
	return parse(httpResp)
}
