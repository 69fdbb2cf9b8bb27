package sources

import (
	"context"
	"github.com/tryfix/errors"
	"github.com/tryfix/kflux/flux/topology"
	"sync"
)

// Emitter pushes signals into a Create source. It is safe for use from any
// goroutine; signals are serialized before they reach the subscriber.
type Emitter interface {
	// Next emits value and reports whether the emitter still accepts values.
	Next(value interface{}) bool
	Error(err error)
	Complete()
	Cancelled() bool
	// OnCancel registers f to run once the subscriber cancels.
	OnCancel(f func())
}

type CreateFunc func(ctx context.Context, emitter Emitter) error

// Create runs CreateFunc on the activating goroutine. The function may return
// right away and keep emitting from other goroutines; a returned error terminates
// the source.
type Create struct {
	CreateFunc CreateFunc
}

func (c *Create) Subscribe(ctx context.Context, sub topology.Subscriber) {
	e := &emitter{ctx: ctx, sub: sub}
	e.subscription.onCancel = e.cancelled
	sub.OnSubscribe(ctx, &e.subscription)

	if err := protect(`create`, func() error {
		return c.CreateFunc(ctx, e)
	}); err != nil {
		e.Error(err)
	}
}

type emitter struct {
	ctx          context.Context
	sub          topology.Subscriber
	subscription subscription

	// mu serializes signals, hooks are guarded apart since Cancel may run
	// from inside OnNext
	mu      sync.Mutex
	done    bool
	hooksMu sync.Mutex
	hooks   []func()
}

func (e *emitter) Next(value interface{}) bool {
	if e.subscription.stopped(e.ctx) {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done || e.subscription.stopped(e.ctx) {
		return false
	}
	e.sub.OnNext(e.ctx, value)

	return !e.done && !e.subscription.stopped(e.ctx)
}

func (e *emitter) Error(err error) {
	if e.subscription.stopped(e.ctx) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done || e.subscription.stopped(e.ctx) {
		return
	}
	e.done = true
	e.sub.OnError(e.ctx, err)
}

func (e *emitter) Complete() {
	if e.subscription.stopped(e.ctx) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.done || e.subscription.stopped(e.ctx) {
		return
	}
	e.done = true
	e.sub.OnComplete(e.ctx)
}

func (e *emitter) Cancelled() bool {
	return e.subscription.stopped(e.ctx)
}

func (e *emitter) OnCancel(f func()) {
	e.hooksMu.Lock()
	e.hooks = append(e.hooks, f)
	e.hooksMu.Unlock()

	if e.Cancelled() {
		e.cancelled()
	}
}

func (e *emitter) cancelled() {
	e.hooksMu.Lock()
	hooks := e.hooks
	e.hooks = nil
	e.hooksMu.Unlock()

	for _, f := range hooks {
		f()
	}
}

func protect(name string, f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf(`%s panicked: %v`, name, r)
		}
	}()

	return f()
}
