/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package flux

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/tryfix/errors"
	"github.com/tryfix/kflux/flux/processors"
	"github.com/tryfix/kflux/flux/topology"
	"github.com/tryfix/log"
	"github.com/tryfix/traceable-context"
	"sync"
	"sync/atomic"
)

type State int32

const (
	StateUnsubscribed State = iota
	StateActivating
	StateEmitting
	StateCompleted
	StateErrored
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateActivating:
		return `ACTIVATING`
	case StateEmitting:
		return `EMITTING`
	case StateCompleted:
		return `COMPLETED`
	case StateErrored:
		return `ERRORED`
	case StateCancelled:
		return `CANCELLED`
	}

	return `UNSUBSCRIBED`
}

func (s State) Terminal() bool {
	return s >= StateCompleted
}

type OnNextFunc func(ctx context.Context, value interface{})

type OnErrorFunc func(ctx context.Context, err error)

type OnCompleteFunc func(ctx context.Context)

var logger = log.NewLog(log.Prefixed(`flux`)).Log()

// UnhandledErrorHandler receives the errors of subscriptions without an error handler.
var UnhandledErrorHandler OnErrorFunc = func(ctx context.Context, err error) {
	logger.ErrorContext(ctx, fmt.Sprintf(`unhandled pipeline error - %+v`, err))
}

var activationIdKey = `flux_activation_id`

func newActivation(ctx context.Context) context.Context {
	return processors.NewActivation(traceable_context.WithValue(ctx, &activationIdKey, uuid.New()))
}

// ActivationId returns the id of the activation ctx belongs to.
func ActivationId(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(&activationIdKey).(uuid.UUID)
	return id, ok
}

// Disposable controls a running subscription.
type Disposable interface {
	// Dispose cancels the subscription. Cancellation travels upstream synchronously.
	Dispose()
	State() State
	// Done is closed once the subscription reaches a terminal state.
	Done() <-chan struct{}
	// Err returns the error of an ERRORED subscription.
	Err() error
}

type SubscribeOption func(l *lambda)

func WithErrorHandler(f OnErrorFunc) SubscribeOption {
	return func(l *lambda) {
		l.onError = f
	}
}

func WithCompleteHandler(f OnCompleteFunc) SubscribeOption {
	return func(l *lambda) {
		l.onComplete = f
	}
}

// Subscribe activates the pipeline and invokes onNext for every element.
// Cancelling ctx disposes the subscription.
func (f *flux) Subscribe(ctx context.Context, onNext OnNextFunc, opts ...SubscribeOption) Disposable {
	l := &lambda{
		onNext: onNext,
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	if !atomic.CompareAndSwapInt32(&l.state, int32(StateUnsubscribed), int32(StateActivating)) {
		return l
	}

	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				l.Dispose()
			case <-l.done:
			}
		}()
	}

	f.SubscribeWith(ctx, l)

	return l
}

// lambda is the terminal subscriber behind Subscribe and owns the subscription state.
type lambda struct {
	onNext     OnNextFunc
	onError    OnErrorFunc
	onComplete OnCompleteFunc

	state int32
	done  chan struct{}

	mu       sync.Mutex
	upstream topology.Subscription
	err      error
}

func (l *lambda) OnSubscribe(_ context.Context, s topology.Subscription) {
	l.mu.Lock()
	l.upstream = s
	l.mu.Unlock()

	if l.State() == StateCancelled {
		s.Cancel()
	}
}

func (l *lambda) OnNext(ctx context.Context, value interface{}) {
	atomic.CompareAndSwapInt32(&l.state, int32(StateActivating), int32(StateEmitting))
	if l.State() != StateEmitting {
		return
	}

	if err := l.consume(ctx, value); err != nil {
		l.cancelUpstream()
		l.OnError(ctx, err)
	}
}

func (l *lambda) consume(ctx context.Context, value interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf(`subscriber panicked: %v`, r)
		}
	}()

	if l.onNext != nil {
		l.onNext(ctx, value)
	}

	return nil
}

func (l *lambda) OnError(ctx context.Context, err error) {
	if !l.terminate(StateErrored) {
		return
	}

	l.mu.Lock()
	l.err = err
	l.mu.Unlock()

	if l.onError != nil {
		l.onError(ctx, err)
	} else {
		UnhandledErrorHandler(ctx, err)
	}
	close(l.done)
}

func (l *lambda) OnComplete(ctx context.Context) {
	if !l.terminate(StateCompleted) {
		return
	}

	if l.onComplete != nil {
		l.onComplete(ctx)
	}
	close(l.done)
}

func (l *lambda) Dispose() {
	if !l.terminate(StateCancelled) {
		return
	}
	l.cancelUpstream()
	close(l.done)
}

func (l *lambda) cancelUpstream() {
	l.mu.Lock()
	upstream := l.upstream
	l.mu.Unlock()

	if upstream != nil {
		upstream.Cancel()
	}
}

// terminate moves a live subscription to the terminal state to.
func (l *lambda) terminate(to State) bool {
	for {
		current := atomic.LoadInt32(&l.state)
		if State(current).Terminal() {
			return false
		}
		if atomic.CompareAndSwapInt32(&l.state, current, int32(to)) {
			return true
		}
	}
}

func (l *lambda) State() State {
	return State(atomic.LoadInt32(&l.state))
}

func (l *lambda) Done() <-chan struct{} {
	return l.done
}

func (l *lambda) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
