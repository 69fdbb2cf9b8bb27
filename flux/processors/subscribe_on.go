/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package processors

import (
	"context"
	"github.com/tryfix/kflux/flux/scheduler"
	"github.com/tryfix/kflux/flux/topology"
	"github.com/tryfix/traceable-context"
	"sync"
	"sync/atomic"
)

type activationKey string

var activationCtxKey activationKey = `flux.activation`

type activation struct {
	originResolved int32
}

// NewActivation marks ctx as the start of a new activation. Every subscribeOn
// met while the activation travels upstream competes for the origin; the one
// nearest to the subscriber wins and the rest pass through.
func NewActivation(ctx context.Context) context.Context {
	return traceable_context.WithValue(ctx, &activationCtxKey, &activation{})
}

func activationFrom(ctx context.Context) *activation {
	if a, ok := ctx.Value(&activationCtxKey).(*activation); ok {
		return a
	}
	return nil
}

// SubscribeOn moves the activation of its upstream, and with it the origin
// of the emissions, onto a worker of Scheduler.
type SubscribeOn struct {
	Upstream  topology.Publisher
	Scheduler scheduler.Scheduler
}

func (s *SubscribeOn) Subscribe(ctx context.Context, sub topology.Subscriber) {
	act := activationFrom(ctx)
	if act == nil {
		act = new(activation)
		ctx = traceable_context.WithValue(ctx, &activationCtxKey, act)
	}

	if !atomic.CompareAndSwapInt32(&act.originResolved, 0, 1) {
		s.Upstream.Subscribe(ctx, sub)
		return
	}

	worker := s.Scheduler.Worker()
	so := &subscribeOnSubscriber{
		downstream: sub,
		worker:     worker,
	}

	sub.OnSubscribe(ctx, so)

	err := worker.Schedule(ctx, func(ctx context.Context) error {
		if so.isCancelled() {
			return nil
		}
		s.Upstream.Subscribe(ctx, so)
		return nil
	}, so.onTaskError)
	if err != nil {
		so.cancel()
		sub.OnError(ctx, err)
	}
}

type subscribeOnSubscriber struct {
	downstream topology.Subscriber
	worker     scheduler.Worker
	mu         sync.Mutex
	upstream   topology.Subscription
	cancelled  int32
	done       int32
}

func (s *subscribeOnSubscriber) OnSubscribe(_ context.Context, sub topology.Subscription) {
	s.mu.Lock()
	s.upstream = sub
	s.mu.Unlock()

	if s.isCancelled() {
		sub.Cancel()
	}
}

func (s *subscribeOnSubscriber) OnNext(ctx context.Context, value interface{}) {
	if atomic.LoadInt32(&s.done) == 1 || s.isCancelled() {
		return
	}
	s.downstream.OnNext(ctx, value)
}

func (s *subscribeOnSubscriber) OnError(ctx context.Context, err error) {
	if !atomic.CompareAndSwapInt32(&s.done, 0, 1) {
		return
	}
	s.worker.Dispose()
	s.downstream.OnError(ctx, err)
}

func (s *subscribeOnSubscriber) OnComplete(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.done, 0, 1) {
		return
	}
	s.worker.Dispose()
	s.downstream.OnComplete(ctx)
}

func (s *subscribeOnSubscriber) Cancel() {
	if !s.cancel() {
		return
	}

	s.mu.Lock()
	upstream := s.upstream
	s.mu.Unlock()

	if upstream != nil {
		upstream.Cancel()
	}
}

func (s *subscribeOnSubscriber) cancel() bool {
	if !atomic.CompareAndSwapInt32(&s.cancelled, 0, 1) {
		return false
	}
	s.worker.Dispose()
	return true
}

func (s *subscribeOnSubscriber) isCancelled() bool {
	return atomic.LoadInt32(&s.cancelled) == 1
}

// onTaskError reports a failed upstream activation.
func (s *subscribeOnSubscriber) onTaskError(ctx context.Context, err error) {
	s.Cancel()
	s.OnError(ctx, err)
}
