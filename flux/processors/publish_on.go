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
	"sync/atomic"
)

// PublishOn re-emits every upstream signal from a worker of Scheduler.
// The worker is bound once per subscription so signals keep their order.
type PublishOn struct {
	Upstream  topology.Publisher
	Scheduler scheduler.Scheduler
}

func (p *PublishOn) Subscribe(ctx context.Context, sub topology.Subscriber) {
	p.Upstream.Subscribe(ctx, &publishOnSubscriber{
		ctx:        ctx,
		downstream: sub,
		worker:     p.Scheduler.Worker(),
	})
}

type publishOnSubscriber struct {
	ctx        context.Context
	downstream topology.Subscriber
	worker     scheduler.Worker
	upstream   topology.Subscription
	queue      drainQueue
	cancelled  int32
	// done is owned by whoever holds the queue
	done bool
}

func (p *publishOnSubscriber) OnSubscribe(ctx context.Context, s topology.Subscription) {
	p.upstream = s
	p.downstream.OnSubscribe(ctx, p)
}

func (p *publishOnSubscriber) OnNext(ctx context.Context, value interface{}) {
	p.offer(ctx, signal{kind: signalNext, value: value})
}

func (p *publishOnSubscriber) OnError(ctx context.Context, err error) {
	p.offer(ctx, signal{kind: signalError, err: err})
}

func (p *publishOnSubscriber) OnComplete(ctx context.Context) {
	p.offer(ctx, signal{kind: signalComplete})
}

func (p *publishOnSubscriber) Cancel() {
	if !atomic.CompareAndSwapInt32(&p.cancelled, 0, 1) {
		return
	}
	p.upstream.Cancel()
	p.worker.Dispose()
}

func (p *publishOnSubscriber) isCancelled() bool {
	return atomic.LoadInt32(&p.cancelled) == 1
}

func (p *publishOnSubscriber) offer(ctx context.Context, s signal) {
	if p.isCancelled() {
		return
	}

	p.queue.offer(s)
	if !p.queue.enter() {
		return
	}

	if err := p.worker.Schedule(p.ctx, p.run, p.onTaskError); err != nil {
		// the drain never started, so this goroutine still owns the queue
		p.reject(ctx, err)
	}
}

func (p *publishOnSubscriber) run(ctx context.Context) error {
	p.queue.drain(func(s signal) {
		if p.done || p.isCancelled() {
			return
		}

		switch s.kind {
		case signalNext:
			p.downstream.OnNext(ctx, s.value)
		case signalError:
			p.terminate()
			p.downstream.OnError(ctx, s.err)
		case signalComplete:
			p.terminate()
			p.downstream.OnComplete(ctx)
		}
	})

	return nil
}

func (p *publishOnSubscriber) terminate() {
	p.done = true
	p.worker.Dispose()
}

// reject fails the subscription on the submitting goroutine when the worker
// refused the drain task. The queue is never released, later signals are dropped.
func (p *publishOnSubscriber) reject(ctx context.Context, err error) {
	p.queue.clear()
	if p.done {
		return
	}

	p.terminate()
	if atomic.CompareAndSwapInt32(&p.cancelled, 0, 1) {
		p.upstream.Cancel()
	}
	p.downstream.OnError(ctx, err)
}

func (p *publishOnSubscriber) onTaskError(ctx context.Context, err error) {
	if p.done {
		return
	}

	p.terminate()
	if atomic.CompareAndSwapInt32(&p.cancelled, 0, 1) {
		p.upstream.Cancel()
	}
	p.downstream.OnError(ctx, err)
}
