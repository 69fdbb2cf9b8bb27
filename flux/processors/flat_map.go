/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package processors

import (
	"context"
	"github.com/tryfix/kflux/flux/topology"
	"sync"
	"sync/atomic"
)

type FlatMapFunc func(ctx context.Context, value interface{}) (topology.Publisher, error)

// FlatMap subscribes to the publisher produced for every upstream element and
// merges the elements of all of them downstream. It completes once upstream and
// every inner publisher completed; the first error wins and cancels the rest.
type FlatMap struct {
	Upstream    topology.Publisher
	FlatMapFunc FlatMapFunc
}

func (f *FlatMap) Subscribe(ctx context.Context, sub topology.Subscriber) {
	f.Upstream.Subscribe(ctx, &merger{
		downstream: sub,
		mapper:     f.FlatMapFunc,
		inners:     make(map[*mergeInner]struct{}),
		active:     1,
	})
}

type merger struct {
	downstream topology.Subscriber
	mapper     FlatMapFunc
	upstream   topology.Subscription

	mu     sync.Mutex
	inners map[*mergeInner]struct{}

	// active counts upstream plus every inner that has not completed yet
	active     int32
	cancelled  int32
	terminated int32

	queue drainQueue
	done  bool
}

func (m *merger) OnSubscribe(ctx context.Context, s topology.Subscription) {
	m.upstream = s
	m.downstream.OnSubscribe(ctx, m)
}

func (m *merger) OnNext(ctx context.Context, value interface{}) {
	if m.stopped() {
		return
	}

	var inner topology.Publisher
	err := guard(`flatMap`, func() (err error) {
		inner, err = m.mapper(ctx, value)
		return err
	})
	if err != nil {
		m.fail(ctx, err)
		return
	}

	if inner == nil {
		return
	}

	in := &mergeInner{parent: m}
	m.mu.Lock()
	m.inners[in] = struct{}{}
	m.mu.Unlock()
	atomic.AddInt32(&m.active, 1)

	inner.Subscribe(NewActivation(ctx), in)
}

func (m *merger) OnError(ctx context.Context, err error) {
	m.fail(ctx, err)
}

func (m *merger) OnComplete(ctx context.Context) {
	m.complete(ctx)
}

func (m *merger) Cancel() {
	if !atomic.CompareAndSwapInt32(&m.cancelled, 0, 1) {
		return
	}
	m.upstream.Cancel()
	m.cancelInners()
}

func (m *merger) stopped() bool {
	return atomic.LoadInt32(&m.cancelled) == 1 || atomic.LoadInt32(&m.terminated) == 1
}

func (m *merger) cancelInners() {
	m.mu.Lock()
	inners := make([]*mergeInner, 0, len(m.inners))
	for in := range m.inners {
		inners = append(inners, in)
	}
	m.inners = make(map[*mergeInner]struct{})
	m.mu.Unlock()

	for _, in := range inners {
		in.cancel()
	}
}

func (m *merger) fail(ctx context.Context, err error) {
	if !atomic.CompareAndSwapInt32(&m.terminated, 0, 1) {
		return
	}
	m.upstream.Cancel()
	m.cancelInners()
	m.emit(ctx, signal{kind: signalError, err: err})
}

func (m *merger) complete(ctx context.Context) {
	if atomic.AddInt32(&m.active, -1) != 0 || atomic.LoadInt32(&m.terminated) == 1 {
		return
	}
	m.emit(ctx, signal{kind: signalComplete})
}

func (m *merger) emit(ctx context.Context, s signal) {
	m.queue.offer(s)
	if !m.queue.enter() {
		return
	}

	m.queue.drain(func(s signal) {
		if m.done || atomic.LoadInt32(&m.cancelled) == 1 {
			return
		}

		switch s.kind {
		case signalNext:
			m.downstream.OnNext(ctx, s.value)
		case signalError:
			m.done = true
			m.downstream.OnError(ctx, s.err)
		case signalComplete:
			m.done = true
			m.downstream.OnComplete(ctx)
		}
	})
}

type mergeInner struct {
	parent   *merger
	mu       sync.Mutex
	upstream topology.Subscription
	// cancelled is guarded by mu so a late OnSubscribe still sees it
	cancelled bool
	done      int32
}

func (in *mergeInner) OnSubscribe(_ context.Context, s topology.Subscription) {
	in.mu.Lock()
	in.upstream = s
	cancelled := in.cancelled
	in.mu.Unlock()

	if cancelled {
		s.Cancel()
	}
}

func (in *mergeInner) OnNext(ctx context.Context, value interface{}) {
	if atomic.LoadInt32(&in.done) == 1 || in.parent.stopped() {
		return
	}
	in.parent.emit(ctx, signal{kind: signalNext, value: value})
}

func (in *mergeInner) OnError(ctx context.Context, err error) {
	if !atomic.CompareAndSwapInt32(&in.done, 0, 1) {
		return
	}
	in.parent.fail(ctx, err)
}

func (in *mergeInner) OnComplete(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&in.done, 0, 1) {
		return
	}

	in.parent.mu.Lock()
	delete(in.parent.inners, in)
	in.parent.mu.Unlock()

	in.parent.complete(ctx)
}

func (in *mergeInner) cancel() {
	in.mu.Lock()
	in.cancelled = true
	upstream := in.upstream
	in.mu.Unlock()

	if upstream != nil {
		upstream.Cancel()
	}
}
