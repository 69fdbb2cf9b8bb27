/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package processors

import (
	"context"
	"github.com/tryfix/errors"
	"github.com/tryfix/kflux/flux/topology"
	"sync"
	"sync/atomic"
)

// ErrGroupSubscribed is delivered to every subscriber of a Group except the first one.
var ErrGroupSubscribed = errors.New(`group allows only a single subscriber`)

type KeyFunc func(ctx context.Context, value interface{}) (interface{}, error)

// GroupBy partitions upstream elements by key. The first element of a key emits
// a new *Group downstream, the group then receives every element of that key
// in upstream order. Elements reaching a group before it is subscribed are buffered.
type GroupBy struct {
	Upstream topology.Publisher
	KeyFunc  KeyFunc
}

func (g *GroupBy) Subscribe(ctx context.Context, sub topology.Subscriber) {
	g.Upstream.Subscribe(ctx, &grouper{
		downstream: sub,
		keyFunc:    g.KeyFunc,
		groups:     make(map[interface{}]*Group),
	})
}

type grouper struct {
	downstream topology.Subscriber
	keyFunc    KeyFunc
	upstream   topology.Subscription
	done       bool

	mu     sync.Mutex
	groups map[interface{}]*Group
	// open counts groups that are not cancelled
	open      int
	cancelled bool
	released  bool
}

func (g *grouper) OnSubscribe(ctx context.Context, s topology.Subscription) {
	g.upstream = s
	g.downstream.OnSubscribe(ctx, g)
}

func (g *grouper) OnNext(ctx context.Context, value interface{}) {
	if g.done {
		return
	}

	var key interface{}
	err := guard(`groupBy`, func() (err error) {
		key, err = g.keyFunc(ctx, value)
		return err
	})
	if err != nil {
		g.done = true
		g.upstream.Cancel()
		g.failGroups(ctx, err)
		g.downstream.OnError(ctx, err)
		return
	}

	g.mu.Lock()
	group, ok := g.groups[key]
	created := false
	if !ok {
		if g.cancelled {
			g.mu.Unlock()
			return
		}
		group = newGroup(key, g)
		g.groups[key] = group
		g.open++
		created = true
	}
	g.mu.Unlock()

	if created {
		g.downstream.OnNext(ctx, group)
	}

	group.push(ctx, signal{kind: signalNext, value: value})
}

func (g *grouper) OnError(ctx context.Context, err error) {
	if g.done {
		return
	}
	g.done = true
	g.failGroups(ctx, err)
	g.downstream.OnError(ctx, err)
}

func (g *grouper) OnComplete(ctx context.Context) {
	if g.done {
		return
	}
	g.done = true
	for _, group := range g.snapshot() {
		group.push(ctx, signal{kind: signalComplete})
	}
	g.downstream.OnComplete(ctx)
}

func (g *grouper) failGroups(ctx context.Context, err error) {
	for _, group := range g.snapshot() {
		group.push(ctx, signal{kind: signalError, err: err})
	}
}

func (g *grouper) snapshot() []*Group {
	g.mu.Lock()
	defer g.mu.Unlock()

	groups := make([]*Group, 0, len(g.groups))
	for _, group := range g.groups {
		groups = append(groups, group)
	}

	return groups
}

// Cancel stops the emission of new groups and discards every emitted group
// nobody subscribed to. Upstream is cancelled once no subscribed group is live.
func (g *grouper) Cancel() {
	g.mu.Lock()
	if g.cancelled {
		g.mu.Unlock()
		return
	}
	g.cancelled = true
	for _, group := range g.groups {
		if atomic.CompareAndSwapInt32(&group.subscribed, 0, 1) && group.cancel() {
			g.open--
		}
	}
	g.mu.Unlock()

	g.release()
}

// groupCancelled keeps the cancelled group as a tombstone so later elements of
// its key are dropped instead of opening a new group.
func (g *grouper) groupCancelled() {
	g.mu.Lock()
	g.open--
	g.mu.Unlock()

	g.release()
}

func (g *grouper) release() {
	g.mu.Lock()
	cancel := g.cancelled && g.open == 0 && !g.released
	if cancel {
		g.released = true
	}
	g.mu.Unlock()

	if cancel {
		g.upstream.Cancel()
	}
}

// discarded reports whether the group was dropped by a cancelled grouper
// before anyone subscribed.
func (g *grouper) discarded(group *Group) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelled && atomic.LoadInt32(&group.cancelled) == 1
}

// Group is a unicast Publisher of the elements sharing Key.
type Group struct {
	key    interface{}
	parent *grouper
	queue  drainQueue

	mu         sync.Mutex
	subscriber topology.Subscriber

	subscribed int32
	cancelled  int32
	// done is owned by whoever holds the queue
	done bool
}

func newGroup(key interface{}, parent *grouper) *Group {
	return &Group{key: key, parent: parent}
}

func (g *Group) Key() interface{} {
	return g.key
}

func (g *Group) Subscribe(ctx context.Context, sub topology.Subscriber) {
	if !atomic.CompareAndSwapInt32(&g.subscribed, 0, 1) {
		sub.OnSubscribe(ctx, topology.CancelledSubscription)
		if !g.parent.discarded(g) {
			sub.OnError(ctx, ErrGroupSubscribed)
		}
		return
	}

	sub.OnSubscribe(ctx, g)

	g.mu.Lock()
	g.subscriber = sub
	g.mu.Unlock()

	g.drain(ctx)
}

func (g *Group) Cancel() {
	if g.cancel() {
		g.parent.groupCancelled()
	}
}

func (g *Group) cancel() bool {
	if !atomic.CompareAndSwapInt32(&g.cancelled, 0, 1) {
		return false
	}
	g.queue.clear()
	return true
}

func (g *Group) push(ctx context.Context, s signal) {
	if atomic.LoadInt32(&g.cancelled) == 1 {
		return
	}
	g.queue.offer(s)
	g.drain(ctx)
}

func (g *Group) current() topology.Subscriber {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.subscriber
}

// drain delivers buffered signals once a subscriber is present. Without one
// the signals stay queued for the first Subscribe.
func (g *Group) drain(ctx context.Context) {
	if !g.queue.enter() {
		return
	}

	missed := int32(1)
	for {
		if sub := g.current(); sub != nil {
			for {
				s, ok := g.queue.poll()
				if !ok {
					break
				}
				g.deliver(ctx, sub, s)
			}
		}

		missed = g.queue.leave(missed)
		if missed == 0 {
			return
		}
	}
}

func (g *Group) deliver(ctx context.Context, sub topology.Subscriber, s signal) {
	if g.done || atomic.LoadInt32(&g.cancelled) == 1 {
		return
	}

	switch s.kind {
	case signalNext:
		sub.OnNext(ctx, s.value)
	case signalError:
		g.done = true
		sub.OnError(ctx, s.err)
	case signalComplete:
		g.done = true
		sub.OnComplete(ctx)
	}
}
