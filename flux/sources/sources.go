/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package sources

import (
	"context"
	"github.com/tryfix/kflux/flux/topology"
	"sync/atomic"
)

// subscription is the cancel flag every source checks before an emission.
type subscription struct {
	cancelled int32
	onCancel  func()
}

func (s *subscription) Cancel() {
	if !atomic.CompareAndSwapInt32(&s.cancelled, 0, 1) {
		return
	}
	if s.onCancel != nil {
		s.onCancel()
	}
}

// stopped reports a cancel by the subscriber or of the activation context.
func (s *subscription) stopped(ctx context.Context) bool {
	return atomic.LoadInt32(&s.cancelled) == 1 || ctx.Err() != nil
}

// Range emits Count consecutive integers starting at Start.
type Range struct {
	Start int
	Count int
}

func (r *Range) Subscribe(ctx context.Context, sub topology.Subscriber) {
	s := new(subscription)
	sub.OnSubscribe(ctx, s)

	for i := 0; i < r.Count; i++ {
		if s.stopped(ctx) {
			return
		}
		sub.OnNext(ctx, r.Start+i)
	}

	if s.stopped(ctx) {
		return
	}
	sub.OnComplete(ctx)
}

// Slice emits Values in order.
type Slice struct {
	Values []interface{}
}

func (sl *Slice) Subscribe(ctx context.Context, sub topology.Subscriber) {
	s := new(subscription)
	sub.OnSubscribe(ctx, s)

	for _, v := range sl.Values {
		if s.stopped(ctx) {
			return
		}
		sub.OnNext(ctx, v)
	}

	if s.stopped(ctx) {
		return
	}
	sub.OnComplete(ctx)
}

// Empty completes without emitting.
type Empty struct{}

func (Empty) Subscribe(ctx context.Context, sub topology.Subscriber) {
	sub.OnSubscribe(ctx, new(subscription))
	sub.OnComplete(ctx)
}

// Error fails every subscriber with Err.
type Error struct {
	Err error
}

func (e *Error) Subscribe(ctx context.Context, sub topology.Subscriber) {
	sub.OnSubscribe(ctx, new(subscription))
	sub.OnError(ctx, e.Err)
}
