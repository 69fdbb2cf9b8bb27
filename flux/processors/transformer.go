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
)

type MapFunc func(ctx context.Context, value interface{}) (interface{}, error)

type FilterFunc func(ctx context.Context, value interface{}) (bool, error)

type PeekFunc func(ctx context.Context, value interface{}) error

// transformFunc returns the value to emit downstream and whether to emit it at all.
type transformFunc func(ctx context.Context, value interface{}) (interface{}, bool, error)

// guard runs f and turns a panic into an error so a failing callback
// terminates the pipeline instead of the goroutine executing it.
func guard(name string, f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf(`%s panicked: %v`, name, r)
		}
	}()

	return f()
}

type Map struct {
	Upstream topology.Publisher
	MapFunc  MapFunc
}

func (m *Map) Subscribe(ctx context.Context, sub topology.Subscriber) {
	m.Upstream.Subscribe(ctx, &transformer{
		name:       `map`,
		downstream: sub,
		transform: func(ctx context.Context, value interface{}) (interface{}, bool, error) {
			out, err := m.MapFunc(ctx, value)
			return out, err == nil, err
		},
	})
}

type Filter struct {
	Upstream   topology.Publisher
	FilterFunc FilterFunc
}

func (f *Filter) Subscribe(ctx context.Context, sub topology.Subscriber) {
	f.Upstream.Subscribe(ctx, &transformer{
		name:       `filter`,
		downstream: sub,
		transform: func(ctx context.Context, value interface{}) (interface{}, bool, error) {
			ok, err := f.FilterFunc(ctx, value)
			return value, ok, err
		},
	})
}

// Peek invokes PeekFunc for every element and forwards it unchanged.
type Peek struct {
	Upstream topology.Publisher
	PeekFunc PeekFunc
}

func (p *Peek) Subscribe(ctx context.Context, sub topology.Subscriber) {
	p.Upstream.Subscribe(ctx, &transformer{
		name:       `doOnNext`,
		downstream: sub,
		transform: func(ctx context.Context, value interface{}) (interface{}, bool, error) {
			if err := p.PeekFunc(ctx, value); err != nil {
				return nil, false, err
			}
			return value, true, nil
		},
	})
}

// transformer is the per subscription state of the one-to-one operators.
// Signals reach it serially, so done needs no synchronization.
type transformer struct {
	name       string
	downstream topology.Subscriber
	transform  transformFunc
	upstream   topology.Subscription
	done       bool
}

func (t *transformer) OnSubscribe(ctx context.Context, s topology.Subscription) {
	t.upstream = s
	t.downstream.OnSubscribe(ctx, s)
}

func (t *transformer) OnNext(ctx context.Context, value interface{}) {
	if t.done {
		return
	}

	var out interface{}
	var emit bool
	err := guard(t.name, func() (err error) {
		out, emit, err = t.transform(ctx, value)
		return err
	})
	if err != nil {
		t.done = true
		t.upstream.Cancel()
		t.downstream.OnError(ctx, err)
		return
	}

	if emit {
		t.downstream.OnNext(ctx, out)
	}
}

func (t *transformer) OnError(ctx context.Context, err error) {
	if t.done {
		return
	}
	t.done = true
	t.downstream.OnError(ctx, err)
}

func (t *transformer) OnComplete(ctx context.Context) {
	if t.done {
		return
	}
	t.done = true
	t.downstream.OnComplete(ctx)
}
