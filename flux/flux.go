/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package flux

import (
	"context"
	"github.com/tryfix/kflux/flux/processors"
	"github.com/tryfix/kflux/flux/scheduler"
	"github.com/tryfix/kflux/flux/topology"
)

type FlatMapFunc func(ctx context.Context, value interface{}) (Flux, error)

// Flux is a declared pipeline. Operators return a new Flux wrapping the receiver;
// nothing executes until Subscribe.
type Flux interface {
	Node() *topology.Node
	// Plan resolves the scheduler of every position without activating the pipeline.
	Plan() (*topology.Plan, error)
	Publisher() topology.Publisher

	Map(f processors.MapFunc) Flux
	DoOnNext(f processors.PeekFunc) Flux
	Filter(f processors.FilterFunc) Flux
	FlatMap(f FlatMapFunc) Flux
	// GroupBy emits a *GroupedFlux for every distinct key.
	GroupBy(f processors.KeyFunc) Flux
	Collect(supplier processors.SupplierFunc, reducer processors.ReduceFunc) Flux
	CollectList() Flux
	Count() Flux

	PublishOn(s scheduler.Scheduler) Flux
	SubscribeOn(s scheduler.Scheduler) Flux

	Subscribe(ctx context.Context, onNext OnNextFunc, opts ...SubscribeOption) Disposable
	SubscribeWith(ctx context.Context, sub topology.Subscriber)
}

type flux struct {
	node      *topology.Node
	publisher topology.Publisher
}

func newFlux(node *topology.Node, publisher topology.Publisher) *flux {
	return &flux{node: node, publisher: publisher}
}

func (f *flux) Node() *topology.Node {
	return f.node
}

func (f *flux) Plan() (*topology.Plan, error) {
	return topology.Resolve(topology.NewSink(f.node, `subscriber`))
}

func (f *flux) Publisher() topology.Publisher {
	return f.publisher
}

func (f *flux) Map(mapper processors.MapFunc) Flux {
	return newFlux(topology.NewTransform(f.node, `map`), &processors.Map{
		Upstream: f.publisher,
		MapFunc:  mapper,
	})
}

func (f *flux) DoOnNext(peek processors.PeekFunc) Flux {
	return newFlux(topology.NewTransform(f.node, `doOnNext`), &processors.Peek{
		Upstream: f.publisher,
		PeekFunc: peek,
	})
}

func (f *flux) Filter(filter processors.FilterFunc) Flux {
	return newFlux(topology.NewTransform(f.node, `filter`), &processors.Filter{
		Upstream:   f.publisher,
		FilterFunc: filter,
	})
}

func (f *flux) FlatMap(mapper FlatMapFunc) Flux {
	return newFlux(topology.NewTransform(f.node, `flatMap`), &processors.FlatMap{
		Upstream: f.publisher,
		FlatMapFunc: func(ctx context.Context, value interface{}) (topology.Publisher, error) {
			inner, err := mapper(ctx, value)
			if err != nil || inner == nil {
				return nil, err
			}
			return inner.Publisher(), nil
		},
	})
}

func (f *flux) GroupBy(keyFunc processors.KeyFunc) Flux {
	node := topology.NewTransform(f.node, `groupBy`)
	return newFlux(node, &processors.Map{
		Upstream: &processors.GroupBy{
			Upstream: f.publisher,
			KeyFunc:  keyFunc,
		},
		MapFunc: func(ctx context.Context, value interface{}) (interface{}, error) {
			return newGroupedFlux(node, value.(*processors.Group)), nil
		},
	})
}

func (f *flux) Collect(supplier processors.SupplierFunc, reducer processors.ReduceFunc) Flux {
	return newFlux(topology.NewTransform(f.node, `collect`), &processors.Collect{
		Upstream:   f.publisher,
		Supplier:   supplier,
		ReduceFunc: reducer,
	})
}

// CollectList emits every element in a single []interface{}.
func (f *flux) CollectList() Flux {
	return f.Collect(func() interface{} {
		return make([]interface{}, 0)
	}, func(ctx context.Context, container, value interface{}) (interface{}, error) {
		return append(container.([]interface{}), value), nil
	})
}

// Count emits the number of elements as an int64.
func (f *flux) Count() Flux {
	return f.Collect(func() interface{} {
		return int64(0)
	}, func(ctx context.Context, container, value interface{}) (interface{}, error) {
		return container.(int64) + 1, nil
	})
}

func (f *flux) PublishOn(s scheduler.Scheduler) Flux {
	return newFlux(topology.NewBoundary(f.node, topology.BoundaryPublishOn, s), &processors.PublishOn{
		Upstream:  f.publisher,
		Scheduler: s,
	})
}

func (f *flux) SubscribeOn(s scheduler.Scheduler) Flux {
	return newFlux(topology.NewBoundary(f.node, topology.BoundarySubscribeOn, s), &processors.SubscribeOn{
		Upstream:  f.publisher,
		Scheduler: s,
	})
}

// SubscribeWith activates the pipeline with a custom terminal subscriber.
func (f *flux) SubscribeWith(ctx context.Context, sub topology.Subscriber) {
	f.publisher.Subscribe(newActivation(ctx), sub)
}

// GroupedFlux is the sub stream of a single key emitted by GroupBy. It can be
// subscribed once; elements arriving before that are buffered.
type GroupedFlux struct {
	Flux
	group *processors.Group
}

func newGroupedFlux(groupBy *topology.Node, group *processors.Group) *GroupedFlux {
	node := topology.NewSource(`group`, map[string]string{
		`groupBy`: groupBy.Name,
	})

	return &GroupedFlux{
		Flux:  newFlux(node, group),
		group: group,
	}
}

func (g *GroupedFlux) Key() interface{} {
	return g.group.Key()
}
