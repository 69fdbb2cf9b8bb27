package processors

import (
	"context"
	"github.com/tryfix/kflux/flux/topology"
)

type SupplierFunc func() interface{}

type ReduceFunc func(ctx context.Context, container, value interface{}) (interface{}, error)

// Collect folds every element into a container and emits the container once,
// right before completing. A pipeline that errors never emits it.
type Collect struct {
	Upstream   topology.Publisher
	Supplier   SupplierFunc
	ReduceFunc ReduceFunc
}

func (c *Collect) Subscribe(ctx context.Context, sub topology.Subscriber) {
	c.Upstream.Subscribe(ctx, &collector{
		downstream: sub,
		supplier:   c.Supplier,
		reduce:     c.ReduceFunc,
	})
}

type collector struct {
	downstream topology.Subscriber
	supplier   SupplierFunc
	reduce     ReduceFunc
	upstream   topology.Subscription
	container  interface{}
	done       bool
}

func (c *collector) OnSubscribe(ctx context.Context, s topology.Subscription) {
	c.upstream = s

	if err := guard(`collect`, func() error {
		c.container = c.supplier()
		return nil
	}); err != nil {
		c.done = true
		s.Cancel()
		c.downstream.OnSubscribe(ctx, s)
		c.downstream.OnError(ctx, err)
		return
	}

	c.downstream.OnSubscribe(ctx, s)
}

func (c *collector) OnNext(ctx context.Context, value interface{}) {
	if c.done {
		return
	}

	err := guard(`collect`, func() (err error) {
		c.container, err = c.reduce(ctx, c.container, value)
		return err
	})
	if err != nil {
		c.done = true
		c.container = nil
		c.upstream.Cancel()
		c.downstream.OnError(ctx, err)
	}
}

func (c *collector) OnError(ctx context.Context, err error) {
	if c.done {
		return
	}
	c.done = true
	c.container = nil
	c.downstream.OnError(ctx, err)
}

func (c *collector) OnComplete(ctx context.Context) {
	if c.done {
		return
	}
	c.done = true
	container := c.container
	c.container = nil
	c.downstream.OnNext(ctx, container)
	c.downstream.OnComplete(ctx)
}
