package sources

import (
	"context"
	"github.com/tryfix/errors"
	"github.com/tryfix/kflux/flux/topology"
)

// ErrMultipleNext is raised when a generator emits more than once in a single round.
var ErrMultipleNext = errors.New(`generator emitted more than one value in a round`)

// SynchronousSink receives at most one value per generator round.
type SynchronousSink interface {
	Next(value interface{})
	Error(err error)
	Complete()
}

type GenerateFunc func(ctx context.Context, sink SynchronousSink) error

// Generate calls GenerateFunc in a loop on the activating goroutine until the
// generator completes, fails or the subscriber cancels.
type Generate struct {
	GenerateFunc GenerateFunc
}

func (g *Generate) Subscribe(ctx context.Context, sub topology.Subscriber) {
	s := new(subscription)
	sub.OnSubscribe(ctx, s)

	sink := &generatorSink{}
	for !s.stopped(ctx) {
		sink.reset()
		err := protect(`generate`, func() error {
			return g.GenerateFunc(ctx, sink)
		})

		switch {
		case err != nil:
			sub.OnError(ctx, err)
			return
		case sink.emitted > 1:
			sub.OnError(ctx, ErrMultipleNext)
			return
		}

		if sink.emitted == 1 {
			sub.OnNext(ctx, sink.value)
		}

		if s.stopped(ctx) {
			return
		}

		if sink.err != nil {
			sub.OnError(ctx, sink.err)
			return
		}

		if sink.completed {
			sub.OnComplete(ctx)
			return
		}
	}
}

type generatorSink struct {
	value     interface{}
	emitted   int
	err       error
	completed bool
}

func (s *generatorSink) reset() {
	s.value = nil
	s.emitted = 0
}

func (s *generatorSink) Next(value interface{}) {
	s.value = value
	s.emitted++
}

func (s *generatorSink) Error(err error) {
	s.err = err
}

func (s *generatorSink) Complete() {
	s.completed = true
}
