package flux

import (
	"fmt"
	"github.com/tryfix/kflux/flux/sources"
	"github.com/tryfix/kflux/flux/topology"
)

// Range emits count consecutive integers starting at start.
func Range(start, count int) Flux {
	return newFlux(topology.NewSource(`range`, map[string]string{
		`start`: fmt.Sprint(start),
		`count`: fmt.Sprint(count),
	}), &sources.Range{Start: start, Count: count})
}

func Just(values ...interface{}) Flux {
	return FromSlice(values)
}

func FromSlice(values []interface{}) Flux {
	return newFlux(topology.NewSource(`slice`, map[string]string{
		`length`: fmt.Sprint(len(values)),
	}), &sources.Slice{Values: values})
}

// Create hands an Emitter to fn on the activating goroutine. The emitter can be
// used from any goroutine.
func Create(fn sources.CreateFunc) Flux {
	return newFlux(topology.NewSource(`create`, nil), &sources.Create{CreateFunc: fn})
}

// Generate calls fn repeatedly on the activating goroutine, each call may emit one element.
func Generate(fn sources.GenerateFunc) Flux {
	return newFlux(topology.NewSource(`generate`, nil), &sources.Generate{GenerateFunc: fn})
}

func Empty() Flux {
	return newFlux(topology.NewSource(`empty`, nil), sources.Empty{})
}

func Error(err error) Flux {
	return newFlux(topology.NewSource(`error`, map[string]string{
		`error`: err.Error(),
	}), &sources.Error{Err: err})
}

// From wraps an arbitrary Publisher as a pipeline source.
func From(name string, publisher topology.Publisher) Flux {
	return newFlux(topology.NewSource(name, nil), publisher)
}
