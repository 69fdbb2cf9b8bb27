/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package scheduler

import (
	"context"
	"github.com/tryfix/errors"
)

// Kind identifies the worker allocation strategy of a Scheduler.
type Kind int

const (
	KindParallel Kind = iota
	KindSingle
	KindElastic
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return `single`
	case KindElastic:
		return `elastic`
	}

	return `parallel`
}

var (
	// ErrPoolExhausted is returned by bounded pools when the selected worker queue is full.
	ErrPoolExhausted = errors.New(`worker pool exhausted`)
	// ErrSchedulerStopped is returned once a scheduler has been stopped.
	ErrSchedulerStopped = errors.New(`scheduler stopped`)
)

// Task is a unit of work executed on a worker. The context carries the
// executing worker, see WorkerFromContext.
type Task func(ctx context.Context) error

// ErrorHandler receives errors (and recovered panics) of a Task.
type ErrorHandler func(ctx context.Context, err error)

// Scheduler owns a pool of workers and accepts tasks without blocking the submitter.
type Scheduler interface {
	Name() string
	Kind() Kind
	// Schedule enqueues the task on any worker of the pool.
	Schedule(ctx context.Context, task Task, onError ErrorHandler) error
	// Worker binds a single worker of the pool. Tasks scheduled through the
	// returned Worker run in submission order.
	Worker() Worker
	Stats() Stats
	Stop()
}

// Worker is a single execution unit bound to a caller.
type Worker interface {
	Name() string
	Schedule(ctx context.Context, task Task, onError ErrorHandler) error
	// Dispose releases the worker back to its pool. Calling it more than once is a noop.
	Dispose()
}

type Stats struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
}
