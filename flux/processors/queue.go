/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package processors

import (
	"sync"
	"sync/atomic"
)

type signalKind int

const (
	signalNext signalKind = iota
	signalError
	signalComplete
)

type signal struct {
	kind  signalKind
	value interface{}
	err   error
}

func (s signal) terminal() bool {
	return s.kind != signalNext
}

// drainQueue serializes signals coming from more than one goroutine. Whoever
// moves wip from zero drains the queue until no missed work is left, so only
// one goroutine delivers at a time and signals keep their offer order.
type drainQueue struct {
	mu      sync.Mutex
	signals []signal
	wip     int32
}

func (q *drainQueue) offer(s signal) {
	q.mu.Lock()
	q.signals = append(q.signals, s)
	q.mu.Unlock()
}

func (q *drainQueue) poll() (signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.signals) == 0 {
		return signal{}, false
	}

	s := q.signals[0]
	q.signals[0] = signal{}
	q.signals = q.signals[1:]

	return s, true
}

func (q *drainQueue) clear() {
	q.mu.Lock()
	q.signals = nil
	q.mu.Unlock()
}

func (q *drainQueue) enter() bool {
	return atomic.AddInt32(&q.wip, 1) == 1
}

func (q *drainQueue) leave(missed int32) int32 {
	return atomic.AddInt32(&q.wip, -missed)
}

// drain must only be called by the goroutine that entered.
func (q *drainQueue) drain(deliver func(s signal)) {
	missed := int32(1)
	for {
		for {
			s, ok := q.poll()
			if !ok {
				break
			}
			deliver(s)
		}

		missed = q.leave(missed)
		if missed == 0 {
			return
		}
	}
}
