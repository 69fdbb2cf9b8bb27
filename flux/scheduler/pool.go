/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package scheduler

import (
	"context"
	"fmt"
	"github.com/tryfix/log"
	"math/rand"
	"sync"
	"sync/atomic"
)

// pool is a fixed size set of workers. Workers are started on the first
// scheduling request.
type pool struct {
	name    string
	kind    Kind
	size    int
	buffer  int
	order   ExecutionOrder
	workers []*worker
	next    uint32
	mu      *sync.RWMutex
	started bool
	stopped bool
	logger  log.Logger
	metrics *poolMetrics
}

// NewParallel creates a bounded pool of conf.NumOfWorkers workers.
func NewParallel(conf *Config) (Scheduler, error) {
	return newPool(KindParallel, conf)
}

// NewSingle creates a pool with a single dedicated worker. Every task
// scheduled on it is serialized.
func NewSingle(conf *Config) (Scheduler, error) {
	return newPool(KindSingle, conf)
}

func newPool(kind Kind, conf *Config) (*pool, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}

	size := conf.NumOfWorkers
	if kind == KindSingle {
		size = 1
	}

	return &pool{
		name:    conf.Name,
		kind:    kind,
		size:    size,
		buffer:  conf.WorkerBufferSize,
		order:   conf.Order,
		mu:      new(sync.RWMutex),
		logger:  conf.Logger.NewLog(log.Prefixed(fmt.Sprintf(`scheduler-%s`, conf.Name))),
		metrics: newPoolMetrics(conf.Name, conf.MetricsReporter),
	}, nil
}

func (p *pool) Name() string {
	return p.name
}

func (p *pool) Kind() Kind {
	return p.kind
}

func (p *pool) start() {
	p.workers = make([]*worker, p.size)
	for i := 0; i < p.size; i++ {
		p.workers[i] = newWorker(&WorkerMeta{
			Pool: p.name,
			Kind: p.kind,
			Name: fmt.Sprintf(`%s-%d`, p.name, i+1),
			Id:   i + 1,
		}, p.buffer, p.logger, p.metrics)
	}
	p.started = true
	p.metrics.workers.Count(float64(p.size), p.metrics.labels)
	p.logger.Info(fmt.Sprintf(`%d workers started`, p.size))
}

// worker returns the worker at idx, starting the pool on the first call.
func (p *pool) worker(idx int) (*worker, error) {
	p.mu.RLock()
	if p.started {
		defer p.mu.RUnlock()
		return p.workers[idx], nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, ErrSchedulerStopped
	}

	if !p.started {
		p.start()
	}

	return p.workers[idx], nil
}

func (p *pool) pick() int {
	if p.size == 1 {
		return 0
	}

	if p.order == OrderRandom {
		return rand.Intn(p.size)
	}

	return int(atomic.AddUint32(&p.next, 1)-1) % p.size
}

func (p *pool) Schedule(ctx context.Context, t Task, onError ErrorHandler) error {
	return p.scheduleOn(p.pick(), ctx, t, onError)
}

func (p *pool) scheduleOn(idx int, ctx context.Context, t Task, onError ErrorHandler) error {
	w, err := p.worker(idx)
	if err != nil {
		p.metrics.reject()
		return err
	}

	return w.schedule(task{ctx: ctx, run: t, onError: onError})
}

func (p *pool) Worker() Worker {
	return &pooledWorker{pool: p, idx: p.pick()}
}

func (p *pool) Stats() Stats {
	stats := Stats{
		Name: p.name,
		Kind: p.kind.String(),
	}

	p.mu.RLock()
	if p.started && !p.stopped {
		stats.Workers = len(p.workers)
		for _, w := range p.workers {
			stats.Queued += w.queued()
		}
	}
	p.mu.RUnlock()

	p.metrics.fill(&stats)

	return stats
}

func (p *pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.stopped = true

	for _, w := range p.workers {
		w.stop()
	}
	p.metrics.workers.Count(0, p.metrics.labels)
	p.metrics.unRegister()
	p.logger.Info(`scheduler stopped`)
}

// pooledWorker pins a caller to one worker of a bounded pool. Workers are shared
// so Dispose does not release anything.
type pooledWorker struct {
	pool *pool
	idx  int
}

func (w *pooledWorker) Name() string {
	return fmt.Sprintf(`%s-%d`, w.pool.name, w.idx+1)
}

func (w *pooledWorker) Schedule(ctx context.Context, t Task, onError ErrorHandler) error {
	return w.pool.scheduleOn(w.idx, ctx, t, onError)
}

func (w *pooledWorker) Dispose() {}
