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
	"sync"
	"sync/atomic"
	"time"
)

// elastic grows a new worker whenever no idle one is available and reclaims
// workers that stay idle longer than the configured ttl. It never rejects a
// task for capacity reasons.
type elastic struct {
	name    string
	ttl     time.Duration
	mu      *sync.Mutex
	idle    []*worker
	live    map[int]*worker
	counter int
	stopped bool
	evictor *time.Ticker
	quit    chan struct{}
	logger  log.Logger
	metrics *poolMetrics
}

func NewElastic(conf *Config) (Scheduler, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}

	return &elastic{
		name:    conf.Name,
		ttl:     conf.IdleTTL,
		mu:      new(sync.Mutex),
		live:    make(map[int]*worker),
		quit:    make(chan struct{}),
		logger:  conf.Logger.NewLog(log.Prefixed(fmt.Sprintf(`scheduler-%s`, conf.Name))),
		metrics: newPoolMetrics(conf.Name, conf.MetricsReporter),
	}, nil
}

func (e *elastic) Name() string {
	return e.name
}

func (e *elastic) Kind() Kind {
	return KindElastic
}

func (e *elastic) acquire() (*worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return nil, ErrSchedulerStopped
	}

	if n := len(e.idle); n > 0 {
		w := e.idle[n-1]
		e.idle[n-1] = nil
		e.idle = e.idle[:n-1]
		return w, nil
	}

	if e.evictor == nil {
		interval := e.ttl / 2
		if interval <= 0 {
			interval = e.ttl
		}
		e.evictor = time.NewTicker(interval)
		go e.evict(e.evictor)
	}

	e.counter++
	w := newWorker(&WorkerMeta{
		Pool: e.name,
		Kind: KindElastic,
		Name: fmt.Sprintf(`%s-%d`, e.name, e.counter),
		Id:   e.counter,
	}, 0, e.logger, e.metrics)
	e.live[e.counter] = w
	e.metrics.workers.Count(float64(len(e.live)), e.metrics.labels)
	e.logger.Trace(fmt.Sprintf(`worker %s created`, w.meta.Name))

	return w, nil
}

func (e *elastic) release(w *worker) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}

	w.mu.Lock()
	w.lastUsed = time.Now()
	w.mu.Unlock()
	e.idle = append(e.idle, w)
}

func (e *elastic) evict(ticker *time.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-e.quit:
			return
		case now := <-ticker.C:
			e.reclaim(now)
		}
	}
}

func (e *elastic) reclaim(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	kept := e.idle[:0]
	for _, w := range e.idle {
		w.mu.Lock()
		expired := len(w.tasks) == 0 && now.Sub(w.lastUsed) >= e.ttl
		w.mu.Unlock()

		if !expired {
			kept = append(kept, w)
			continue
		}

		w.stop()
		delete(e.live, w.meta.Id)
		e.logger.Trace(fmt.Sprintf(`idle worker %s reclaimed`, w.meta.Name))
	}

	for i := len(kept); i < len(e.idle); i++ {
		e.idle[i] = nil
	}
	e.idle = kept
	e.metrics.workers.Count(float64(len(e.live)), e.metrics.labels)
}

// Schedule runs the task on a worker borrowed for the duration of the task.
func (e *elastic) Schedule(ctx context.Context, t Task, onError ErrorHandler) error {
	w := e.Worker()
	err := w.Schedule(ctx, func(ctx context.Context) error {
		defer w.Dispose()
		return t(ctx)
	}, onError)
	if err != nil {
		w.Dispose()
	}

	return err
}

func (e *elastic) Worker() Worker {
	w, err := e.acquire()
	return &elasticWorker{elastic: e, worker: w, err: err}
}

func (e *elastic) Stats() Stats {
	stats := Stats{
		Name: e.name,
		Kind: KindElastic.String(),
	}

	e.mu.Lock()
	stats.Workers = len(e.live)
	for _, w := range e.live {
		stats.Queued += w.queued()
	}
	e.mu.Unlock()

	e.metrics.fill(&stats)

	return stats
}

func (e *elastic) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	e.stopped = true
	close(e.quit)

	for id, w := range e.live {
		w.stop()
		delete(e.live, id)
	}
	e.idle = nil
	e.metrics.workers.Count(0, e.metrics.labels)
	e.metrics.unRegister()
	e.logger.Info(`scheduler stopped`)
}

// elasticWorker is exclusively owned until disposed.
type elasticWorker struct {
	elastic  *elastic
	worker   *worker
	err      error
	disposed int32
}

func (w *elasticWorker) Name() string {
	if w.worker == nil {
		return w.elastic.name
	}

	return w.worker.meta.Name
}

func (w *elasticWorker) Schedule(ctx context.Context, t Task, onError ErrorHandler) error {
	if w.err != nil {
		return w.err
	}

	if atomic.LoadInt32(&w.disposed) == 1 {
		return ErrSchedulerStopped
	}

	return w.worker.schedule(task{ctx: ctx, run: t, onError: onError})
}

func (w *elasticWorker) Dispose() {
	if w.worker == nil || !atomic.CompareAndSwapInt32(&w.disposed, 0, 1) {
		return
	}

	w.elastic.release(w.worker)
}
