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
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
	"regexp"
	"sync"
	"sync/atomic"
	"time"
)

type task struct {
	ctx     context.Context
	run     Task
	onError ErrorHandler
}

type poolMetrics struct {
	labels    map[string]string
	submitted metrics.Counter
	rejected  metrics.Counter
	failed    metrics.Counter
	latency   metrics.Observer
	queued    metrics.Gauge
	workers   metrics.Gauge

	counts struct {
		submitted uint64
		completed uint64
		failed    uint64
		rejected  uint64
	}
}

var metricName = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// newPoolMetrics registers a metric family per pool.
func newPoolMetrics(pool string, reporter metrics.Reporter) *poolMetrics {
	labels := []string{`pool`}
	path := func(name string) string {
		return fmt.Sprintf(`kflux_scheduler_%s_%s`, metricName.ReplaceAllString(pool, `_`), name)
	}

	return &poolMetrics{
		labels:    map[string]string{`pool`: pool},
		submitted: reporter.Counter(metrics.MetricConf{Path: path(`tasks_submitted`), Labels: labels}),
		rejected:  reporter.Counter(metrics.MetricConf{Path: path(`tasks_rejected`), Labels: labels}),
		failed:    reporter.Counter(metrics.MetricConf{Path: path(`tasks_failed`), Labels: labels}),
		latency:   reporter.Observer(metrics.MetricConf{Path: path(`task_latency_microseconds`), Labels: labels}),
		queued:    reporter.Gauge(metrics.MetricConf{Path: path(`worker_queue`), Labels: labels}),
		workers:   reporter.Gauge(metrics.MetricConf{Path: path(`workers`), Labels: labels}),
	}
}

func (m *poolMetrics) submit(queued int) {
	atomic.AddUint64(&m.counts.submitted, 1)
	m.submitted.Count(1, m.labels)
	m.queued.Count(float64(queued), m.labels)
}

func (m *poolMetrics) reject() {
	atomic.AddUint64(&m.counts.rejected, 1)
	m.rejected.Count(1, m.labels)
}

func (m *poolMetrics) done(begin time.Time, failed bool) {
	atomic.AddUint64(&m.counts.completed, 1)
	if failed {
		atomic.AddUint64(&m.counts.failed, 1)
		m.failed.Count(1, m.labels)
	}
	m.latency.Observe(float64(time.Since(begin).Nanoseconds()/1e3), m.labels)
}

func (m *poolMetrics) fill(stats *Stats) {
	stats.Submitted = atomic.LoadUint64(&m.counts.submitted)
	stats.Completed = atomic.LoadUint64(&m.counts.completed)
	stats.Failed = atomic.LoadUint64(&m.counts.failed)
	stats.Rejected = atomic.LoadUint64(&m.counts.rejected)
}

func (m *poolMetrics) unRegister() {
	m.submitted.UnRegister()
	m.rejected.UnRegister()
	m.failed.UnRegister()
	m.latency.UnRegister()
	m.queued.UnRegister()
	m.workers.UnRegister()
}

// worker runs its tasks one at a time in submission order on a dedicated goroutine.
// A limit of zero makes the queue unbounded.
type worker struct {
	meta     *WorkerMeta
	limit    int
	mu       *sync.Mutex
	cond     *sync.Cond
	tasks    []task
	closed   bool
	lastUsed time.Time
	logger   log.Logger
	metrics  *poolMetrics
	exited   chan struct{}
}

func newWorker(meta *WorkerMeta, limit int, logger log.Logger, m *poolMetrics) *worker {
	mu := new(sync.Mutex)
	w := &worker{
		meta:     meta,
		limit:    limit,
		mu:       mu,
		cond:     sync.NewCond(mu),
		lastUsed: time.Now(),
		logger:   logger.NewLog(log.Prefixed(meta.Name)),
		metrics:  m,
		exited:   make(chan struct{}),
	}

	go w.start()

	return w
}

func (w *worker) schedule(t task) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		w.metrics.reject()
		return ErrSchedulerStopped
	}

	if w.limit > 0 && len(w.tasks) >= w.limit {
		w.metrics.reject()
		return ErrPoolExhausted
	}

	w.tasks = append(w.tasks, t)
	w.metrics.submit(len(w.tasks))
	w.cond.Signal()

	return nil
}

func (w *worker) queued() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tasks)
}

func (w *worker) next() (task, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for len(w.tasks) == 0 && !w.closed {
		w.cond.Wait()
	}

	if len(w.tasks) == 0 {
		return task{}, false
	}

	t := w.tasks[0]
	w.tasks[0] = task{}
	w.tasks = w.tasks[1:]

	return t, true
}

func (w *worker) start() {
	defer close(w.exited)

	for {
		t, ok := w.next()
		if !ok {
			return
		}
		w.run(t)
	}
}

func (w *worker) run(t task) {
	ctx := WithWorker(t.ctx, w.meta)
	begin := time.Now()

	err := safeRun(ctx, t.run)
	w.metrics.done(begin, err != nil)
	if err == nil {
		return
	}

	if t.onError == nil {
		w.logger.ErrorContext(ctx, fmt.Sprintf(`task failed due to %s`, err))
		return
	}

	if hErr := safeRun(ctx, func(ctx context.Context) error {
		t.onError(ctx, err)
		return nil
	}); hErr != nil {
		w.logger.ErrorContext(ctx, fmt.Sprintf(`task error handler failed due to %s`, hErr))
	}
}

// stop lets the worker drain what is already queued and exit.
func (w *worker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	w.cond.Broadcast()
}

func safeRun(ctx context.Context, run Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf(`task panicked: %v`, r)
		}
	}()

	return run(ctx)
}
