package fluxtest

import (
	"context"
	"github.com/tryfix/errors"
	"github.com/tryfix/kflux/flux"
	"github.com/tryfix/kflux/flux/scheduler"
	"sync"
	"time"
)

var ErrTimeout = errors.New(`pipeline did not terminate in time`)

// Signal is an element observed by a Recorder and the worker that delivered it.
type Signal struct {
	Value  interface{}
	Worker string
}

// Recorder subscribes to a pipeline and keeps everything it receives.
type Recorder struct {
	mu         sync.Mutex
	signals    []Signal
	err        error
	completed  bool
	disposable flux.Disposable
}

func NewRecorder() *Recorder {
	return new(Recorder)
}

// Subscribe activates f with the recorder as the terminal consumer.
func (r *Recorder) Subscribe(ctx context.Context, f flux.Flux) *Recorder {
	d := f.Subscribe(ctx, r.onNext,
		flux.WithErrorHandler(r.onError),
		flux.WithCompleteHandler(r.onComplete))

	r.mu.Lock()
	r.disposable = d
	r.mu.Unlock()

	return r
}

func (r *Recorder) onNext(ctx context.Context, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, Signal{Value: value, Worker: scheduler.CurrentWorker(ctx)})
}

func (r *Recorder) onError(_ context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) onComplete(_ context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = true
}

func (r *Recorder) Signals() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Signal{}, r.signals...)
}

func (r *Recorder) Values() []interface{} {
	var values []interface{}
	for _, s := range r.Signals() {
		values = append(values, s.Value)
	}
	return values
}

// Workers returns the distinct workers that delivered elements, in order of appearance.
func (r *Recorder) Workers() []string {
	seen := make(map[string]bool)
	var workers []string
	for _, s := range r.Signals() {
		if !seen[s.Worker] {
			seen[s.Worker] = true
			workers = append(workers, s.Worker)
		}
	}
	return workers
}

func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

func (r *Recorder) Disposable() flux.Disposable {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disposable
}

// Await joins the pipeline. It returns ErrTimeout when no terminal state is
// reached within timeout.
func (r *Recorder) Await(timeout time.Duration) error {
	select {
	case <-r.Disposable().Done():
		return nil
	case <-time.After(timeout):
		return ErrTimeout
	}
}

// RunBlockingForAtLeast subscribes a Recorder to f and blocks the caller for d,
// giving asynchronous stages time to run.
func RunBlockingForAtLeast(ctx context.Context, f flux.Flux, d time.Duration) *Recorder {
	r := NewRecorder().Subscribe(ctx, f)
	time.Sleep(d)
	return r
}
