package scheduler

import (
	"context"
	"github.com/tryfix/traceable-context"
)

var workerMeta = `wk_meta`
var callerMeta = `wk_caller`

// Caller is reported by CurrentWorker when the context was not produced by a worker.
const Caller = `caller`

type WorkerMeta struct {
	Pool string
	Kind Kind
	Name string
	Id   int
}

func WithWorker(parent context.Context, meta *WorkerMeta) context.Context {
	return traceable_context.WithValue(parent, &workerMeta, meta)
}

func WorkerFromContext(ctx context.Context) (*WorkerMeta, bool) {
	meta, ok := ctx.Value(&workerMeta).(*WorkerMeta)
	return meta, ok
}

// WithCaller labels the goroutine that starts an activation, so callbacks
// running without a hand-off can be told apart from pool workers.
func WithCaller(parent context.Context, name string) context.Context {
	return traceable_context.WithValue(parent, &callerMeta, name)
}

// CurrentWorker returns the name of the worker executing under ctx, the caller
// label when there is no worker, or Caller.
func CurrentWorker(ctx context.Context) string {
	if meta, ok := WorkerFromContext(ctx); ok {
		return meta.Name
	}

	if name, ok := ctx.Value(&callerMeta).(string); ok {
		return name
	}

	return Caller
}
