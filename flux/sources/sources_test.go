package sources

import (
	"context"
	"github.com/tryfix/errors"
	"github.com/tryfix/kflux/flux/topology"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu        sync.Mutex
	sub       topology.Subscription
	values    []interface{}
	err       error
	completed bool
	cancelAt  int
}

func (r *recorder) OnSubscribe(_ context.Context, s topology.Subscription) {
	r.sub = s
}

func (r *recorder) OnNext(_ context.Context, v interface{}) {
	r.mu.Lock()
	r.values = append(r.values, v)
	n := len(r.values)
	r.mu.Unlock()

	if r.cancelAt > 0 && n == r.cancelAt {
		r.sub.Cancel()
	}
}

func (r *recorder) OnError(_ context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recorder) OnComplete(_ context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = true
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

func TestRange(t *testing.T) {
	tests := []struct {
		name     string
		source   topology.Publisher
		want     int
		complete bool
	}{
		{`range`, &Range{Start: 1, Count: 10}, 10, true},
		{`empty range`, &Range{Start: 1, Count: 0}, 0, true},
		{`slice`, &Slice{Values: []interface{}{`a`, `b`}}, 2, true},
		{`empty`, Empty{}, 0, true},
		{`error`, &Error{Err: errors.New(`failed`)}, 0, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec := new(recorder)
			test.source.Subscribe(context.Background(), rec)
			if rec.count() != test.want {
				t.Errorf(`want %d values, have %d`, test.want, rec.count())
			}
			if rec.completed != test.complete {
				t.Errorf(`want completed %v, have %v`, test.complete, rec.completed)
			}
		})
	}
}

func TestRange_Cancel(t *testing.T) {
	rec := &recorder{cancelAt: 3}
	(&Range{Start: 0, Count: 100}).Subscribe(context.Background(), rec)

	if rec.count() != 3 {
		t.Errorf(`want 3 values, have %d`, rec.count())
	}
	if rec.completed {
		t.Error(`cancelled source completed`)
	}
}

func TestRange_Context_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := new(recorder)
	(&Range{Start: 0, Count: 100}).Subscribe(ctx, rec)
	if rec.count() != 0 || rec.completed {
		t.Error(`source emitted under a cancelled context`)
	}
}

func TestCreate_Async(t *testing.T) {
	done := make(chan struct{})
	rec := new(recorder)

	c := &Create{CreateFunc: func(ctx context.Context, emitter Emitter) error {
		go func() {
			defer close(done)
			for i := 0; i < 10; i++ {
				emitter.Next(i)
			}
			emitter.Complete()
			emitter.Next(`late`)
		}()
		return nil
	}}
	c.Subscribe(context.Background(), rec)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal(`emitter goroutine did not finish`)
	}

	if rec.count() != 10 || !rec.completed {
		t.Errorf(`want 10 values and completion, have %d`, rec.count())
	}
}

func TestCreate_Cancel_Hooks(t *testing.T) {
	var hooked bool
	rec := &recorder{cancelAt: 2}

	c := &Create{CreateFunc: func(ctx context.Context, emitter Emitter) error {
		emitter.OnCancel(func() {
			hooked = true
			emitter.Complete()
		})
		for i := 0; emitter.Next(i); i++ {
		}
		return nil
	}}
	c.Subscribe(context.Background(), rec)

	if !hooked {
		t.Error(`cancel hook not invoked`)
	}
	if rec.count() != 2 || rec.completed {
		t.Errorf(`want 2 values without completion, have %d`, rec.count())
	}
}

func TestCreate_Error(t *testing.T) {
	boom := errors.New(`boom`)
	rec := new(recorder)
	(&Create{CreateFunc: func(ctx context.Context, emitter Emitter) error {
		emitter.Next(1)
		return boom
	}}).Subscribe(context.Background(), rec)

	if rec.err != boom {
		t.Errorf(`want boom, have %v`, rec.err)
	}

	rec = new(recorder)
	(&Create{CreateFunc: func(ctx context.Context, emitter Emitter) error {
		panic(`create failed`)
	}}).Subscribe(context.Background(), rec)

	if rec.err == nil {
		t.Error(`panic not reported`)
	}
}

func TestGenerate(t *testing.T) {
	i := 0
	rec := new(recorder)
	(&Generate{GenerateFunc: func(ctx context.Context, sink SynchronousSink) error {
		i++
		sink.Next(i)
		if i == 5 {
			sink.Complete()
		}
		return nil
	}}).Subscribe(context.Background(), rec)

	if rec.count() != 5 || !rec.completed {
		t.Errorf(`want 5 values and completion, have %v`, rec.values)
	}
}

func TestGenerate_Multiple_Next(t *testing.T) {
	rec := new(recorder)
	(&Generate{GenerateFunc: func(ctx context.Context, sink SynchronousSink) error {
		sink.Next(1)
		sink.Next(2)
		return nil
	}}).Subscribe(context.Background(), rec)

	if rec.err != ErrMultipleNext {
		t.Errorf(`want ErrMultipleNext, have %v`, rec.err)
	}
}

func TestGenerate_Cancel(t *testing.T) {
	rec := &recorder{cancelAt: 4}
	(&Generate{GenerateFunc: func(ctx context.Context, sink SynchronousSink) error {
		sink.Next(`tick`)
		return nil
	}}).Subscribe(context.Background(), rec)

	if rec.count() != 4 {
		t.Errorf(`want 4 values, have %d`, rec.count())
	}
}
