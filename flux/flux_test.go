package flux_test

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tryfix/errors"
	"github.com/tryfix/kflux/flux"
	"github.com/tryfix/kflux/flux/fluxtest"
	"github.com/tryfix/kflux/flux/scheduler"
	"github.com/tryfix/kflux/flux/sources"
	"github.com/tryfix/kflux/flux/topology"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const awaitTimeout = 5 * time.Second

func newRegistry(t *testing.T) *scheduler.Registry {
	conf := scheduler.NewRegistryConfig()
	conf.Parallelism = 4
	r, err := scheduler.NewRegistry(conf)
	require.NoError(t, err)
	t.Cleanup(r.Stop)
	return r
}

func identity(_ context.Context, v interface{}) (interface{}, error) {
	return v, nil
}

// stageWorkers records the worker each DoOnNext stage ran on.
type stageWorkers struct {
	mu      sync.Mutex
	workers map[string]map[string]bool
}

func newStageWorkers() *stageWorkers {
	return &stageWorkers{workers: make(map[string]map[string]bool)}
}

func (s *stageWorkers) stage(name string) func(ctx context.Context, v interface{}) error {
	return func(ctx context.Context, v interface{}) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.workers[name] == nil {
			s.workers[name] = make(map[string]bool)
		}
		s.workers[name][scheduler.CurrentWorker(ctx)] = true
		return nil
	}
}

func (s *stageWorkers) of(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var workers []string
	for w := range s.workers[name] {
		workers = append(workers, w)
	}
	return workers
}

func TestNoBoundary_Runs_On_Caller(t *testing.T) {
	ctx := scheduler.WithCaller(context.Background(), `main`)
	stages := newStageWorkers()

	rec := fluxtest.NewRecorder().Subscribe(ctx, flux.Range(1, 10).
		DoOnNext(stages.stage(`source`)).
		Map(identity).
		DoOnNext(stages.stage(`map`)))

	require.NoError(t, rec.Await(awaitTimeout))
	assert.Len(t, rec.Values(), 10)
	assert.Equal(t, []string{`main`}, stages.of(`source`))
	assert.Equal(t, []string{`main`}, stages.of(`map`))
	assert.Equal(t, []string{`main`}, rec.Workers())
}

func TestPublishOn_Switches_Downstream(t *testing.T) {
	registry := newRegistry(t)
	ctx := scheduler.WithCaller(context.Background(), `main`)
	stages := newStageWorkers()

	rec := fluxtest.NewRecorder().Subscribe(ctx, flux.Range(1, 10).
		DoOnNext(stages.stage(`before`)).
		PublishOn(registry.Single()).
		DoOnNext(stages.stage(`after`)))

	require.NoError(t, rec.Await(awaitTimeout))
	assert.Equal(t, []string{`main`}, stages.of(`before`))
	assert.Equal(t, []string{`single-1`}, stages.of(`after`))
	assert.Equal(t, []string{`single-1`}, rec.Workers())

	for i, v := range rec.Values() {
		assert.Equal(t, i+1, v)
	}
}

func TestPublishOn_Chain(t *testing.T) {
	registry := newRegistry(t)
	stages := newStageWorkers()

	rec := fluxtest.NewRecorder().Subscribe(context.Background(), flux.Range(1, 20).
		PublishOn(registry.Parallel()).
		DoOnNext(stages.stage(`parallel`)).
		PublishOn(registry.Single()).
		DoOnNext(stages.stage(`single`)))

	require.NoError(t, rec.Await(awaitTimeout))
	require.Len(t, stages.of(`parallel`), 1)
	assert.Regexp(t, `^parallel-\d+$`, stages.of(`parallel`)[0])
	assert.Equal(t, []string{`single-1`}, stages.of(`single`))
	assert.Len(t, rec.Values(), 20)
}

func TestSubscribeOn_Position_Independent(t *testing.T) {
	registry := newRegistry(t)

	tests := []struct {
		name  string
		build func(s scheduler.Scheduler) flux.Flux
	}{
		{`at source`, func(s scheduler.Scheduler) flux.Flux {
			return flux.Range(1, 5).SubscribeOn(s).Map(identity).Filter(func(ctx context.Context, v interface{}) (bool, error) {
				return true, nil
			})
		}},
		{`in the middle`, func(s scheduler.Scheduler) flux.Flux {
			return flux.Range(1, 5).Map(identity).SubscribeOn(s).Map(identity)
		}},
		{`before sink`, func(s scheduler.Scheduler) flux.Flux {
			return flux.Range(1, 5).Map(identity).Map(identity).SubscribeOn(s)
		}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			stages := newStageWorkers()
			f := test.build(registry.Single()).DoOnNext(stages.stage(`sink`))

			plan, err := f.Plan()
			require.NoError(t, err)
			assert.Equal(t, scheduler.SingleName, plan.Origin)

			rec := fluxtest.NewRecorder().Subscribe(context.Background(), f)
			require.NoError(t, rec.Await(awaitTimeout))
			assert.Equal(t, []string{`single-1`}, stages.of(`sink`))
			assert.Len(t, rec.Values(), 5)
		})
	}
}

func TestSubscribeOn_Twice_Last_Declared_Wins(t *testing.T) {
	registry := newRegistry(t)
	second, err := registry.NewSingle(`second-single`)
	require.NoError(t, err)

	stages := newStageWorkers()
	i := 0
	f := flux.Generate(func(ctx context.Context, sink sources.SynchronousSink) error {
		i++
		sink.Next(i)
		if i == 5 {
			sink.Complete()
		}
		return nil
	}).
		DoOnNext(stages.stage(`source`)).
		SubscribeOn(registry.Single()).
		Map(identity).
		SubscribeOn(second)

	plan, err := f.Plan()
	require.NoError(t, err)
	assert.Equal(t, `second-single`, plan.Origin)

	last := plan.Positions[len(plan.Positions)-1]
	assert.Equal(t, topology.TypeSink, last.Node.Type)
	assert.Equal(t, `second-single`, last.Scheduler)

	rec := fluxtest.NewRecorder().Subscribe(context.Background(), f)
	require.NoError(t, rec.Await(awaitTimeout))
	assert.Equal(t, []string{`second-single-1`}, stages.of(`source`))
	assert.Equal(t, []string{`second-single-1`}, rec.Workers())
}

func TestChangeSchedulers(t *testing.T) {
	registry := newRegistry(t)
	stages := newStageWorkers()

	i := 0
	f := flux.Generate(func(ctx context.Context, sink sources.SynchronousSink) error {
		i++
		sink.Next(i)
		if i == 10 {
			sink.Complete()
		}
		return nil
	}).
		DoOnNext(stages.stage(`generate`)).
		PublishOn(registry.Parallel()).
		DoOnNext(stages.stage(`parallel`)).
		PublishOn(registry.Single()).
		DoOnNext(stages.stage(`single`)).
		SubscribeOn(registry.Elastic())

	rec := fluxtest.NewRecorder().Subscribe(context.Background(), f)
	require.NoError(t, rec.Await(awaitTimeout))

	require.Len(t, stages.of(`generate`), 1)
	assert.Regexp(t, `^elastic-\d+$`, stages.of(`generate`)[0])
	require.Len(t, stages.of(`parallel`), 1)
	assert.Regexp(t, `^parallel-\d+$`, stages.of(`parallel`)[0])
	assert.Equal(t, []string{`single-1`}, stages.of(`single`))
	assert.Len(t, rec.Values(), 10)
}

func TestCollect_Emits_Once(t *testing.T) {
	rec := fluxtest.NewRecorder().Subscribe(context.Background(), flux.Range(1, 5).CollectList())
	require.NoError(t, rec.Await(awaitTimeout))

	require.Len(t, rec.Values(), 1)
	assert.Equal(t, []interface{}{1, 2, 3, 4, 5}, rec.Values()[0])
	assert.True(t, rec.Completed())

	rec = fluxtest.NewRecorder().Subscribe(context.Background(), flux.Empty().Count())
	require.NoError(t, rec.Await(awaitTimeout))
	assert.Equal(t, []interface{}{int64(0)}, rec.Values())
}

func TestFlatMap_Count(t *testing.T) {
	registry := newRegistry(t)

	tests := []struct {
		name  string
		inner func(v int) flux.Flux
	}{
		{`synchronous`, func(v int) flux.Flux {
			return flux.Just(v, v+1)
		}},
		{`asynchronous`, func(v int) flux.Flux {
			return flux.Just(v, v+1).SubscribeOn(registry.Parallel())
		}},
		{`published`, func(v int) flux.Flux {
			return flux.Just(v, v+1).PublishOn(registry.Elastic())
		}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			f := flux.Range(1, 10).FlatMap(func(ctx context.Context, v interface{}) (flux.Flux, error) {
				return test.inner(v.(int)), nil
			}).Count()

			rec := fluxtest.NewRecorder().Subscribe(context.Background(), f)
			require.NoError(t, rec.Await(awaitTimeout))
			assert.Equal(t, []interface{}{int64(20)}, rec.Values())
		})
	}
}

func TestGroupBy_Keys_And_Order(t *testing.T) {
	registry := newRegistry(t)

	var mu sync.Mutex
	groups := make(map[interface{}]*fluxtest.Recorder)

	outer := fluxtest.NewRecorder().Subscribe(context.Background(), flux.Range(0, 10).
		GroupBy(func(ctx context.Context, v interface{}) (interface{}, error) {
			return v.(int) % 2, nil
		}).
		DoOnNext(func(ctx context.Context, v interface{}) error {
			group := v.(*flux.GroupedFlux)
			rec := fluxtest.NewRecorder().Subscribe(ctx, group.PublishOn(registry.Parallel()))
			mu.Lock()
			groups[group.Key()] = rec
			mu.Unlock()
			return nil
		}))

	require.NoError(t, outer.Await(awaitTimeout))
	require.Len(t, groups, 2)

	want := map[interface{}][]interface{}{
		0: {0, 2, 4, 6, 8},
		1: {1, 3, 5, 7, 9},
	}
	for key, rec := range groups {
		require.NoError(t, rec.Await(awaitTimeout))
		assert.Equal(t, want[key], rec.Values(), `group %v`, key)
	}
}

func TestCancel_Stops_Production(t *testing.T) {
	registry := newRegistry(t)
	var produced int32
	var disposable flux.Disposable
	ready := make(chan struct{})

	f := flux.Generate(func(ctx context.Context, sink sources.SynchronousSink) error {
		<-ready
		sink.Next(atomic.AddInt32(&produced, 1))
		return nil
	}).SubscribeOn(registry.Elastic())

	received := int32(0)
	disposable = f.Subscribe(context.Background(), func(ctx context.Context, v interface{}) {
		if atomic.AddInt32(&received, 1) == 5 {
			disposable.Dispose()
		}
	})
	close(ready)

	select {
	case <-disposable.Done():
	case <-time.After(awaitTimeout):
		t.Fatal(`subscription not disposed`)
	}

	assert.Equal(t, flux.StateCancelled, disposable.State())
	assert.Equal(t, int32(5), atomic.LoadInt32(&produced))
	assert.Equal(t, int32(5), atomic.LoadInt32(&received))
}

func TestCancel_Across_Boundary(t *testing.T) {
	registry := newRegistry(t)
	var produced int32

	f := flux.Create(func(ctx context.Context, emitter sources.Emitter) error {
		go func() {
			for !emitter.Cancelled() {
				emitter.Next(atomic.AddInt32(&produced, 1))
				time.Sleep(time.Millisecond)
			}
		}()
		return nil
	}).PublishOn(registry.Parallel())

	rec := fluxtest.RunBlockingForAtLeast(context.Background(), f, 50*time.Millisecond)
	rec.Disposable().Dispose()
	stopped := atomic.LoadInt32(&produced)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, flux.StateCancelled, rec.Disposable().State())
	assert.LessOrEqual(t, atomic.LoadInt32(&produced), stopped+1)
}

func TestContext_Cancel_Disposes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := flux.Create(func(ctx context.Context, emitter sources.Emitter) error {
		return nil
	})

	d := f.Subscribe(ctx, func(ctx context.Context, v interface{}) {})
	assert.Equal(t, flux.StateActivating, d.State())

	cancel()
	select {
	case <-d.Done():
	case <-time.After(awaitTimeout):
		t.Fatal(`context cancel did not dispose`)
	}
	assert.Equal(t, flux.StateCancelled, d.State())
}

func TestErrors(t *testing.T) {
	boom := errors.New(`boom`)

	tests := []struct {
		name string
		f    flux.Flux
		want error
	}{
		{`source`, flux.Error(boom), boom},
		{`map`, flux.Range(1, 5).Map(func(ctx context.Context, v interface{}) (interface{}, error) {
			if v.(int) == 3 {
				return nil, boom
			}
			return v, nil
		}), boom},
		{`flatMap`, flux.Range(1, 5).FlatMap(func(ctx context.Context, v interface{}) (flux.Flux, error) {
			return flux.Error(boom), nil
		}), boom},
		{`group key`, flux.Range(1, 5).GroupBy(func(ctx context.Context, v interface{}) (interface{}, error) {
			return nil, boom
		}), boom},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var handled error
			d := test.f.Subscribe(context.Background(), nil, flux.WithErrorHandler(func(ctx context.Context, err error) {
				handled = err
			}))

			<-d.Done()
			assert.Equal(t, flux.StateErrored, d.State())
			assert.Equal(t, test.want, d.Err())
			assert.Equal(t, test.want, handled)
		})
	}
}

func TestPanic_In_Consumer(t *testing.T) {
	var handled error
	var received int32
	d := flux.Range(1, 5).Subscribe(context.Background(), func(ctx context.Context, v interface{}) {
		atomic.AddInt32(&received, 1)
		panic(`consumer failed`)
	}, flux.WithErrorHandler(func(ctx context.Context, err error) {
		handled = err
	}))

	<-d.Done()
	assert.Equal(t, flux.StateErrored, d.State())
	assert.Error(t, handled)
	assert.Equal(t, int32(1), atomic.LoadInt32(&received))
}

func TestUnhandled_Error(t *testing.T) {
	boom := errors.New(`unhandled`)
	var handled error

	previous := flux.UnhandledErrorHandler
	flux.UnhandledErrorHandler = func(ctx context.Context, err error) {
		handled = err
	}
	defer func() {
		flux.UnhandledErrorHandler = previous
	}()

	d := flux.Error(boom).Subscribe(context.Background(), nil)
	<-d.Done()
	assert.Equal(t, boom, handled)

	handled = nil
	d = flux.Error(boom).Subscribe(context.Background(), nil, flux.WithErrorHandler(nil))
	<-d.Done()
	assert.Equal(t, boom, handled)
}

func TestPublishOn_Exhausted(t *testing.T) {
	conf := scheduler.NewConfig(`tiny`)
	conf.WorkerBufferSize = 1
	tiny, err := scheduler.NewSingle(conf)
	require.NoError(t, err)
	defer tiny.Stop()

	block := make(chan struct{})
	running := make(chan struct{})
	defer close(block)

	require.NoError(t, tiny.Schedule(context.Background(), func(ctx context.Context) error {
		close(running)
		<-block
		return nil
	}, nil))
	<-running
	require.NoError(t, tiny.Schedule(context.Background(), func(ctx context.Context) error { return nil }, nil))

	rec := fluxtest.NewRecorder().Subscribe(context.Background(), flux.Range(1, 10).PublishOn(tiny))
	require.NoError(t, rec.Await(awaitTimeout))
	assert.Equal(t, scheduler.ErrPoolExhausted, rec.Err())
	assert.Empty(t, rec.Values())
}

func TestState_Transitions(t *testing.T) {
	registry := newRegistry(t)
	release := make(chan struct{})
	var states []flux.State
	var d flux.Disposable

	f := flux.Create(func(ctx context.Context, emitter sources.Emitter) error {
		<-release
		emitter.Next(1)
		emitter.Complete()
		return nil
	}).SubscribeOn(registry.Elastic())

	d = f.Subscribe(context.Background(), func(ctx context.Context, v interface{}) {
		states = append(states, d.State())
	})
	assert.Equal(t, flux.StateActivating, d.State())

	close(release)
	<-d.Done()
	assert.Equal(t, []flux.State{flux.StateEmitting}, states)
	assert.Equal(t, flux.StateCompleted, d.State())

	d.Dispose()
	assert.Equal(t, flux.StateCompleted, d.State())
}

func TestActivation_Id(t *testing.T) {
	var ids []string
	d := flux.Range(1, 3).Subscribe(context.Background(), func(ctx context.Context, v interface{}) {
		id, ok := flux.ActivationId(ctx)
		if ok {
			ids = append(ids, id.String())
		}
	})
	<-d.Done()

	require.Len(t, ids, 3)
	assert.Equal(t, ids[0], ids[2])
}
