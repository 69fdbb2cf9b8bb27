/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package scheduler

import (
	"bytes"
	"fmt"
	"github.com/olekukonko/tablewriter"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
	"sort"
	"sync"
	"time"
)

const (
	ParallelName = `parallel`
	SingleName   = `single`
	ElasticName  = `elastic`
)

type RegistryConfig struct {
	Parallelism      int
	WorkerBufferSize int
	ElasticIdleTTL   time.Duration
	Logger           log.Logger
	MetricsReporter  metrics.Reporter
}

func NewRegistryConfig() *RegistryConfig {
	defaults := NewConfig(ParallelName)
	return &RegistryConfig{
		Parallelism:      defaults.NumOfWorkers,
		WorkerBufferSize: defaults.WorkerBufferSize,
		ElasticIdleTTL:   defaults.IdleTTL,
		Logger:           defaults.Logger,
		MetricsReporter:  defaults.MetricsReporter,
	}
}

// Registry holds the process wide schedulers. The shared parallel, single and
// elastic schedulers are constructed on first use.
type Registry struct {
	config     *RegistryConfig
	schedulers map[string]Scheduler
	mu         *sync.Mutex
	logger     log.Logger
}

func (c *RegistryConfig) validate() error {
	if c.Parallelism < 1 {
		return errors.New(`[Parallelism] should be greater than 0`)
	}

	if c.WorkerBufferSize < 1 {
		return errors.New(`[WorkerBufferSize] should be greater than 0`)
	}

	if c.ElasticIdleTTL <= 0 {
		return errors.New(`[ElasticIdleTTL] should be greater than 0`)
	}

	return nil
}

func NewRegistry(config *RegistryConfig) (*Registry, error) {
	if err := config.validate(); err != nil {
		return nil, errors.WithPrevious(err, `invalid registry config`)
	}

	if config.Logger == nil {
		config.Logger = log.NewNoopLogger()
	}

	if config.MetricsReporter == nil {
		config.MetricsReporter = metrics.NoopReporter()
	}

	return &Registry{
		config:     config,
		schedulers: make(map[string]Scheduler),
		mu:         new(sync.Mutex),
		logger:     config.Logger.NewLog(log.Prefixed(`scheduler-registry`)),
	}, nil
}

func (r *Registry) poolConfig(name string) *Config {
	conf := NewConfig(name)
	conf.NumOfWorkers = r.config.Parallelism
	conf.WorkerBufferSize = r.config.WorkerBufferSize
	conf.IdleTTL = r.config.ElasticIdleTTL
	conf.Logger = r.config.Logger
	conf.MetricsReporter = r.config.MetricsReporter

	return conf
}

func (r *Registry) shared(name string, constructor func(*Config) (Scheduler, error)) Scheduler {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.schedulers[name]; ok {
		return s
	}

	// the registry config is validated up front, a failure here is a bug
	s, err := constructor(r.poolConfig(name))
	if err != nil {
		panic(errors.WithPrevious(err, fmt.Sprintf(`cannot create scheduler [%s]`, name)))
	}

	r.schedulers[name] = s

	return s
}

// Parallel returns the shared bounded scheduler sized to the configured parallelism.
func (r *Registry) Parallel() Scheduler {
	return r.shared(ParallelName, NewParallel)
}

// Single returns the shared single worker scheduler.
func (r *Registry) Single() Scheduler {
	return r.shared(SingleName, NewSingle)
}

// Elastic returns the shared elastic scheduler.
func (r *Registry) Elastic() Scheduler {
	return r.shared(ElasticName, NewElastic)
}

// NewSingle creates and registers a dedicated single worker scheduler.
func (r *Registry) NewSingle(name string) (Scheduler, error) {
	return r.New(name, KindSingle)
}

// New creates and registers a scheduler of the given kind.
func (r *Registry) New(name string, kind Kind) (Scheduler, error) {
	var s Scheduler
	var err error

	switch kind {
	case KindSingle:
		s, err = NewSingle(r.poolConfig(name))
	case KindElastic:
		s, err = NewElastic(r.poolConfig(name))
	default:
		s, err = NewParallel(r.poolConfig(name))
	}
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot create scheduler [%s]`, name))
	}

	if err := r.Register(s); err != nil {
		s.Stop()
		return nil, err
	}

	return s, nil
}

func (r *Registry) Register(s Scheduler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.schedulers[s.Name()]; ok {
		return errors.Errorf(`scheduler [%s] already registered`, s.Name())
	}

	r.schedulers[s.Name()] = s
	r.logger.Info(fmt.Sprintf(`scheduler [%s] registered`, s.Name()))

	return nil
}

func (r *Registry) Get(name string) (Scheduler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.schedulers[name]
	return s, ok
}

func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	for name := range r.schedulers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Stop stops every registered scheduler and empties the registry. Shared
// schedulers are recreated on next use.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, s := range r.schedulers {
		s.Stop()
		delete(r.schedulers, name)
	}
}

func (r *Registry) String() string {
	out := new(bytes.Buffer)
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{`Scheduler`, `Kind`, `Workers`, `Queued`, `Submitted`, `Completed`, `Failed`, `Rejected`})

	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT})
	for _, name := range r.List() {
		s, ok := r.Get(name)
		if !ok {
			continue
		}
		st := s.Stats()
		table.Append([]string{
			st.Name,
			st.Kind,
			fmt.Sprint(st.Workers),
			fmt.Sprint(st.Queued),
			fmt.Sprint(st.Submitted),
			fmt.Sprint(st.Completed),
			fmt.Sprint(st.Failed),
			fmt.Sprint(st.Rejected),
		})
	}
	table.Render()

	return out.String()
}

var defaultRegistry = func() *Registry {
	r, err := NewRegistry(NewRegistryConfig())
	if err != nil {
		log.Fatal(err)
	}
	return r
}()
var defaultMu = new(sync.RWMutex)

// Default returns the process wide registry.
func Default() *Registry {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultRegistry
}

// SetDefault replaces the process wide registry and returns the previous one.
func SetDefault(r *Registry) *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	prev := defaultRegistry
	defaultRegistry = r

	return prev
}

func Parallel() Scheduler {
	return Default().Parallel()
}

func Single() Scheduler {
	return Default().Single()
}

func Elastic() Scheduler {
	return Default().Elastic()
}
