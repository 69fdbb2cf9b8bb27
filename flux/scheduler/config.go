/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package scheduler

import (
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
	"runtime"
	"time"
)

type ExecutionOrder int

const (
	OrderRoundRobin ExecutionOrder = iota
	OrderRandom
)

func (eo ExecutionOrder) String() string {
	if eo == OrderRandom {
		return `OrderRandom`
	}

	return `OrderRoundRobin`
}

type Config struct {
	Name string
	// NumOfWorkers is ignored by single and elastic pools.
	NumOfWorkers int
	// WorkerBufferSize bounds the task queue of every worker of a bounded pool.
	// Elastic workers are unbounded.
	WorkerBufferSize int
	// Order decides how pool level submissions pick a worker.
	Order ExecutionOrder
	// IdleTTL is the time an idle elastic worker is kept before it is reclaimed.
	IdleTTL         time.Duration
	Logger          log.Logger
	MetricsReporter metrics.Reporter
}

func NewConfig(name string) *Config {
	return &Config{
		Name:             name,
		NumOfWorkers:     runtime.NumCPU(),
		WorkerBufferSize: 1024,
		Order:            OrderRoundRobin,
		IdleTTL:          60 * time.Second,
		Logger:           log.NewNoopLogger(),
		MetricsReporter:  metrics.NoopReporter(),
	}
}

func (c *Config) validate() error {
	if c.Name == `` {
		return errors.New(`[Name] cannot be empty`)
	}

	if c.NumOfWorkers < 1 {
		return errors.New(`[NumOfWorkers] should be greater than 0`)
	}

	if c.WorkerBufferSize < 1 {
		return errors.New(`[WorkerBufferSize] should be greater than 0`)
	}

	if c.Order > OrderRandom || c.Order < OrderRoundRobin {
		return errors.New(`invalid [Order]`)
	}

	if c.IdleTTL <= 0 {
		return errors.New(`[IdleTTL] should be greater than 0`)
	}

	if c.Logger == nil {
		c.Logger = log.NewNoopLogger()
	}

	if c.MetricsReporter == nil {
		c.MetricsReporter = metrics.NoopReporter()
	}

	return nil
}
