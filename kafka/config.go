/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package kafka

import (
	"github.com/Shopify/sarama"
	saramaMetrics "github.com/rcrowley/go-metrics"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
)

func init() {
	// sarama registers its own meters otherwise, metrics go through tryfix/metrics
	saramaMetrics.UseNilMetrics = true
}

type RequiredAcks int

const (
	// NoResponse doesn't send any response, the TCP ACK is all you get.
	NoResponse RequiredAcks = 0

	// WaitForLeader waits for only the local commit to succeed before responding.
	WaitForLeader RequiredAcks = 1

	// WaitForAll waits for all in-sync replicas to commit before responding.
	WaitForAll RequiredAcks = -1
)

func (ack RequiredAcks) String() string {
	a := `NoResponse`

	if ack == WaitForLeader {
		a = `WaitForLeader`
	}

	if ack == WaitForAll {
		a = `WaitForAll`
	}

	return a
}

type Partitioner int

const (
	HashBased Partitioner = iota
	Manual
	Random
)

type SourceConfig struct {
	Id               string
	BootstrapServers []string
	Topic            string
	Partition        int32
	Offset           int64
	Logger           log.Logger
	MetricsReporter  metrics.Reporter
	*sarama.Config
}

func NewSourceConfig() *SourceConfig {
	c := &SourceConfig{
		Id:              `flux-source`,
		Offset:          sarama.OffsetOldest,
		Logger:          log.NewNoopLogger(),
		MetricsReporter: metrics.NoopReporter(),
		Config:          sarama.NewConfig(),
	}
	c.Config.Version = sarama.V2_3_0_0
	c.Consumer.Return.Errors = true
	c.ChannelBufferSize = 100

	return c
}

func (c *SourceConfig) validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}

	if len(c.BootstrapServers) < 1 {
		return errors.New(`kflux.kafka.SourceConfig: BootstrapServers cannot be empty`)
	}

	if c.Topic == `` {
		return errors.New(`kflux.kafka.SourceConfig: Topic cannot be empty`)
	}

	return nil
}

type SinkConfig struct {
	Id               string
	BootstrapServers []string
	Topic            string
	RequiredAcks     RequiredAcks
	Partitioner      Partitioner
	// CreateTopic provisions Topic before the producer starts when Enabled.
	CreateTopic struct {
		Enabled           bool
		NumPartitions     int32
		ReplicationFactor int16
		ConfigEntries     map[string]string
	}
	Logger          log.Logger
	MetricsReporter metrics.Reporter
	*sarama.Config
}

func NewSinkConfig() *SinkConfig {
	c := &SinkConfig{
		Id:              `flux-sink`,
		RequiredAcks:    WaitForAll,
		Partitioner:     HashBased,
		Logger:          log.NewNoopLogger(),
		MetricsReporter: metrics.NoopReporter(),
		Config:          sarama.NewConfig(),
	}
	c.Producer.Return.Errors = true
	c.Producer.Return.Successes = true
	c.Producer.Compression = sarama.CompressionSnappy
	c.Config.Version = sarama.V2_3_0_0
	c.CreateTopic.NumPartitions = 1
	c.CreateTopic.ReplicationFactor = 1

	return c
}

func (c *SinkConfig) validate() error {
	if len(c.BootstrapServers) < 1 {
		return errors.New(`kflux.kafka.SinkConfig: BootstrapServers cannot be empty`)
	}

	if c.Topic == `` {
		return errors.New(`kflux.kafka.SinkConfig: Topic cannot be empty`)
	}

	if c.CreateTopic.Enabled && (c.CreateTopic.NumPartitions < 1 || c.CreateTopic.ReplicationFactor < 1) {
		return errors.New(`kflux.kafka.SinkConfig: CreateTopic needs at least one partition and replica`)
	}

	c.Producer.RequiredAcks = sarama.RequiredAcks(c.RequiredAcks)
	switch c.Partitioner {
	case Manual:
		c.Producer.Partitioner = sarama.NewManualPartitioner
	case Random:
		c.Producer.Partitioner = sarama.NewRandomPartitioner
	default:
		c.Producer.Partitioner = sarama.NewHashPartitioner
	}

	return c.Config.Validate()
}

type Option func(o *options)

type options struct {
	id       string
	logger   log.Logger
	reporter metrics.Reporter
}

func newOptions(id string, opts []Option) *options {
	o := &options{
		id:       id,
		logger:   log.NewNoopLogger(),
		reporter: metrics.NoopReporter(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

func WithId(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetricsReporter(reporter metrics.Reporter) Option {
	return func(o *options) {
		o.reporter = reporter
	}
}
