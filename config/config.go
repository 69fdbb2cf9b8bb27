/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package config

import (
	"bytes"
	"github.com/BurntSushi/toml"
	"github.com/Shopify/sarama"
	"github.com/olekukonko/tablewriter"
	"github.com/tryfix/errors"
	"github.com/tryfix/kflux/flux/scheduler"
	"github.com/tryfix/kflux/kafka"
	"github.com/tryfix/kflux/util"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Duration decodes TOML strings such as "30s" or "1m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.WithPrevious(err, `invalid duration`)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d Duration) String() string {
	return d.Duration.String()
}

type Config struct {
	ApplicationId string `toml:"application-id"`
	Log           struct {
		Level    string `toml:"level"`
		Colors   bool   `toml:"colors"`
		FilePath bool   `toml:"file-path"`
	} `toml:"log"`
	Metrics struct {
		Enabled   bool   `toml:"enabled"`
		System    string `toml:"system"`
		Subsystem string `toml:"subsystem"`
	} `toml:"metrics"`
	Schedulers struct {
		Parallelism      int      `toml:"parallelism"`
		WorkerBufferSize int      `toml:"worker-buffer-size"`
		ElasticIdleTTL   Duration `toml:"elastic-idle-ttl"`
	} `toml:"schedulers"`
	Http struct {
		Enabled bool   `toml:"enabled"`
		Host    string `toml:"host"`
	} `toml:"http"`
	Kafka struct {
		BootstrapServers []string `toml:"bootstrap-servers"`
		Source           struct {
			Topic     string `toml:"topic"`
			Partition int32  `toml:"partition"`
			// oldest, newest or an absolute offset
			Offset string `toml:"offset"`
		} `toml:"source"`
		Sink struct {
			Topic             string `toml:"topic"`
			CreateTopic       bool   `toml:"create-topic"`
			Partitions        int32  `toml:"partitions"`
			ReplicationFactor int16  `toml:"replication-factor"`
		} `toml:"sink"`
	} `toml:"kafka"`

	Logger          log.Logger       `toml:"-"`
	MetricsReporter metrics.Reporter `toml:"-"`
}

func NewConfig() *Config {
	c := new(Config)
	c.ApplicationId = `kflux`
	c.Log.Level = `INFO`
	c.Log.Colors = true
	c.Metrics.System = `kflux`
	c.Schedulers.Parallelism = runtime.NumCPU()
	c.Schedulers.WorkerBufferSize = 1024
	c.Schedulers.ElasticIdleTTL = Duration{60 * time.Second}
	c.Http.Host = `:8080`
	c.Kafka.Source.Offset = `oldest`
	c.Kafka.Sink.Partitions = 1
	c.Kafka.Sink.ReplicationFactor = 1
	c.Logger = log.NewNoopLogger()
	c.MetricsReporter = metrics.NoopReporter()

	return c
}

// Load reads the TOML file at path over the defaults.
func Load(path string) (*Config, error) {
	c := NewConfig()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, errors.WithPrevious(err, `cannot decode config file `+path)
	}

	return c, c.init()
}

// Parse reads TOML from data over the defaults.
func Parse(data string) (*Config, error) {
	c := NewConfig()
	if _, err := toml.Decode(data, c); err != nil {
		return nil, errors.WithPrevious(err, `cannot decode config`)
	}

	return c, c.init()
}

func (c *Config) init() error {
	if err := c.validate(); err != nil {
		return err
	}

	c.Logger = log.NewLog(
		log.WithLevel(log.Level(strings.ToUpper(c.Log.Level))),
		log.WithColors(c.Log.Colors),
		log.WithFilePath(c.Log.FilePath),
		log.Prefixed(c.ApplicationId),
	).Log()

	if c.Metrics.Enabled {
		c.MetricsReporter = metrics.PrometheusReporter(metrics.ReporterConf{
			System:      c.Metrics.System,
			Subsystem:   c.Metrics.Subsystem,
			ConstLabels: map[string]string{`application_id`: c.ApplicationId},
		})
	}

	return nil
}

func (c *Config) validate() error {
	if c.ApplicationId == `` {
		return errors.New(`[application-id] cannot be empty`)
	}

	switch strings.ToUpper(c.Log.Level) {
	case `TRACE`, `DEBUG`, `INFO`, `WARN`, `ERROR`, `FATAL`:
	default:
		return errors.Errorf(`unknown log level [%s]`, c.Log.Level)
	}

	if c.Schedulers.Parallelism < 1 {
		return errors.New(`[schedulers.parallelism] should be greater than 0`)
	}

	if c.Schedulers.WorkerBufferSize < 1 {
		return errors.New(`[schedulers.worker-buffer-size] should be greater than 0`)
	}

	if c.Schedulers.ElasticIdleTTL.Duration <= 0 {
		return errors.New(`[schedulers.elastic-idle-ttl] should be positive`)
	}

	if _, err := c.SourceOffset(); err != nil {
		return err
	}

	return nil
}

// SourceOffset resolves kafka.source.offset to a sarama offset.
func (c *Config) SourceOffset() (int64, error) {
	switch strings.ToLower(c.Kafka.Source.Offset) {
	case `oldest`, ``:
		return sarama.OffsetOldest, nil
	case `newest`:
		return sarama.OffsetNewest, nil
	}

	offset, err := strconv.ParseInt(c.Kafka.Source.Offset, 10, 64)
	if err != nil || offset < 0 {
		return 0, errors.Errorf(`invalid [kafka.source.offset] %s`, c.Kafka.Source.Offset)
	}

	return offset, nil
}

// RegistryConfig returns the scheduler registry configuration.
func (c *Config) RegistryConfig() *scheduler.RegistryConfig {
	conf := scheduler.NewRegistryConfig()
	conf.Parallelism = c.Schedulers.Parallelism
	conf.WorkerBufferSize = c.Schedulers.WorkerBufferSize
	conf.ElasticIdleTTL = c.Schedulers.ElasticIdleTTL.Duration
	conf.Logger = c.Logger
	conf.MetricsReporter = c.MetricsReporter

	return conf
}

func (c *Config) SourceConfig() *kafka.SourceConfig {
	conf := kafka.NewSourceConfig()
	conf.Id = c.ApplicationId + `-source`
	conf.BootstrapServers = c.Kafka.BootstrapServers
	conf.Topic = c.Kafka.Source.Topic
	conf.Partition = c.Kafka.Source.Partition
	conf.Offset, _ = c.SourceOffset()
	conf.Logger = c.Logger
	conf.MetricsReporter = c.MetricsReporter

	return conf
}

func (c *Config) SinkConfig() *kafka.SinkConfig {
	conf := kafka.NewSinkConfig()
	conf.Id = c.ApplicationId + `-sink`
	conf.BootstrapServers = c.Kafka.BootstrapServers
	conf.Topic = c.Kafka.Sink.Topic
	conf.CreateTopic.Enabled = c.Kafka.Sink.CreateTopic
	conf.CreateTopic.NumPartitions = c.Kafka.Sink.Partitions
	conf.CreateTopic.ReplicationFactor = c.Kafka.Sink.ReplicationFactor
	conf.Logger = c.Logger
	conf.MetricsReporter = c.MetricsReporter

	return conf
}

func (c *Config) String() string {
	data := util.TaggedStrToMap(``, `toml`, c)

	out := new(bytes.Buffer)
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Config", "Value"})

	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT})
	table.AppendBulk(data)
	table.Render()

	return out.String()
}
