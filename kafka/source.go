/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package kafka

import (
	"context"
	"fmt"
	"github.com/Shopify/sarama"
	"github.com/tryfix/errors"
	"github.com/tryfix/kflux/data"
	"github.com/tryfix/kflux/flux"
	"github.com/tryfix/kflux/flux/sources"
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
	"sync"
	"time"
)

// Source emits every record of a topic partition starting at offset as a
// *data.Record. The partition consumer is closed when the subscription is
// cancelled; a closed partition completes the pipeline.
func Source(consumer sarama.Consumer, topic string, partition int32, offset int64, opts ...Option) flux.Flux {
	o := newOptions(`flux-source`, opts)
	return flux.Create(func(ctx context.Context, emitter sources.Emitter) error {
		return newPartitionSource(o).consume(ctx, consumer, topic, partition, offset, emitter)
	})
}

// NewSource connects to the configured cluster and returns a Source over the
// configured partition along with the consumer to close on shutdown.
func NewSource(c *SourceConfig) (flux.Flux, sarama.Consumer, error) {
	if err := c.validate(); err != nil {
		return nil, nil, err
	}

	consumer, err := sarama.NewConsumer(c.BootstrapServers, c.Config)
	if err != nil {
		return nil, nil, errors.WithPrevious(err, `new consumer failed `)
	}

	return Source(consumer, c.Topic, c.Partition, c.Offset,
		WithId(c.Id),
		WithLogger(c.Logger),
		WithMetricsReporter(c.MetricsReporter)), consumer, nil
}

type partitionSource struct {
	id      string
	logger  log.Logger
	metrics struct {
		consumed        metrics.Counter
		endToEndLatency metrics.Observer
	}
}

func newPartitionSource(o *options) *partitionSource {
	s := &partitionSource{
		id:     o.id,
		logger: o.logger.NewLog(log.Prefixed(`partition-source`)),
	}

	labels := []string{`topic`, `partition`}
	s.metrics.consumed = o.reporter.Counter(metrics.MetricConf{
		Path:        `kflux_kafka_source_consumed_records`,
		Labels:      labels,
		ConstLabels: map[string]string{`source_id`: o.id},
	})
	s.metrics.endToEndLatency = o.reporter.Observer(metrics.MetricConf{
		Path:        `kflux_kafka_source_end_to_end_latency_microseconds`,
		Labels:      labels,
		ConstLabels: map[string]string{`source_id`: o.id},
	})

	return s
}

func (s *partitionSource) consume(ctx context.Context, consumer sarama.Consumer, topic string, partition int32, offset int64, emitter sources.Emitter) error {
	pConsumer, err := consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		s.cleanUpMetrics()
		return errors.WithPrevious(err, fmt.Sprintf(`cannot initiate partition consumer for %s_%d`, topic, partition))
	}

	closing := make(chan struct{})
	once := new(sync.Once)
	emitter.OnCancel(func() {
		once.Do(func() { close(closing) })
	})

	s.logger.InfoContext(ctx, fmt.Sprintf(`[%s] consuming %s[%d] from offset %d`, s.id, topic, partition, offset))
	go s.consumeRecords(ctx, pConsumer, emitter, closing)

	return nil
}

func (s *partitionSource) consumeRecords(ctx context.Context, pConsumer sarama.PartitionConsumer, emitter sources.Emitter, closing chan struct{}) {
	defer s.close(pConsumer)

	errs := pConsumer.Errors()
	for {
		select {
		case msg, ok := <-pConsumer.Messages():
			if !ok {
				emitter.Complete()
				return
			}

			latency := time.Since(msg.Timestamp).Nanoseconds() / 1e6
			labels := map[string]string{
				`topic`:     msg.Topic,
				`partition`: fmt.Sprint(msg.Partition),
			}
			s.metrics.endToEndLatency.Observe(float64(latency*1e3), labels)
			s.metrics.consumed.Count(1, labels)

			s.logger.TraceContext(ctx, fmt.Sprintf(`message [%d] received after %d miliseconds for %s[%d]`,
				msg.Offset, latency, msg.Topic, msg.Partition))

			if !emitter.Next(data.FromConsumerMessage(msg)) {
				return
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.ErrorContext(ctx, fmt.Sprintf(`partition consumer error %s`, err))
			emitter.Error(errors.WithPrevious(err, `partition consumer failed`))
			return

		case <-closing:
			return
		}
	}
}

func (s *partitionSource) close(pConsumer sarama.PartitionConsumer) {
	s.logger.Info(fmt.Sprintf("[%s] closing... ", s.id))

	if err := pConsumer.Close(); err != nil {
		if errs, ok := err.(sarama.ConsumerErrors); ok {
			for _, er := range errs {
				s.logger.Warn(fmt.Sprintf("partition consumer error while closing [%s] ", er))
			}
		}
		s.logger.Error(fmt.Sprintf("partition consumer close failed [%s] ", err))
	}

	s.cleanUpMetrics()
	s.logger.Info(fmt.Sprintf("[%s] closed", s.id))
}

func (s *partitionSource) cleanUpMetrics() {
	s.metrics.consumed.UnRegister()
	s.metrics.endToEndLatency.UnRegister()
}
