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
	"github.com/tryfix/log"
	"github.com/tryfix/metrics"
	"time"
)

// ErrUnsupportedValue is returned for elements the sink cannot turn into a record.
var ErrUnsupportedValue = errors.New(`unsupported sink value`)

// Sink writes pipeline elements to a topic through a sync producer. Elements
// may be *data.Record, []byte or string.
type Sink struct {
	id       string
	topic    string
	producer sarama.SyncProducer
	logger   log.Logger
	metrics  struct {
		produceLatency      metrics.Observer
		batchProduceLatency metrics.Observer
	}
}

func NewSink(producer sarama.SyncProducer, topic string, opts ...Option) *Sink {
	o := newOptions(`flux-sink`, opts)
	s := &Sink{
		id:       o.id,
		topic:    topic,
		producer: producer,
		logger:   o.logger.NewLog(log.Prefixed(`sink`)),
	}

	labels := []string{`topic`, `partition`}
	s.metrics.produceLatency = o.reporter.Observer(metrics.MetricConf{
		Path:        `kflux_kafka_sink_produced_latency_microseconds`,
		Labels:      labels,
		ConstLabels: map[string]string{`sink_id`: o.id},
	})
	s.metrics.batchProduceLatency = o.reporter.Observer(metrics.MetricConf{
		Path:        `kflux_kafka_sink_batch_produced_latency_microseconds`,
		Labels:      append(labels, `size`),
		ConstLabels: map[string]string{`sink_id`: o.id},
	})

	return s
}

// NewSaramaSink connects a sync producer to the configured cluster.
func NewSaramaSink(c *SinkConfig) (*Sink, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	c.Logger.Info(`sink [` + c.Id + `] initiating...`)
	if c.CreateTopic.Enabled {
		if err := ensureSinkTopic(c); err != nil {
			return nil, errors.WithPrevious(err, fmt.Sprintf(`[%s] init failed`, c.Id))
		}
	}

	producer, err := sarama.NewSyncProducer(c.BootstrapServers, c.Config)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`[%s] init failed`, c.Id))
	}
	defer c.Logger.Info(`sink [` + c.Id + `] initiated`)

	return NewSink(producer, c.Topic,
		WithId(c.Id),
		WithLogger(c.Logger),
		WithMetricsReporter(c.MetricsReporter)), nil
}

// Subscribe activates f with the sink as its terminal consumer. A failed
// produce errors the pipeline.
func (s *Sink) Subscribe(ctx context.Context, f flux.Flux, opts ...flux.SubscribeOption) flux.Disposable {
	return f.Map(s.Produce).Subscribe(ctx, nil, opts...)
}

// SubscribeBatch expects f to emit []interface{} (see Flux.CollectList) and
// produces every slice as a single batch.
func (s *Sink) SubscribeBatch(ctx context.Context, f flux.Flux, opts ...flux.SubscribeOption) flux.Disposable {
	return f.Map(s.ProduceBatch).Subscribe(ctx, nil, opts...)
}

func (s *Sink) message(value interface{}, t time.Time) (*sarama.ProducerMessage, error) {
	switch v := value.(type) {
	case *data.Record:
		return v.ProducerMessage(s.topic, t), nil
	case []byte:
		return (&data.Record{Value: v}).ProducerMessage(s.topic, t), nil
	case string:
		return (&data.Record{Value: []byte(v)}).ProducerMessage(s.topic, t), nil
	}

	return nil, errors.WithPrevious(ErrUnsupportedValue, fmt.Sprintf(`cannot produce %T`, value))
}

// Produce sends a single element and returns the record as written.
func (s *Sink) Produce(ctx context.Context, value interface{}) (interface{}, error) {
	t := time.Now()
	m, err := s.message(value, t)
	if err != nil {
		return nil, err
	}

	partition, offset, err := s.producer.SendMessage(m)
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot send message`)
	}

	s.metrics.produceLatency.Observe(float64(time.Since(t).Nanoseconds()/1e3), map[string]string{
		`topic`:     s.topic,
		`partition`: fmt.Sprint(partition),
	})

	s.logger.TraceContext(ctx, fmt.Sprintf("Delivered message to topic %s [%d] at offset %d",
		s.topic, partition, offset))

	record := &data.Record{
		Topic:     s.topic,
		Partition: partition,
		Offset:    offset,
		Timestamp: m.Timestamp,
	}
	if r, ok := value.(*data.Record); ok {
		record.Key, record.Value, record.Headers, record.UUID = r.Key, r.Value, r.Headers, r.UUID
	}

	return record, nil
}

// ProduceBatch sends every element of a []interface{} in a single request.
func (s *Sink) ProduceBatch(ctx context.Context, value interface{}) (interface{}, error) {
	values, ok := value.([]interface{})
	if !ok {
		return nil, errors.WithPrevious(ErrUnsupportedValue, fmt.Sprintf(`cannot produce batch of %T`, value))
	}

	if len(values) == 0 {
		return 0, nil
	}

	t := time.Now()
	messages := make([]*sarama.ProducerMessage, 0, len(values))
	for _, v := range values {
		m, err := s.message(v, t)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	if err := s.producer.SendMessages(messages); err != nil {
		return nil, errors.WithPrevious(err, `cannot produce batch`)
	}

	partition := fmt.Sprint(messages[0].Partition)
	s.metrics.batchProduceLatency.Observe(float64(time.Since(t).Nanoseconds()/1e3), map[string]string{
		`topic`:     s.topic,
		`partition`: partition,
		`size`:      fmt.Sprint(len(messages)),
	})
	s.logger.TraceContext(ctx, fmt.Sprintf("message bulk delivered %s[%s]", s.topic, partition))

	return len(messages), nil
}

func (s *Sink) Close() error {
	defer s.logger.Info(fmt.Sprintf(`sink [%s] closed`, s.id))
	s.metrics.produceLatency.UnRegister()
	s.metrics.batchProduceLatency.UnRegister()
	return s.producer.Close()
}
