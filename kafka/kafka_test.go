package kafka

import (
	"context"
	"fmt"
	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/tryfix/errors"
	"github.com/tryfix/kflux/data"
	"github.com/tryfix/kflux/flux"
	"sync"
	"testing"
	"time"
)

type reporter struct {
	mu     sync.Mutex
	errors []string
}

func (r *reporter) Errorf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func await(t *testing.T, d flux.Disposable) {
	t.Helper()
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		t.Fatal(`pipeline did not terminate`)
	}
}

func TestSource(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	pc := consumer.ExpectConsumePartition(`events`, 0, sarama.OffsetOldest)
	for i := 0; i < 3; i++ {
		pc.YieldMessage(&sarama.ConsumerMessage{Key: []byte(fmt.Sprint(i)), Value: []byte(`v`)})
	}

	var mu sync.Mutex
	var records []*data.Record
	received := make(chan struct{})

	d := Source(consumer, `events`, 0, sarama.OffsetOldest).Subscribe(context.Background(), func(ctx context.Context, v interface{}) {
		mu.Lock()
		defer mu.Unlock()
		records = append(records, v.(*data.Record))
		if len(records) == 3 {
			close(received)
		}
	})

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal(`records not received`)
	}

	d.Dispose()
	if d.State() != flux.StateCancelled {
		t.Errorf(`want CANCELLED, have %s`, d.State())
	}

	mu.Lock()
	defer mu.Unlock()
	for i, r := range records {
		if r.Topic != `events` || string(r.Key) != fmt.Sprint(i) {
			t.Errorf(`unexpected record %s with key %s`, r, r.Key)
		}
	}
}

func TestSource_Error(t *testing.T) {
	conf := sarama.NewConfig()
	conf.Consumer.Return.Errors = true
	consumer := mocks.NewConsumer(t, conf)
	consumer.ExpectConsumePartition(`events`, 1, sarama.OffsetNewest).
		YieldError(errors.New(`broker gone`))

	d := Source(consumer, `events`, 1, sarama.OffsetNewest).
		Subscribe(context.Background(), nil, flux.WithErrorHandler(func(ctx context.Context, err error) {}))
	await(t, d)

	if d.State() != flux.StateErrored || d.Err() == nil {
		t.Errorf(`want ERRORED, have %s`, d.State())
	}
}

func TestSource_Unknown_Partition(t *testing.T) {
	r := new(reporter)
	consumer := mocks.NewConsumer(r, nil)

	d := Source(consumer, `unknown`, 0, sarama.OffsetOldest).
		Subscribe(context.Background(), nil, flux.WithErrorHandler(func(ctx context.Context, err error) {}))
	await(t, d)

	if d.State() != flux.StateErrored {
		t.Errorf(`want ERRORED, have %s`, d.State())
	}
}

func TestSink(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	for i := 0; i < 3; i++ {
		producer.ExpectSendMessageAndSucceed()
	}

	sink := NewSink(producer, `out`)
	d := sink.Subscribe(context.Background(), flux.Just(`a`, []byte(`b`), &data.Record{Key: []byte(`k`), Value: []byte(`c`)}))
	await(t, d)

	if d.State() != flux.StateCompleted {
		t.Errorf(`want COMPLETED, have %s (%v)`, d.State(), d.Err())
	}

	if err := sink.Close(); err != nil {
		t.Error(err)
	}
}

func TestSink_Produced_Records(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()
	sink := NewSink(producer, `out`)

	out, err := sink.Produce(context.Background(), &data.Record{Key: []byte(`k`), Value: []byte(`v`)})
	if err != nil {
		t.Fatal(err)
	}

	record := out.(*data.Record)
	if record.Topic != `out` || string(record.Key) != `k` {
		t.Errorf(`unexpected record %s`, record)
	}

	if err := sink.Close(); err != nil {
		t.Error(err)
	}
}

func TestSink_Failures(t *testing.T) {
	tests := []struct {
		name   string
		expect func(p *mocks.SyncProducer)
		f      flux.Flux
	}{
		{`broker failure`, func(p *mocks.SyncProducer) {
			p.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
		}, flux.Just(`a`, `b`)},
		{`unsupported value`, func(p *mocks.SyncProducer) {}, flux.Just(42)},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			producer := mocks.NewSyncProducer(t, nil)
			test.expect(producer)
			sink := NewSink(producer, `out`)

			d := sink.Subscribe(context.Background(), test.f, flux.WithErrorHandler(func(ctx context.Context, err error) {}))
			await(t, d)

			if d.State() != flux.StateErrored || d.Err() == nil {
				t.Errorf(`want ERRORED, have %s`, d.State())
			}

			if err := sink.Close(); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestSink_Batch(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	for i := 0; i < 4; i++ {
		producer.ExpectSendMessageAndSucceed()
	}
	sink := NewSink(producer, `out`)

	d := sink.SubscribeBatch(context.Background(), flux.Range(0, 4).
		Map(func(ctx context.Context, v interface{}) (interface{}, error) {
			return fmt.Sprint(v), nil
		}).
		CollectList())
	await(t, d)

	if d.State() != flux.StateCompleted {
		t.Errorf(`want COMPLETED, have %s (%v)`, d.State(), d.Err())
	}

	if err := sink.Close(); err != nil {
		t.Error(err)
	}
}

func TestConfig_Validate(t *testing.T) {
	source := NewSourceConfig()
	if err := source.validate(); err == nil {
		t.Error(`source config without brokers validated`)
	}
	source.BootstrapServers = []string{`localhost:9092`}
	source.Topic = `events`
	if err := source.validate(); err != nil {
		t.Error(err)
	}

	sink := NewSinkConfig()
	sink.BootstrapServers = []string{`localhost:9092`}
	if err := sink.validate(); err == nil {
		t.Error(`sink config without topic validated`)
	}
	sink.Topic = `out`
	sink.Partitioner = Manual
	if err := sink.validate(); err != nil {
		t.Error(err)
	}
	if sink.Producer.RequiredAcks != sarama.WaitForAll {
		t.Errorf(`want WaitForAll, have %d`, sink.Producer.RequiredAcks)
	}

	sink.CreateTopic.Enabled = true
	sink.CreateTopic.NumPartitions = 0
	if err := sink.validate(); err == nil {
		t.Error(`sink config creating a topic without partitions validated`)
	}
}
