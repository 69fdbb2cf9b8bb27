package data

import (
	"fmt"
	"github.com/Shopify/sarama"
	"github.com/google/uuid"
	"time"
)

// Record is the element type flowing out of a kafka source and into a kafka sink.
type Record struct {
	Key, Value     []byte
	Topic          string
	Partition      int32
	Offset         int64
	Timestamp      time.Time              // only set if kafka is version 0.10+, inner message timestamp
	BlockTimestamp time.Time              // only set if kafka is version 0.10+, outer (compressed) block timestamp
	Headers        []*sarama.RecordHeader // only set if kafka is version 0.11+
	UUID           uuid.UUID
}

// FromConsumerMessage copies a consumed message into a Record with a fresh UUID.
func FromConsumerMessage(msg *sarama.ConsumerMessage) *Record {
	return &Record{
		Key:            msg.Key,
		Value:          msg.Value,
		Topic:          msg.Topic,
		Partition:      msg.Partition,
		Offset:         msg.Offset,
		Timestamp:      msg.Timestamp,
		BlockTimestamp: msg.BlockTimestamp,
		Headers:        msg.Headers,
		UUID:           uuid.New(),
	}
}

// ProducerMessage builds the message producing r to topic. A zero timestamp is
// replaced by now, partition is only set when positive.
func (r *Record) ProducerMessage(topic string, now time.Time) *sarama.ProducerMessage {
	m := &sarama.ProducerMessage{
		Topic:     topic,
		Key:       sarama.ByteEncoder(r.Key),
		Value:     sarama.ByteEncoder(r.Value),
		Timestamp: now,
	}

	if r.Key == nil {
		m.Key = nil
	}

	for _, header := range r.Headers {
		m.Headers = append(m.Headers, *header)
	}

	if !r.Timestamp.IsZero() {
		m.Timestamp = r.Timestamp
	}

	if r.Partition > 0 {
		m.Partition = r.Partition
	}

	return m
}

// Header returns the value of the first header named key.
func (r *Record) Header(key string) ([]byte, bool) {
	for _, h := range r.Headers {
		if string(h.Key) == key {
			return h.Value, true
		}
	}

	return nil, false
}

func (r *Record) String() string {
	return fmt.Sprintf(`%s_%d_%d`, r.Topic, r.Partition, r.Offset)
}
