package kafka

import (
	"github.com/Shopify/sarama"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
	"reflect"
	"testing"
)

func newClusterAdmin(t *testing.T, handlers map[string]sarama.MockResponse) sarama.ClusterAdmin {
	seedBroker := sarama.NewMockBroker(t, 1)
	t.Cleanup(seedBroker.Close)

	metadata := sarama.NewMockMetadataResponse(t).
		SetController(seedBroker.BrokerID()).
		SetLeader(`existing`, 0, seedBroker.BrokerID()).
		SetBroker(seedBroker.Addr(), seedBroker.BrokerID())

	handlers[`MetadataRequest`] = metadata
	seedBroker.SetHandlerByMap(handlers)

	config := sarama.NewConfig()
	config.Version = sarama.V1_0_0_0
	admin, err := sarama.NewClusterAdmin([]string{seedBroker.Addr()}, config)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := admin.Close(); err != nil {
			t.Error(err)
		}
	})

	return admin
}

func TestEnsureTopics(t *testing.T) {
	admin := newClusterAdmin(t, map[string]sarama.MockResponse{
		`CreateTopicsRequest`: sarama.NewMockCreateTopicsResponse(t),
	})

	created, err := EnsureTopics(admin, log.NewNoopLogger(),
		&Topic{Name: `existing`, NumPartitions: 1, ReplicationFactor: 1},
		&Topic{Name: `enriched`, NumPartitions: 3, ReplicationFactor: 1, ConfigEntries: map[string]string{
			`retention.ms`: `3600000`,
		}})
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(created, []string{`enriched`}) {
		t.Errorf(`want [enriched], have %v`, created)
	}
}

type topicAdmin struct {
	metadataErr error
	createErr   error
	created     []string
}

func (a *topicAdmin) DescribeTopics(topics []string) ([]*sarama.TopicMetadata, error) {
	return nil, a.metadataErr
}

func (a *topicAdmin) CreateTopic(topic string, detail *sarama.TopicDetail, _ bool) error {
	if a.createErr != nil {
		return a.createErr
	}
	a.created = append(a.created, topic)
	return nil
}

func TestEnsureTopics_Errors(t *testing.T) {
	tests := []struct {
		name    string
		admin   *topicAdmin
		wantErr bool
	}{
		{`metadata failure`, &topicAdmin{metadataErr: errors.New(`no controller`)}, true},
		{`create failure`, &topicAdmin{createErr: sarama.ErrInvalidReplicationFactor}, true},
		{`created concurrently`, &topicAdmin{createErr: &sarama.TopicError{Err: sarama.ErrTopicAlreadyExists}}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			created, err := EnsureTopics(test.admin, log.NewNoopLogger(), &Topic{Name: `out`, NumPartitions: 1, ReplicationFactor: 1})
			if (err != nil) != test.wantErr {
				t.Errorf(`want error %t, have %v`, test.wantErr, err)
			}
			if len(created) != 0 {
				t.Errorf(`unexpected topics created %v`, created)
			}
		})
	}
}
