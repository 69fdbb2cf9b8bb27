/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package kafka

import (
	"fmt"
	"github.com/Shopify/sarama"
	"github.com/tryfix/errors"
	"github.com/tryfix/log"
)

// TopicAdmin is the part of sarama.ClusterAdmin needed to provision sink topics.
type TopicAdmin interface {
	DescribeTopics(topics []string) ([]*sarama.TopicMetadata, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
}

type Topic struct {
	Name              string
	NumPartitions     int32
	ReplicationFactor int16
	ConfigEntries     map[string]string
}

func (t *Topic) detail() *sarama.TopicDetail {
	d := &sarama.TopicDetail{
		NumPartitions:     t.NumPartitions,
		ReplicationFactor: t.ReplicationFactor,
		ConfigEntries:     map[string]*string{},
	}
	for name, value := range t.ConfigEntries {
		v := value
		d.ConfigEntries[name] = &v
	}

	return d
}

// EnsureTopics creates every topic the cluster does not know about yet and
// returns the names of the created ones. Existing topics are left untouched.
func EnsureTopics(admin TopicAdmin, logger log.Logger, topics ...*Topic) ([]string, error) {
	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, t.Name)
	}

	meta, err := admin.DescribeTopics(names)
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot get metadata`)
	}

	existing := make(map[string]bool)
	for _, tp := range meta {
		if tp.Err == sarama.ErrNoError {
			existing[tp.Name] = true
		}
	}

	var created []string
	for _, t := range topics {
		if existing[t.Name] {
			continue
		}

		err := admin.CreateTopic(t.Name, t.detail(), false)
		if err != nil {
			if e, ok := err.(*sarama.TopicError); ok && (e.Err == sarama.ErrTopicAlreadyExists || e.Err == sarama.ErrNoError) {
				logger.Warn(err)
				continue
			}
			return created, errors.WithPrevious(err, fmt.Sprintf(`could not create topic [%s]`, t.Name))
		}

		created = append(created, t.Name)
		logger.Info(fmt.Sprintf(`topic [%s] created with %d partitions`, t.Name, t.NumPartitions))
	}

	return created, nil
}

func ensureSinkTopic(c *SinkConfig) error {
	admin, err := sarama.NewClusterAdmin(c.BootstrapServers, c.Config)
	if err != nil {
		return errors.WithPrevious(err, `cannot get controller`)
	}
	defer func() {
		if err := admin.Close(); err != nil {
			c.Logger.Warn(fmt.Sprintf(`admin cannot close broker : %+v`, err))
		}
	}()

	_, err = EnsureTopics(admin, c.Logger, &Topic{
		Name:              c.Topic,
		NumPartitions:     c.CreateTopic.NumPartitions,
		ReplicationFactor: c.CreateTopic.ReplicationFactor,
		ConfigEntries:     c.CreateTopic.ConfigEntries,
	})

	return err
}
