package kafka

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	ClientKafkaGo = "kafka-go"
	ClientSarama  = "sarama"
)

// NewPublisher picks the client library named by client.
func NewPublisher(client string, brokers []string, topic string) (Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if topic == "" {
		return nil, errors.New("no kafka topic configured")
	}
	switch strings.ToLower(client) {
	case "", ClientKafkaGo:
		return NewProducer(brokers, topic), nil
	case ClientSarama:
		p, err := NewSaramaProducer(brokers, topic)
		if err != nil {
			return nil, errors.Wrap(err, "sarama producer")
		}
		return p, nil
	default:
		return nil, errors.Errorf("unknown kafka client %q", client)
	}
}
