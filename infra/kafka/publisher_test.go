package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaramaProducerPublish(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	mock := mocks.NewSyncProducer(t, cfg)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"type":"fill"}` {
			return errors.New("unexpected payload")
		}
		return nil
	})
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := newSaramaProducer(mock, "dex.events")
	require.NoError(t, p.Publish(context.Background(), []byte("1"), []byte(`{"type":"fill"}`)))
	assert.ErrorIs(t, p.Publish(context.Background(), []byte("2"), []byte(`{}`)), sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestSaramaProducerHonoursCancelledContext(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	mock := mocks.NewSyncProducer(t, cfg)
	defer mock.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newSaramaProducer(mock, "dex.events")
	assert.ErrorIs(t, p.Publish(ctx, nil, nil), context.Canceled)
}

func TestNewPublisher(t *testing.T) {
	_, err := NewPublisher(ClientKafkaGo, nil, "topic")
	assert.Error(t, err)

	_, err = NewPublisher(ClientKafkaGo, []string{"localhost:9092"}, "")
	assert.Error(t, err)

	_, err = NewPublisher("carrier-pigeon", []string{"localhost:9092"}, "topic")
	assert.Error(t, err)

	p, err := NewPublisher("", []string{"localhost:9092"}, "topic")
	require.NoError(t, err)
	assert.IsType(t, &Producer{}, p)
	require.NoError(t, p.Close())
}
