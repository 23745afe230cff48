package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"drinkshop-backend/internal/domain"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func mockConfig() *sarama.Config {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	return cfg
}

func TestKafkaPublisher_KeysByOrder(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mockConfig())
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "order-1" {
			return fmt.Errorf("unexpected key %q", key)
		}
		if msg.Topic != "order-events" {
			return fmt.Errorf("unexpected topic %q", msg.Topic)
		}
		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var evt domain.OrderEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			return err
		}
		if evt.Type != domain.EventDeliveryAccepted {
			return fmt.Errorf("unexpected type %q", evt.Type)
		}
		return nil
	})

	p := NewKafkaPublisher(producer, "order-events", zaptest.NewLogger(t))
	err := p.Publish(context.Background(), domain.OrderEvent{
		Type:    domain.EventDeliveryAccepted,
		OrderID: "order-1",
		Status:  domain.OrderDelivering,
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mockConfig())
	boom := errors.New("broker down")
	producer.ExpectSendMessageAndFail(boom)

	p := NewKafkaPublisher(producer, "order-events", zaptest.NewLogger(t))
	err := p.Publish(context.Background(), domain.OrderEvent{Type: domain.EventOrderCreated, OrderID: "order-1"})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, p.Close())
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(zaptest.NewLogger(t))
	assert.NoError(t, p.Publish(context.Background(), domain.OrderEvent{Type: domain.EventOrderCreated}))
}
