package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() OrderEvent {
	return OrderEvent{
		Type:          OrderCreated,
		OrderID:       "o-1",
		OrderNumber:   "ORD-1700000000000-ABC123",
		UserID:        "u-1",
		Status:        "processing",
		PaymentStatus: "paid",
		Total:         decimal.RequireFromString("48.2"),
		OccurredAt:    time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisher(t *testing.T) {
	t.Run("sends json payload", func(t *testing.T) {
		cfg := mocks.NewTestConfig()
		cfg.Producer.Return.Successes = true
		producer := mocks.NewSyncProducer(t, cfg)
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			var got OrderEvent
			if err := json.Unmarshal(val, &got); err != nil {
				return err
			}
			if got.OrderID != "o-1" || got.Type != OrderCreated {
				return errors.New("unexpected payload")
			}
			if !got.Total.Equal(decimal.RequireFromString("48.2")) {
				return errors.New("total not preserved")
			}
			return nil
		})

		p := NewKafkaPublisherWithProducer(producer, "orders")
		require.NoError(t, p.Publish(context.Background(), sampleEvent()))
		require.NoError(t, p.Close())
	})

	t.Run("broker failure", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

		p := NewKafkaPublisherWithProducer(producer, "orders")
		err := p.Publish(context.Background(), sampleEvent())
		assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
		require.NoError(t, p.Close())
	})
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	ev := sampleEvent()
	require.NoError(t, r.Publish(context.Background(), ev))
	ev.Type = OrderCancelled
	require.NoError(t, r.Publish(context.Background(), ev))

	assert.Equal(t, []Type{OrderCreated, OrderCancelled}, r.Types())

	r.Err = errors.New("down")
	assert.Error(t, r.Publish(context.Background(), ev))
	assert.Len(t, r.Events(), 2)
}
