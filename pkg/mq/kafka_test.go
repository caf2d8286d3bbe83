package mq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	topic string
	key   string
	value interface{}
}

func (c *captureSender) SendMessage(_ context.Context, topic string, key string, value interface{}) error {
	c.topic, c.key, c.value = topic, key, value
	return nil
}

func TestDeadLetterQueueSend(t *testing.T) {
	t.Parallel()

	sender := &captureSender{}
	dlq := NewDeadLetterQueue(sender, "risk.dlq")
	msg := &Message{Topic: "trade_executed", Key: "T-1", Value: []byte(`{"bad":`), Offset: 7, Time: time.Unix(0, 0)}

	require.NoError(t, dlq.Send(context.Background(), msg, "decode", errors.New("unexpected EOF")))

	assert.Equal(t, "risk.dlq", sender.topic)
	assert.Equal(t, "T-1", sender.key)
	payload, ok := sender.value.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "trade_executed", payload["original_topic"])
	assert.Equal(t, "decode", payload["failure_reason"])
	assert.Equal(t, "unexpected EOF", payload["failure_error"])
}

func TestUnmarshalPayload(t *testing.T) {
	t.Parallel()

	var out struct {
		Symbol string `json:"symbol"`
	}
	m := &Message{Value: []byte(`{"symbol":"AAPL"}`)}
	require.NoError(t, m.UnmarshalPayload(&out))
	assert.Equal(t, "AAPL", out.Symbol)
}

func TestConstructorsRequireBrokers(t *testing.T) {
	t.Parallel()

	_, err := NewProducer(KafkaConfig{})
	assert.Error(t, err)
	_, err = NewConsumer(KafkaConfig{Brokers: []string{"localhost:9092"}}, "t")
	assert.Error(t, err)
}
