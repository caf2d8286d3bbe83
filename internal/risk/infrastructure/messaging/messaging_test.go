package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/mq"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus()
	var got []domain.SystemAlertEvent
	sub, err := bus.Subscribe(domain.TopicSystemAlert, func(_ context.Context, e domain.Event) error {
		var ev domain.SystemAlertEvent
		require.NoError(t, json.Unmarshal(e.Payload, &ev))
		got = append(got, ev)
		return errors.New("handler errors are not returned to publishers")
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), domain.TopicSystemAlert, domain.SystemAlertEvent{Source: "gw", Severity: domain.SeverityLow}))
	require.NoError(t, bus.Publish(context.Background(), domain.TopicTradeExecuted, domain.TradeExecutedEvent{TradeID: "t"}))
	require.Len(t, got, 1)
	assert.Equal(t, "gw", got[0].Source)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, bus.Publish(context.Background(), domain.TopicSystemAlert, domain.SystemAlertEvent{}))
	assert.Len(t, got, 1)

	_, err = bus.Subscribe("x", nil)
	assert.Error(t, err)
	assert.Error(t, bus.Publish(context.Background(), "x", func() {}))
}

type sentMessage struct {
	topic string
	key   string
	value any
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *fakeSender) SendMessage(_ context.Context, topic, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{topic, key, value})
	return nil
}

func (s *fakeSender) topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		out = append(out, m.topic)
	}
	return out
}

type fakeConsumer struct {
	msgs      chan *mq.Message
	mu        sync.Mutex
	committed []int64
	closed    bool
}

func newFakeConsumer(msgs ...*mq.Message) *fakeConsumer {
	c := &fakeConsumer{msgs: make(chan *mq.Message, len(msgs))}
	for _, m := range msgs {
		c.msgs <- m
	}
	return c
}

func (c *fakeConsumer) FetchMessage(ctx context.Context) (*mq.Message, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConsumer) CommitMessages(_ context.Context, msgs ...*mq.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		c.committed = append(c.committed, m.Offset)
	}
	return nil
}

func (c *fakeConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConsumer) commits() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.committed...)
}

func TestKafkaEventBus_PublishUsesPrefixAndKey(t *testing.T) {
	sender := &fakeSender{}
	bus := NewKafkaEventBus(sender, nil, KafkaBusOptions{TopicPrefix: "trading."})

	ev := domain.RiskViolationEvent{Violation: domain.RiskViolation{Type: domain.ViolationConcentrationExceeded, AssetAffected: "BTC-USD"}}
	require.NoError(t, bus.Publish(context.Background(), domain.TopicRiskViolation, ev))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "trading.risk_violation", sender.sent[0].topic)
	assert.Equal(t, "CONCENTRATION_EXCEEDED:BTC-USD", sender.sent[0].key)
}

func TestKafkaEventBus_ConsumeCommitsAndDeadLetters(t *testing.T) {
	sender := &fakeSender{}
	good, _ := json.Marshal(domain.MarketDataUpdateEvent{Symbol: "ETH-USD", Price: decimal.NewFromInt(10)})
	consumer := newFakeConsumer(
		&mq.Message{Topic: "trading.market_data_update", Offset: 1, Value: good},
		&mq.Message{Topic: "trading.market_data_update", Offset: 2, Value: []byte("{broken")},
	)
	var requested string
	bus := NewKafkaEventBus(sender, func(topic string) (Consumer, error) {
		requested = topic
		return consumer, nil
	}, KafkaBusOptions{TopicPrefix: "trading.", MaxAttempts: 2, RetryDelay: time.Millisecond, DeadLetterTopic: "risk_dlq"})

	var mu sync.Mutex
	attempts := map[int]int{}
	sub, err := bus.Subscribe(domain.TopicMarketDataUpdate, func(_ context.Context, e domain.Event) error {
		var ev domain.MarketDataUpdateEvent
		err := json.Unmarshal(e.Payload, &ev)
		mu.Lock()
		defer mu.Unlock()
		attempts[len(e.Payload)]++
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "trading.market_data_update", requested)

	require.Eventually(t, func() bool { return len(consumer.commits()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []int64{1, 2}, consumer.commits())
	assert.Equal(t, []string{"trading.risk_dlq"}, sender.topics())

	mu.Lock()
	assert.Equal(t, 2, attempts[len("{broken")])
	mu.Unlock()

	require.NoError(t, sub.Unsubscribe())
	assert.True(t, consumer.closed)
}

func TestKafkaEventBus_SubscribeFailure(t *testing.T) {
	bus := NewKafkaEventBus(&fakeSender{}, func(string) (Consumer, error) {
		return nil, io.ErrClosedPipe
	}, KafkaBusOptions{})
	_, err := bus.Subscribe(domain.TopicTradeExecuted, func(context.Context, domain.Event) error { return nil })
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

type fakeMirror struct {
	domain.SnapshotStore
	saved []domain.BreakerStatus
	err   error
}

func (m *fakeMirror) SaveBreakerStatus(_ context.Context, s domain.BreakerStatus) error {
	m.saved = append(m.saved, s)
	return m.err
}

func TestBreakerAdapters(t *testing.T) {
	bus := NewMemoryBus()
	var commands []domain.CancelAllOrdersCommand
	var records []domain.BreakerAuditRecord
	_, _ = bus.Subscribe(domain.TopicOrderCommands, func(_ context.Context, e domain.Event) error {
		var c domain.CancelAllOrdersCommand
		require.NoError(t, json.Unmarshal(e.Payload, &c))
		commands = append(commands, c)
		return nil
	})
	_, _ = bus.Subscribe(domain.TopicCircuitBreaker, func(_ context.Context, e domain.Event) error {
		var r domain.BreakerAuditRecord
		require.NoError(t, json.Unmarshal(e.Payload, &r))
		records = append(records, r)
		return nil
	})

	mirror := &fakeMirror{}
	breaker := domain.NewCircuitBreaker(nil, NewBusOrderCanceller(bus), NewBusBreakerNotifier(bus, mirror))
	applied, err := breaker.TriggerEmergencyHalt(context.Background(), "daily loss", nil)
	require.NoError(t, err)
	require.True(t, applied)

	require.Len(t, commands, 1)
	assert.Equal(t, "daily loss", commands[0].Reason)
	assert.NotEmpty(t, commands[0].CommandID)
	require.Len(t, records, 1)
	assert.Equal(t, domain.BreakerActionHalt, records[0].Action)
	require.Len(t, mirror.saved, 1)
	assert.True(t, mirror.saved[0].IsHalted)

	mirror.err = errors.New("redis down")
	_, err = breaker.ResumeTrading(context.Background(), "ops")
	require.Error(t, err)
	assert.False(t, breaker.IsTradingHalted())
}
