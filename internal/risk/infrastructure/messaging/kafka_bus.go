package messaging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/wyfcoding/riskguard/internal/risk/domain"
	"github.com/wyfcoding/riskguard/pkg/logger"
	"github.com/wyfcoding/riskguard/pkg/mq"
)

// Consumer 单主题消费者
type Consumer interface {
	FetchMessage(ctx context.Context) (*mq.Message, error)
	CommitMessages(ctx context.Context, messages ...*mq.Message) error
	Close() error
}

// ConsumerFactory 按主题创建消费者
type ConsumerFactory func(topic string) (Consumer, error)

// KafkaBusOptions Kafka 总线参数
type KafkaBusOptions struct {
	// 主题前缀，例如 "trading."
	TopicPrefix string
	// 处理失败后的重试次数（含首次）
	MaxAttempts uint
	RetryDelay  time.Duration
	// 死信主题，为空时失败消息只记录日志
	DeadLetterTopic string
}

// KafkaEventBus 基于 pkg/mq 的事件总线。每个订阅独占一个消费者与一个消费 goroutine，
// 处理成功或转入死信后才提交偏移量。
type KafkaEventBus struct {
	producer    mq.Sender
	newConsumer ConsumerFactory
	dlq         *mq.DeadLetterQueue
	opts        KafkaBusOptions
}

// NewKafkaEventBus 创建 Kafka 总线
func NewKafkaEventBus(producer mq.Sender, newConsumer ConsumerFactory, opts KafkaBusOptions) *KafkaEventBus {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	b := &KafkaEventBus{producer: producer, newConsumer: newConsumer, opts: opts}
	if opts.DeadLetterTopic != "" {
		b.dlq = mq.NewDeadLetterQueue(producer, opts.TopicPrefix+opts.DeadLetterTopic)
	}
	return b
}

// NewKafkaConsumerFactory 使用同一配置为每个主题创建 mq.KafkaConsumer
func NewKafkaConsumerFactory(cfg mq.KafkaConfig) ConsumerFactory {
	return func(topic string) (Consumer, error) {
		return mq.NewConsumer(cfg, topic)
	}
}

func (b *KafkaEventBus) topic(name string) string {
	return b.opts.TopicPrefix + name
}

// Publish 发布 JSON 消息
func (b *KafkaEventBus) Publish(ctx context.Context, topic string, payload any) error {
	return b.producer.SendMessage(ctx, b.topic(topic), eventKey(payload), payload)
}

// Subscribe 创建消费者并启动消费循环
func (b *KafkaEventBus) Subscribe(topic string, handler domain.EventHandler) (domain.Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("nil handler for topic %s", topic)
	}
	consumer, err := b.newConsumer(b.topic(topic))
	if err != nil {
		return nil, fmt.Errorf("create consumer for %s: %w", topic, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &kafkaSubscription{consumer: consumer, cancel: cancel, done: make(chan struct{})}
	go b.consume(ctx, topic, consumer, handler, sub.done)
	return sub, nil
}

func (b *KafkaEventBus) consume(ctx context.Context, topic string, consumer Consumer, handler domain.EventHandler, done chan<- struct{}) {
	defer close(done)
	for {
		msg, err := consumer.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			logger.Warn(ctx, "fetch message failed", "topic", topic, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.opts.RetryDelay):
			}
			continue
		}

		event := domain.Event{Topic: topic, Key: msg.Key, Payload: msg.Value, Time: msg.Time}
		_, herr := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, handler(ctx, event)
		}, backoff.WithBackOff(backoff.NewConstantBackOff(b.opts.RetryDelay)), backoff.WithMaxTries(b.opts.MaxAttempts))
		if herr != nil {
			if ctx.Err() != nil {
				return
			}
			b.deadLetter(ctx, msg, herr)
		}

		if err := consumer.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			logger.Error(ctx, "commit offset failed", "topic", topic, "offset", msg.Offset, "error", err)
		}
	}
}

func (b *KafkaEventBus) deadLetter(ctx context.Context, msg *mq.Message, cause error) {
	logger.Error(ctx, "event handling failed", "topic", msg.Topic, "offset", msg.Offset, "error", cause)
	if b.dlq == nil {
		return
	}
	if err := b.dlq.Send(ctx, msg, "handler failed", cause); err != nil {
		logger.Error(ctx, "send to dead letter queue failed", "topic", msg.Topic, "error", err)
	}
}

type kafkaSubscription struct {
	consumer Consumer
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	err      error
}

// Unsubscribe 停止消费循环并关闭消费者
func (s *kafkaSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
		s.err = s.consumer.Close()
	})
	return s.err
}
