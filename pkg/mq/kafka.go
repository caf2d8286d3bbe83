// Package mq 提供 Kafka producer/consumer 通用实现，支持重试与死信队列
package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/riskguard/pkg/logger"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers           []string
	GroupID           string
	Partitions        int
	Replication       int
	SessionTimeout    int
	MaxRetries        int
	RetryBackoff      int
	EnableCompression bool
	// 新消费组从最新位置开始消费
	StartFromLatest bool
}

// KafkaProducer Kafka 生产者
type KafkaProducer struct {
	writer *kafka.Writer
	config KafkaConfig
}

// NewProducer 创建 Kafka 生产者
func NewProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll, // 等待所有副本确认
		MaxAttempts:            cfg.MaxRetries,
		WriteBackoffMin:        time.Duration(cfg.RetryBackoff) * time.Millisecond,
		WriteBackoffMax:        time.Duration(cfg.RetryBackoff*10) * time.Millisecond,
		BatchTimeout:           5 * time.Millisecond,
	}
	if cfg.EnableCompression {
		writer.Compression = kafka.Snappy
	}

	logger.Info(context.Background(), "Kafka producer created successfully", "brokers", cfg.Brokers)
	return &KafkaProducer{
		writer: writer,
		config: cfg,
	}, nil
}

// SendMessage 发送单条消息
func (kp *KafkaProducer) SendMessage(ctx context.Context, topic string, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	}

	err = kp.writer.WriteMessages(ctx, msg)
	if err != nil {
		logger.Error(ctx, "Failed to send Kafka message",
			"topic", topic,
			"key", key,
			"error", err,
		)
		return err
	}

	logger.Debug(ctx, "Kafka message sent",
		"topic", topic,
		"key", key,
	)
	return nil
}

// Close 关闭生产者
func (kp *KafkaProducer) Close() error {
	return kp.writer.Close()
}

// KafkaConsumer Kafka 消费者
type KafkaConsumer struct {
	reader *kafka.Reader
	config KafkaConfig
}

// NewConsumer 创建 Kafka 消费者
func NewConsumer(cfg KafkaConfig, topic string) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka consumer group id is required")
	}
	startOffset := kafka.FirstOffset
	if cfg.StartFromLatest {
		startOffset = kafka.LastOffset
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          topic,
		GroupID:        cfg.GroupID,
		SessionTimeout: time.Duration(cfg.SessionTimeout) * time.Second,
		StartOffset:    startOffset,
		MaxBytes:       10e6, // 10MB
	})

	logger.Info(context.Background(), "Kafka consumer created successfully",
		"brokers", cfg.Brokers,
		"topic", topic,
		"group_id", cfg.GroupID,
	)
	return &KafkaConsumer{
		reader: reader,
		config: cfg,
	}, nil
}

// FetchMessage 读取单条消息，处理完成后需调用 CommitMessages 提交偏移量。
// 消费者关闭或 ctx 取消时返回 io.EOF / ctx 错误，不记录错误日志。
func (kc *KafkaConsumer) FetchMessage(ctx context.Context) (*Message, error) {
	msg, err := kc.reader.FetchMessage(ctx)
	if err != nil {
		if !errors.Is(err, io.EOF) && ctx.Err() == nil {
			logger.Error(ctx, "Failed to read Kafka message", "error", err)
		}
		return nil, err
	}

	return &Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       string(msg.Key),
		Value:     msg.Value,
		Time:      msg.Time,
	}, nil
}

// CommitMessages 提交消息偏移量
func (kc *KafkaConsumer) CommitMessages(ctx context.Context, messages ...*Message) error {
	if len(messages) == 0 {
		return nil
	}
	kms := make([]kafka.Message, 0, len(messages))
	for _, m := range messages {
		kms = append(kms, kafka.Message{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset})
	}
	return kc.reader.CommitMessages(ctx, kms...)
}

// Close 关闭消费者
func (kc *KafkaConsumer) Close() error {
	return kc.reader.Close()
}

// Message Kafka 消息结构
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Value     []byte
	Time      time.Time
}

// UnmarshalPayload 将消息值解析为 JSON
func (m *Message) UnmarshalPayload(dest interface{}) error {
	return json.Unmarshal(m.Value, dest)
}

// DeadLetterQueue 死信队列处理
type DeadLetterQueue struct {
	producer Sender
	topic    string
}

// Sender 死信队列使用的发送接口
type Sender interface {
	SendMessage(ctx context.Context, topic string, key string, value interface{}) error
}

// NewDeadLetterQueue 创建死信队列
func NewDeadLetterQueue(producer Sender, topic string) *DeadLetterQueue {
	return &DeadLetterQueue{
		producer: producer,
		topic:    topic,
	}
}

// Send 发送消息到死信队列
func (dlq *DeadLetterQueue) Send(ctx context.Context, originalMessage *Message, reason string, err error) error {
	deadLetterMsg := map[string]interface{}{
		"original_topic":    originalMessage.Topic,
		"original_key":      originalMessage.Key,
		"original_value":    string(originalMessage.Value),
		"original_offset":   originalMessage.Offset,
		"original_time":     originalMessage.Time,
		"failure_reason":    reason,
		"failure_error":     err.Error(),
		"failure_timestamp": time.Now(),
	}

	return dlq.producer.SendMessage(ctx, dlq.topic, originalMessage.Key, deadLetterMsg)
}
