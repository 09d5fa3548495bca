package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/everpan/idorm/pkg/event"
	"go.uber.org/zap"
)

type Option func(k *KafkaEventBus)

func WithCodec(codec event.Codec) Option {
	return func(k *KafkaEventBus) {
		if codec != nil {
			k.codec = codec
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(k *KafkaEventBus) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithRetry sets how often a handler returning event.ErrRetry is called again.
// The wait grows linearly by backoff.
func WithRetry(max int, backoff time.Duration) Option {
	return func(k *KafkaEventBus) {
		k.maxRetries = max
		k.backoff = backoff
	}
}

// WithOffset is the offset new subscriptions start from, sarama.OffsetNewest by default.
func WithOffset(offset int64) Option {
	return func(k *KafkaEventBus) {
		k.offset = offset
	}
}

type KafkaEventBus struct {
	producer   sarama.SyncProducer
	consumer   sarama.Consumer
	codec      event.Codec
	logger     *zap.Logger
	maxRetries int
	backoff    time.Duration
	offset     int64
	handlers   map[string][]func(*event.Event) error
	partitions map[string][]sarama.PartitionConsumer
	wg         sync.WaitGroup
	mu         sync.RWMutex
}

// NewKafkaEventBus creates a new Kafka event bus
func NewKafkaEventBus(brokers []string, opts ...Option) (*KafkaEventBus, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Consumer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	consumer, err := sarama.NewConsumer(brokers, config)
	if err != nil {
		_ = producer.Close()
		return nil, err
	}
	return NewFromClients(producer, consumer, opts...), nil
}

// NewFromClients builds the bus over clients created elsewhere. The bus owns
// them afterwards.
func NewFromClients(producer sarama.SyncProducer, consumer sarama.Consumer, opts ...Option) *KafkaEventBus {
	k := &KafkaEventBus{
		producer:   producer,
		consumer:   consumer,
		codec:      event.JSONCodec{},
		logger:     zap.NewNop(),
		maxRetries: 3,
		backoff:    time.Second,
		offset:     sarama.OffsetNewest,
		handlers:   make(map[string][]func(*event.Event) error),
		partitions: make(map[string][]sarama.PartitionConsumer),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *KafkaEventBus) Publish(ctx context.Context, topic string, evt *event.Event) error {
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	evt.Topic = topic
	data, err := k.codec.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(evt.ID),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err = k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Subscribe consumes every partition of topic the first time a handler is
// added for it.
func (k *KafkaEventBus) Subscribe(ctx context.Context, topic string, handler func(*event.Event) error) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.handlers[topic] = append(k.handlers[topic], handler)
	if _, ok := k.partitions[topic]; ok {
		return nil
	}

	ids, err := k.consumer.Partitions(topic)
	if err != nil {
		k.dropHandlers(topic)
		return fmt.Errorf("failed to list partitions: %w", err)
	}
	pcs := make([]sarama.PartitionConsumer, 0, len(ids))
	for _, id := range ids {
		pc, err := k.consumer.ConsumePartition(topic, id, k.offset)
		if err != nil {
			for _, started := range pcs {
				started.AsyncClose()
			}
			k.dropHandlers(topic)
			return fmt.Errorf("failed to create partition consumer: %w", err)
		}
		pcs = append(pcs, pc)
	}
	k.partitions[topic] = pcs
	for _, pc := range pcs {
		k.wg.Add(1)
		go k.consume(ctx, topic, pc)
	}
	return nil
}

func (k *KafkaEventBus) dropHandlers(topic string) {
	delete(k.handlers, topic)
}

func (k *KafkaEventBus) consume(ctx context.Context, topic string, pc sarama.PartitionConsumer) {
	defer k.wg.Done()
	messages, errs := pc.Messages(), pc.Errors()
	for messages != nil || errs != nil {
		select {
		case <-ctx.Done():
			pc.AsyncClose()
			ctx = context.Background()
		case msg, ok := <-messages:
			if !ok {
				messages = nil
				continue
			}
			k.handle(topic, msg)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			k.logger.Warn("consume partition", zap.String("topic", topic), zap.Error(err))
		}
	}
}

func (k *KafkaEventBus) handle(topic string, msg *sarama.ConsumerMessage) {
	var evt event.Event
	if err := k.codec.Unmarshal(msg.Value, &evt); err != nil {
		k.logger.Warn("decode event", zap.String("topic", topic), zap.Int64("offset", msg.Offset), zap.Error(err))
		return
	}
	if err := evt.Validate(); err != nil {
		k.logger.Warn("invalid event", zap.String("topic", topic), zap.Int64("offset", msg.Offset), zap.Error(err))
		return
	}

	k.mu.RLock()
	handlers := k.handlers[topic]
	k.mu.RUnlock()
	for _, h := range handlers {
		for retry := 0; ; retry++ {
			err := h(&evt)
			if err == nil {
				break
			}
			if errors.Is(err, event.ErrRetry) && retry < k.maxRetries {
				time.Sleep(time.Duration(retry+1) * k.backoff)
				continue
			}
			k.logger.Warn("handle event", zap.String("id", evt.ID), zap.Int("retries", retry), zap.Error(err))
			break
		}
	}
}

func (k *KafkaEventBus) Unsubscribe(topic string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.dropHandlers(topic)
	for _, pc := range k.partitions[topic] {
		pc.AsyncClose()
	}
	delete(k.partitions, topic)
	return nil
}

func (k *KafkaEventBus) Close() error {
	k.mu.Lock()
	for topic, pcs := range k.partitions {
		for _, pc := range pcs {
			pc.AsyncClose()
		}
		delete(k.partitions, topic)
	}
	k.mu.Unlock()
	k.wg.Wait()
	return errors.Join(k.producer.Close(), k.consumer.Close())
}
