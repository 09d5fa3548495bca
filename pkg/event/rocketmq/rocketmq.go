package rocketmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/everpan/idorm/pkg/event"
	"go.uber.org/zap"
)

// Producer is the part of rocketmq.Producer the bus sends with.
type Producer interface {
	SendSync(ctx context.Context, msg ...*primitive.Message) (*primitive.SendResult, error)
	Shutdown() error
}

// PushConsumer is the part of rocketmq.PushConsumer the bus consumes with.
type PushConsumer interface {
	Start() error
	Shutdown() error
	Subscribe(topic string, selector consumer.MessageSelector,
		f func(context.Context, ...*primitive.MessageExt) (consumer.ConsumeResult, error)) error
	Unsubscribe(topic string) error
}

type RocketMQConfig struct {
	Endpoints []string `mapstructure:"endpoints"`
	Group     string   `mapstructure:"group"`
	Retry     int      `mapstructure:"retry"`
}

type RocketMQEventBus struct {
	producer Producer
	consumer PushConsumer
	codec    event.Codec
	logger   *zap.Logger
	handlers map[string][]func(*event.Event) error
	started  bool
	mu       sync.RWMutex
}

// NewRocketMQEventBus creates a new RocketMQ event bus
func NewRocketMQEventBus(config RocketMQConfig, codec event.Codec, logger *zap.Logger) (*RocketMQEventBus, error) {
	if config.Retry <= 0 {
		config.Retry = 2
	}
	p, err := rocketmq.NewProducer(
		producer.WithNameServer(config.Endpoints),
		producer.WithGroupName(config.Group),
		producer.WithRetry(config.Retry),
	)
	if err != nil {
		return nil, err
	}
	if err := p.Start(); err != nil {
		return nil, err
	}

	c, err := rocketmq.NewPushConsumer(
		consumer.WithNameServer(config.Endpoints),
		consumer.WithGroupName(config.Group),
	)
	if err != nil {
		_ = p.Shutdown()
		return nil, err
	}
	return NewFromClients(p, c, codec, logger), nil
}

func NewFromClients(p Producer, c PushConsumer, codec event.Codec, logger *zap.Logger) *RocketMQEventBus {
	if codec == nil {
		codec = event.JSONCodec{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RocketMQEventBus{
		producer: p,
		consumer: c,
		codec:    codec,
		logger:   logger,
		handlers: make(map[string][]func(*event.Event) error),
	}
}

func (r *RocketMQEventBus) Publish(ctx context.Context, topic string, evt *event.Event) error {
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	evt.Topic = topic
	data, err := r.codec.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := primitive.NewMessage(topic, data)
	msg.WithKeys([]string{evt.ID})
	msg.WithTag(evt.Type)
	_, err = r.producer.SendSync(ctx, msg)
	return err
}

// Subscribe registers handler and starts the push consumer on first use.
// A handler returning event.ErrRetry asks the broker to redeliver the batch.
func (r *RocketMQEventBus) Subscribe(ctx context.Context, topic string, handler func(*event.Event) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, subscribed := r.handlers[topic]
	r.handlers[topic] = append(r.handlers[topic], handler)
	if subscribed {
		return nil
	}

	selector := consumer.MessageSelector{
		Type:       consumer.TAG,
		Expression: "*",
	}
	err := r.consumer.Subscribe(topic, selector, func(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
		return r.consume(topic, msgs)
	})
	if err != nil {
		delete(r.handlers, topic)
		return err
	}
	if r.started {
		return nil
	}
	if err := r.consumer.Start(); err != nil {
		return err
	}
	r.started = true
	return nil
}

func (r *RocketMQEventBus) consume(topic string, msgs []*primitive.MessageExt) (consumer.ConsumeResult, error) {
	r.mu.RLock()
	handlers := r.handlers[topic]
	r.mu.RUnlock()
	for _, msg := range msgs {
		var evt event.Event
		if err := r.codec.Unmarshal(msg.Body, &evt); err != nil {
			r.logger.Warn("decode event", zap.String("topic", topic), zap.String("msg_id", msg.MsgId), zap.Error(err))
			continue
		}
		for _, h := range handlers {
			err := h(&evt)
			if err == nil {
				continue
			}
			if errors.Is(err, event.ErrRetry) {
				return consumer.ConsumeRetryLater, err
			}
			r.logger.Warn("handle event", zap.String("id", evt.ID), zap.Error(err))
		}
	}
	return consumer.ConsumeSuccess, nil
}

func (r *RocketMQEventBus) Unsubscribe(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[topic]; !ok {
		return nil
	}
	delete(r.handlers, topic)
	return r.consumer.Unsubscribe(topic)
}

func (r *RocketMQEventBus) Close() error {
	return errors.Join(r.producer.Shutdown(), r.consumer.Shutdown())
}
