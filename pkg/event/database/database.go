package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/everpan/idorm/pkg/event"
	"go.uber.org/zap"
	"xorm.io/xorm"
)

const DefaultPollInterval = time.Second

type Option func(d *DBEventBus)

type poller struct {
	cancel context.CancelFunc
}

func WithPollInterval(interval time.Duration) Option {
	return func(d *DBEventBus) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(d *DBEventBus) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// DBEventBus keeps events in the idorm_event table. Subscribers poll the
// table and mark an event processed once every handler accepted it.
type DBEventBus struct {
	engine   *xorm.Engine
	interval time.Duration
	logger   *zap.Logger
	handlers map[string][]func(*event.Event) error
	pollers  map[string]*poller
	wg       sync.WaitGroup
	mu       sync.RWMutex
}

// NewDBEventBus creates a new database event bus. The engine stays owned by
// the caller.
func NewDBEventBus(engine *xorm.Engine, opts ...Option) (*DBEventBus, error) {
	// 确保事件表存在
	if err := engine.Sync2(new(event.Event)); err != nil {
		return nil, fmt.Errorf("failed to sync database schema: %w", err)
	}
	d := &DBEventBus{
		engine:   engine,
		interval: DefaultPollInterval,
		logger:   zap.NewNop(),
		handlers: make(map[string][]func(*event.Event) error),
		pollers:  make(map[string]*poller),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *DBEventBus) Publish(ctx context.Context, topic string, evt *event.Event) error {
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	evt.Topic = topic
	_, err := d.engine.Context(ctx).Insert(evt)
	return err
}

// Subscribe adds handler to topic. One poller runs per topic until ctx ends,
// the topic is unsubscribed or the bus is closed.
func (d *DBEventBus) Subscribe(ctx context.Context, topic string, handler func(*event.Event) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[topic] = append(d.handlers[topic], handler)
	if _, ok := d.pollers[topic]; ok {
		return nil
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p := &poller{cancel: cancel}
	d.pollers[topic] = p
	d.wg.Add(1)
	go d.poll(pollCtx, topic, p)
	return nil
}

func (d *DBEventBus) poll(ctx context.Context, topic string, p *poller) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		if d.pollers[topic] == p {
			delete(d.pollers, topic)
		}
		d.mu.Unlock()
	}()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.dispatch(ctx, topic)
		}
	}
}

func (d *DBEventBus) dispatch(ctx context.Context, topic string) {
	var evs []*event.Event
	err := d.engine.Context(ctx).Where("topic = ? AND processed = ?", topic, false).
		Asc("timestamp").Find(&evs)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warn("poll events", zap.String("topic", topic), zap.Error(err))
		}
		return
	}
	for _, evt := range evs {
		d.mu.RLock()
		handlers := d.handlers[topic]
		d.mu.RUnlock()
		if len(handlers) == 0 {
			return
		}

		// 只有所有 handler 都成功时才标记为已处理
		allSuccess := true
		for _, h := range handlers {
			if err := h(evt); err != nil {
				d.logger.Debug("handle event", zap.String("id", evt.ID), zap.Error(err))
				allSuccess = false
				break
			}
		}
		if !allSuccess {
			continue
		}
		evt.Processed = true
		if _, err := d.engine.Context(ctx).ID(evt.ID).Cols("processed").Update(evt); err != nil {
			evt.Processed = false
			d.logger.Warn("mark event processed", zap.String("id", evt.ID), zap.Error(err))
		}
	}
}

func (d *DBEventBus) Unsubscribe(topic string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, topic)
	if p, ok := d.pollers[topic]; ok {
		p.cancel()
		delete(d.pollers, topic)
	}
	return nil
}

// Close stops every poller. The engine is left open.
func (d *DBEventBus) Close() error {
	d.mu.Lock()
	for topic, p := range d.pollers {
		p.cancel()
		delete(d.pollers, topic)
	}
	d.handlers = make(map[string][]func(*event.Event) error)
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}
