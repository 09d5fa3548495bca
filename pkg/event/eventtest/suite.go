// Package eventtest holds the behaviour every event bus has to share.
package eventtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/everpan/idorm/pkg/event"
	"github.com/stretchr/testify/suite"
)

// EventBusTestSuite 定义了事件总线的通用测试套件
type EventBusTestSuite struct {
	suite.Suite
	EventBus event.EventBus
	// Timeout bounds every wait for a delivery.
	Timeout time.Duration
	// Quiet is how long to wait before deciding nothing was delivered.
	Quiet time.Duration
}

var idCounter atomic.Int64

// NewTestEvent 创建一个测试事件
func NewTestEvent(eventType string, data map[string]any) *event.Event {
	return &event.Event{
		ID:        fmt.Sprintf("test-event-%d", idCounter.Add(1)),
		Type:      eventType,
		Source:    "test_service",
		Data:      data,
		Timestamp: time.Now(),
	}
}

func (s *EventBusTestSuite) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return 5 * time.Second
}

func (s *EventBusTestSuite) quiet() time.Duration {
	if s.Quiet > 0 {
		return s.Quiet
	}
	return time.Second
}

// RunEventBusTests 运行所有事件总线测试
func (s *EventBusTestSuite) RunEventBusTests() {
	s.Run("Basic Publish Subscribe", s.basicPublishSubscribe)
	s.Run("Multiple Subscribers", s.multipleSubscribers)
	s.Run("Unsubscribe", s.unsubscribe)
	s.Run("Concurrent Publishing", s.concurrentPublishing)
	s.Run("Invalid Event", s.invalidEvent)
	s.Run("Multiple Topics", s.multipleTopics)
}

func (s *EventBusTestSuite) receive(ch <-chan *event.Event) *event.Event {
	select {
	case evt := <-ch:
		return evt
	case <-time.After(s.timeout()):
		s.FailNow("timeout waiting for event")
		return nil
	}
}

func (s *EventBusTestSuite) basicPublishSubscribe() {
	ctx := context.Background()
	topic := "test.basic"
	received := make(chan *event.Event, 1)
	testEvent := NewTestEvent("test.basic", map[string]any{"message": "hello world"})

	s.Require().NoError(s.EventBus.Subscribe(ctx, topic, func(e *event.Event) error {
		received <- e
		return nil
	}))
	s.Require().NoError(s.EventBus.Publish(ctx, topic, testEvent))

	evt := s.receive(received)
	s.Equal(testEvent.ID, evt.ID)
	s.Equal(testEvent.Type, evt.Type)
	s.Equal(topic, evt.Topic)
	s.Equal(testEvent.Data, evt.Data)
}

func (s *EventBusTestSuite) multipleSubscribers() {
	ctx := context.Background()
	topic := "test.multiple"
	received := []chan *event.Event{make(chan *event.Event, 1), make(chan *event.Event, 1)}
	for _, ch := range received {
		ch := ch
		s.Require().NoError(s.EventBus.Subscribe(ctx, topic, func(e *event.Event) error {
			ch <- e
			return nil
		}))
	}

	testEvent := NewTestEvent("test.multiple", map[string]any{"message": "multiple subscribers"})
	s.Require().NoError(s.EventBus.Publish(ctx, topic, testEvent))
	for i, ch := range received {
		evt := s.receive(ch)
		s.Equal(testEvent.ID, evt.ID, "subscriber %d", i+1)
	}
}

func (s *EventBusTestSuite) unsubscribe() {
	ctx := context.Background()
	topic := "test.unsubscribe"
	received := make(chan *event.Event, 1)

	s.Require().NoError(s.EventBus.Subscribe(ctx, topic, func(e *event.Event) error {
		received <- e
		return nil
	}))
	s.Require().NoError(s.EventBus.Unsubscribe(topic))
	s.Require().NoError(s.EventBus.Publish(ctx, topic, NewTestEvent("test.unsubscribe", map[string]any{})))

	select {
	case <-received:
		s.Fail("should not receive event after unsubscribe")
	case <-time.After(s.quiet()):
	}
}

func (s *EventBusTestSuite) concurrentPublishing() {
	ctx := context.Background()
	topic := "test.concurrent"
	const eventCount = 20
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		done = make(chan struct{})
	)
	s.Require().NoError(s.EventBus.Subscribe(ctx, topic, func(e *event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen[e.ID] = true
		if len(seen) == eventCount {
			close(done)
		}
		return nil
	}))

	var wg sync.WaitGroup
	errs := make(chan error, eventCount)
	for i := 0; i < eventCount; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- s.EventBus.Publish(ctx, topic, NewTestEvent("test.concurrent", map[string]any{"counter": fmt.Sprint(i)}))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}

	select {
	case <-done:
	case <-time.After(s.timeout()):
		mu.Lock()
		s.Failf("timeout", "received %d of %d events", len(seen), eventCount)
		mu.Unlock()
	}
}

func (s *EventBusTestSuite) invalidEvent() {
	err := s.EventBus.Publish(context.Background(), "test.invalid", &event.Event{ID: "x"})
	s.Error(err)

	failing := NewTestEvent("test.error", map[string]any{"message": "error test"})
	s.Require().NoError(s.EventBus.Subscribe(context.Background(), "test.error", func(*event.Event) error {
		return errors.New("test error")
	}))
	s.NoError(s.EventBus.Publish(context.Background(), "test.error", failing), "handler errors do not fail publishing")
}

func (s *EventBusTestSuite) multipleTopics() {
	ctx := context.Background()
	topics := []string{"test.topic1", "test.topic2", "test.topic3"}
	received := make(map[string]chan *event.Event)
	for _, topic := range topics {
		ch := make(chan *event.Event, 1)
		received[topic] = ch
		s.Require().NoError(s.EventBus.Subscribe(ctx, topic, func(e *event.Event) error {
			ch <- e
			return nil
		}))
	}
	for _, topic := range topics {
		s.Require().NoError(s.EventBus.Publish(ctx, topic, NewTestEvent(topic, map[string]any{"topic": topic})))
	}
	for _, topic := range topics {
		evt := s.receive(received[topic])
		s.Equal(topic, evt.Type)
		s.Equal(topic, evt.Data["topic"])
	}
}
