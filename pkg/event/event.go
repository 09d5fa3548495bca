package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRetry indicates that the event handling should be retried
var ErrRetry = errors.New("retry event handling")

// Mutation event types, one per write operation.
const (
	TypeInsert = "model.insert"
	TypeUpdate = "model.update"
	TypePatch  = "model.patch"
	TypeDelete = "model.delete"

	TypeConfigReload = "config.reload"
)

// Event represents a generic event in the system
type Event struct {
	ID        string         `json:"id" xorm:"varchar(64) pk"`
	Type      string         `json:"type" xorm:"varchar(255) notnull index"`
	Source    string         `json:"source" xorm:"varchar(255) notnull index"`
	Topic     string         `json:"topic" xorm:"varchar(255) notnull index"`
	Data      map[string]any `json:"data" xorm:"json text"`
	Timestamp time.Time      `json:"timestamp" xorm:"notnull index"`
	Processed bool           `json:"processed" xorm:"bool"`
}

func (e *Event) TableName() string {
	return "idorm_event"
}

// New creates an event with a fresh id and the current time.
func New(typ, source string, data map[string]any) *Event {
	if data == nil {
		data = map[string]any{}
	}
	return &Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Source:    source,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// NewMutation describes a committed write on model. opID correlates the event
// with the statement log.
func NewMutation(typ, opID, model string, affected int64, rows []map[string]any) *Event {
	data := map[string]any{
		"op_id":    opID,
		"model":    model,
		"affected": affected,
	}
	if len(rows) > 0 {
		data["rows"] = rows
	}
	return New(typ, "idorm", data)
}

// Validate checks if the event is valid
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event ID cannot be empty")
	}
	if e.Type == "" {
		return fmt.Errorf("event Type cannot be empty")
	}
	if e.Source == "" {
		return fmt.Errorf("event Source cannot be empty")
	}
	if e.Data == nil {
		return fmt.Errorf("event Data cannot be nil")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event Timestamp cannot be zero")
	}
	return nil
}

// Publisher defines the interface for publishing events
type Publisher interface {
	// Publish publishes an event to the specified topic
	Publish(ctx context.Context, topic string, evt *Event) error
	// Close closes the publisher
	Close() error
}

// Subscriber defines the interface for subscribing to events
type Subscriber interface {
	// Subscribe subscribes to events from the specified topic
	Subscribe(ctx context.Context, topic string, handler func(*Event) error) error
	// Unsubscribe removes the subscription for the specified topic
	Unsubscribe(topic string) error
	// Close closes the subscriber
	Close() error
}

// EventBus represents the main event bus that manages publishers and subscribers
type EventBus interface {
	Publisher
	Subscriber
}
