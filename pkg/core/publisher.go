package core

import (
	"fmt"
	"sync"

	"github.com/everpan/idorm/pkg/config"
	"github.com/everpan/idorm/pkg/event"
	"github.com/everpan/idorm/pkg/event/database"
	"github.com/everpan/idorm/pkg/event/kafka"
	"github.com/everpan/idorm/pkg/event/rocketmq"
	"github.com/spf13/viper"
)

var (
	busMu sync.RWMutex
	bus   event.EventBus
)

func init() {
	viper.SetDefault("event.codec", "json")
	viper.SetDefault("event.config-topic", "idorm.config")
}

// Publisher is the process event bus, nil when event.kind is none.
func Publisher() event.EventBus {
	busMu.RLock()
	defer busMu.RUnlock()
	return bus
}

// SetPublisher replaces the process event bus. Facades built before keep theirs.
func SetPublisher(b event.EventBus) {
	busMu.Lock()
	bus = b
	busMu.Unlock()
	_ = ReloadDBConfig()
}

// OpenEventBus builds the bus selected by event.kind: none, database, kafka or rocketmq.
func OpenEventBus() (event.EventBus, error) {
	codec, err := event.CodecFor(viper.GetString("event.codec"))
	if err != nil {
		return nil, err
	}
	logger := config.GetLogger().Named("event")
	switch kind := viper.GetString("event.kind"); kind {
	case "", "none":
		return nil, nil
	case "database":
		ds, err := config.GetDataSource(viper.GetString("event.datasource"))
		if err != nil {
			return nil, err
		}
		engine, err := GetEngine(ds)
		if err != nil {
			return nil, err
		}
		b, err := database.NewDBEventBus(engine,
			database.WithPollInterval(viper.GetDuration("event.poll-interval")),
			database.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return b, nil
	case "kafka":
		b, err := kafka.NewKafkaEventBus(viper.GetStringSlice("event.kafka.brokers"),
			kafka.WithCodec(codec), kafka.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return b, nil
	case "rocketmq":
		b, err := rocketmq.NewRocketMQEventBus(rocketmq.RocketMQConfig{
			Endpoints: viper.GetStringSlice("event.rocketmq.endpoints"),
			Group:     viper.GetString("event.rocketmq.group"),
			Retry:     viper.GetInt("event.rocketmq.retry"),
		}, codec, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown event kind '%s'", kind)
	}
}
