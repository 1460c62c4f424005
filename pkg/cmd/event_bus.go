package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/docflow/docflow/pkg/channels/gochannel"
	"github.com/docflow/docflow/pkg/channels/kafka"
	"github.com/docflow/docflow/pkg/eventbus"
)

// EventBusConfig selects the transport behind an event bus.
type EventBusConfig struct {
	Provider      string // "gochannel" or "kafka"
	KafkaBrokers  string // comma separated
	ConsumerGroup string
}

// NewEventBus opens an event bus on topic.
func NewEventBus(logger *slog.Logger, config EventBusConfig, topic string) (*eventbus.WatermillEventBus, error) {
	var (
		pub message.Publisher
		sub message.Subscriber
		err error
	)

	wmLogger := watermill.NewSlogLogger(logger)

	switch config.Provider {
	case "gochannel", "":
		pub, sub, err = gochannel.CreateChannel(wmLogger)
	case "kafka":
		pub, sub, err = kafka.CreateChannel(wmLogger, kafka.ParseBrokers(config.KafkaBrokers), config.ConsumerGroup)
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", config.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s pub/sub: %w", config.Provider, err)
	}

	return eventbus.NewWatermillEventBus(logger, pub, sub, topic), nil
}
