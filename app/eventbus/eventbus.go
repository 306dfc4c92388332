// Package eventbus carries domain events between modules over watermill,
// backed by NATS JetStream or, when no NATS URL is configured, an in-process
// channel.
package eventbus

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	nc "github.com/nats-io/nats.go"
)

// Config selects and tunes the transport.
type Config struct {
	NATSURL    string
	QueueGroup string
}

// EventBus is a watermill publisher and subscriber pair.
type EventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger
	transport  string
}

// New connects the bus. An empty NATSURL selects the in-process transport.
func New(cfg Config, logger *slog.Logger) (*EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	if cfg.NATSURL == "" {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, wmLogger)
		logger.Info("Event bus using in-process transport")
		return &EventBus{publisher: ch, subscriber: ch, logger: logger, transport: "gochannel"}, nil
	}

	options := []nc.Option{
		nc.RetryOnFailedConnect(true),
		nc.Timeout(30 * time.Second),
		nc.ReconnectWait(time.Second),
	}
	jsConfig := nats.JetStreamConfig{
		Disabled:      false,
		AutoProvision: true,
		SubscribeOptions: []nc.SubOpt{
			nc.DeliverAll(),
			nc.AckExplicit(),
		},
	}
	marshaler := &nats.NATSMarshaler{}

	publisher, err := nats.NewPublisher(
		nats.PublisherConfig{
			URL:         cfg.NATSURL,
			NatsOptions: options,
			Marshaler:   marshaler,
			JetStream:   jsConfig,
		},
		wmLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS publisher: %w", err)
	}

	subscriber, err := nats.NewSubscriber(
		nats.SubscriberConfig{
			URL:               cfg.NATSURL,
			QueueGroupPrefix:  cfg.QueueGroup,
			CloseTimeout:      30 * time.Second,
			AckWaitTimeout:    30 * time.Second,
			NatsOptions:       options,
			Unmarshaler:       marshaler,
			JetStream:         jsConfig,
			SubjectCalculator: nats.DefaultSubjectCalculator,
		},
		wmLogger,
	)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("failed to create NATS subscriber: %w", err)
	}

	logger.Info("Event bus connected to NATS", slog.String("url", cfg.NATSURL))
	return &EventBus{publisher: publisher, subscriber: subscriber, logger: logger, transport: "nats"}, nil
}

func (b *EventBus) Publisher() message.Publisher { return b.publisher }

func (b *EventBus) Subscriber() message.Subscriber { return b.subscriber }

// Transport names the backing transport, for health output.
func (b *EventBus) Transport() string { return b.transport }

// Close closes the publisher and, when distinct, the subscriber.
func (b *EventBus) Close() error {
	var firstErr error
	if err := b.publisher.Close(); err != nil {
		b.logger.Error("Error closing publisher", slog.Any("error", err))
		firstErr = err
	}
	if closer, ok := b.subscriber.(interface{ Close() error }); ok && any(b.subscriber) != any(b.publisher) {
		if err := closer.Close(); err != nil {
			b.logger.Error("Error closing subscriber", slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
