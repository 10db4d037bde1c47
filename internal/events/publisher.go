package events

import (
	"context"
	"fmt"
	"io"

	"payretry/internal/config"
	"payretry/internal/types"
)

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, types.LifecycleEvent) error { return nil }

// LogPublisher logs events instead of sending them, for local runs.
type LogPublisher struct {
	Logger types.Logger
}

func (p LogPublisher) Publish(_ context.Context, evt types.LifecycleEvent) error {
	p.Logger.Info("lifecycle event", "event_type", evt.Type, "entity_id", evt.EntityID, "organisation_id", evt.OrganisationID)
	return nil
}

// New builds the publisher selected by cfg.Backend. sqsClient is only used
// for the sqs backend. The returned closer releases broker connections.
func New(cfg config.EventsConfig, queueURL string, sqsClient SQSSender, logger types.Logger) (types.EventPublisher, io.Closer, error) {
	switch cfg.Backend {
	case "sqs":
		if sqsClient == nil || queueURL == "" {
			return nil, nil, fmt.Errorf("events: sqs backend needs a client and SQS_LIFECYCLE_EVENTS")
		}
		return NewSQSPublisher(sqsClient, queueURL), nopCloser{}, nil
	case "rabbitmq":
		p, err := DialAMQP(cfg.AMQPURL.Unmask(), cfg.Exchange, logger)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	default:
		return LogPublisher{Logger: logger}, nopCloser{}, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
