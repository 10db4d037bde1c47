// Package events publishes engine lifecycle events (schedule created and
// resolved, attempt outcomes, job completion, reminders sent) to downstream
// consumers over SQS or a RabbitMQ topic exchange.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"payretry/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends each event as one JSON message. On FIFO queues events
// are grouped per organisation and deduplicated on the event id.
type SQSPublisher struct {
	client   SQSSender
	queueURL string
	fifo     bool
}

// NewSQSPublisher creates an SQSPublisher targeting queueURL.
func NewSQSPublisher(client SQSSender, queueURL string) *SQSPublisher {
	return &SQSPublisher{
		client:   client,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}
}

// Publish implements types.EventPublisher.
func (p *SQSPublisher) Publish(ctx context.Context, evt types.LifecycleEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: failed to marshal %s: %w", evt.Type, err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(evt.Type),
			},
			"organisation_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(evt.OrganisationID),
			},
		},
	}
	if p.fifo {
		input.MessageGroupId = aws.String(evt.OrganisationID)
		input.MessageDeduplicationId = aws.String(evt.ID)
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("events: failed to send %s to SQS: %w", evt.Type, err)
	}
	return nil
}

var _ types.EventPublisher = (*SQSPublisher)(nil)
