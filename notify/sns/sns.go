// Package sns publishes chronicle maintenance notices to an AWS SNS topic.
package sns

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/emberforge/chronicle"
	"github.com/emberforge/chronicle/notify"
)

var _ chronicle.Notifier = (*Publisher)(nil)

// SNSClient defines the subset of the SNS API used by the publisher.
type SNSClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher publishes maintenance notices to one SNS topic. Routing headers
// become message attributes so subscriptions can filter by kind.
type Publisher struct {
	client         SNSClient
	topicARN       string
	messageGroupID string
}

// Option configures an SNS Publisher.
type Option func(*Publisher)

// WithSNSClient sets a custom SNS client.
func WithSNSClient(client SNSClient) Option {
	return func(p *Publisher) {
		p.client = client
	}
}

// WithMessageGroupID sets the message group ID for FIFO topics.
func WithMessageGroupID(groupID string) Option {
	return func(p *Publisher) {
		p.messageGroupID = groupID
	}
}

// New creates a new SNS Publisher for the given topic ARN.
func New(topicARN string, opts ...Option) *Publisher {
	p := &Publisher{topicARN: topicARN}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// TopicARN returns the destination topic.
func (p *Publisher) TopicARN() string {
	return p.topicARN
}

// Notify publishes a notice to the topic.
func (p *Publisher) Notify(ctx context.Context, notice chronicle.MaintenanceNotice) error {
	if p.client == nil {
		return fmt.Errorf("sns: client not configured")
	}
	if p.topicARN == "" {
		return fmt.Errorf("sns: topic ARN not configured")
	}

	payload, err := notify.Encode(notice)
	if err != nil {
		return fmt.Errorf("sns: failed to encode notice: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn:          aws.String(p.topicARN),
		Message:           aws.String(string(payload)),
		Subject:           aws.String("chronicle " + notice.Kind),
		MessageAttributes: make(map[string]types.MessageAttributeValue),
	}
	for k, v := range notify.Headers(notice) {
		input.MessageAttributes[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	// Set message group ID for FIFO topics
	if p.messageGroupID != "" {
		input.MessageGroupId = aws.String(p.messageGroupID)
		input.MessageDeduplicationId = aws.String(dedupID(notice))
	}

	if _, err := p.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("sns: failed to publish to %s: %w", p.topicARN, err)
	}
	return nil
}

func dedupID(notice chronicle.MaintenanceNotice) string {
	return fmt.Sprintf("%s:%s:%d", notice.Kind, notice.StreamID, notice.OccurredAt.UnixNano())
}
