// Package sns publishes relay messages to AWS SNS topics.
// Destination format: "sns:arn:aws:sns:region:account:topic".
//
// For FIFO topics the subject ID is used as the message group, which
// preserves per-subject chain order, and the record hash as the
// deduplication ID, which makes relay retries harmless.
package sns

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/cacaotrail/cacaotrail"
)

// Client defines the subset of the SNS API used by the publisher.
type Client interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher publishes relay messages to AWS SNS topics.
type Publisher struct {
	client Client
	fifo   bool
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithClient sets the SNS client.
func WithClient(client Client) Option {
	return func(p *Publisher) {
		p.client = client
	}
}

// WithFIFO enables FIFO topic semantics: the subject ID becomes the
// message group and the record hash the deduplication ID.
func WithFIFO() Option {
	return func(p *Publisher) {
		p.fifo = true
	}
}

// New creates an SNS Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Destination returns the destination prefix this publisher handles.
func (p *Publisher) Destination() string {
	return "sns"
}

// Publish sends relay messages to their topics. All messages are
// attempted even if some fail; errors are joined.
func (p *Publisher) Publish(ctx context.Context, messages []*cacaotrail.RelayMessage) error {
	if p.client == nil {
		return fmt.Errorf("sns: client not configured")
	}

	var errs []error
	for _, msg := range messages {
		topicARN := extractTopicARN(msg.Destination)
		if topicARN == "" {
			errs = append(errs, fmt.Errorf("sns: invalid destination %q: missing topic ARN", msg.Destination))
			continue
		}

		input := &sns.PublishInput{
			TopicArn:          &topicARN,
			Message:           stringPtr(string(msg.Payload)),
			MessageAttributes: messageAttributes(msg),
		}
		if p.fifo {
			input.MessageGroupId = stringPtr(msg.SubjectID)
			input.MessageDeduplicationId = stringPtr(msg.Hash)
		}

		if _, err := p.client.Publish(ctx, input); err != nil {
			errs = append(errs, fmt.Errorf("sns: failed to publish to %s: %w", topicARN, err))
		}
	}

	return errors.Join(errs...)
}

func messageAttributes(msg *cacaotrail.RelayMessage) map[string]types.MessageAttributeValue {
	attrs := map[string]types.MessageAttributeValue{
		"recordId":       stringAttr(msg.ID),
		"subjectId":      stringAttr(msg.SubjectID),
		"eventKind":      stringAttr(msg.Kind),
		"seq":            stringAttr(strconv.FormatInt(msg.Seq, 10)),
		"globalPosition": stringAttr(strconv.FormatUint(msg.GlobalPosition, 10)),
	}
	if msg.Metadata.CorrelationID != "" {
		attrs["correlationId"] = stringAttr(msg.Metadata.CorrelationID)
	}
	return attrs
}

func stringAttr(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    stringPtr("String"),
		StringValue: stringPtr(v),
	}
}

// extractTopicARN removes the "sns:" prefix from a destination.
func extractTopicARN(destination string) string {
	const prefix = "sns:"
	if strings.HasPrefix(destination, prefix) {
		return destination[len(prefix):]
	}
	return ""
}

func stringPtr(s string) *string {
	return &s
}
