package sns

import (
	"context"
	"fmt"
	"testing"

	awssns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cacaotrail/cacaotrail"
)

var _ cacaotrail.Publisher = (*Publisher)(nil)

type fakeClient struct {
	inputs []*awssns.PublishInput
	err    error
}

func (c *fakeClient) Publish(ctx context.Context, params *awssns.PublishInput, optFns ...func(*awssns.Options)) (*awssns.PublishOutput, error) {
	c.inputs = append(c.inputs, params)
	if c.err != nil {
		return nil, c.err
	}
	return &awssns.PublishOutput{}, nil
}

const topicARN = "arn:aws:sns:eu-west-1:123456789012:provenance"

func relayMessage(dest string) *cacaotrail.RelayMessage {
	return &cacaotrail.RelayMessage{
		ID:             "rec-1",
		SubjectID:      "Product-p1",
		Kind:           "Sold",
		Payload:        []byte(`{"buyer":"store"}`),
		Metadata:       cacaotrail.Metadata{CorrelationID: "corr-1"},
		Seq:            4,
		Hash:           "deadbeef",
		GlobalPosition: 9,
		Destination:    dest,
	}
}

func TestPublisher_Destination(t *testing.T) {
	assert.Equal(t, "sns", New().Destination())
}

func TestExtractTopicARN(t *testing.T) {
	assert.Equal(t, topicARN, extractTopicARN("sns:"+topicARN))
	assert.Equal(t, "", extractTopicARN("kafka:provenance"))
	assert.Equal(t, "", extractTopicARN("sns"))
}

func TestPublisher_Publish(t *testing.T) {
	t.Run("no client configured", func(t *testing.T) {
		err := New().Publish(context.Background(), []*cacaotrail.RelayMessage{relayMessage("sns:" + topicARN)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "client not configured")
	})

	t.Run("publishes with attributes", func(t *testing.T) {
		client := &fakeClient{}
		p := New(WithClient(client))

		err := p.Publish(context.Background(), []*cacaotrail.RelayMessage{relayMessage("sns:" + topicARN)})
		require.NoError(t, err)
		require.Len(t, client.inputs, 1)

		input := client.inputs[0]
		assert.Equal(t, topicARN, *input.TopicArn)
		assert.Equal(t, `{"buyer":"store"}`, *input.Message)
		assert.Equal(t, "Sold", *input.MessageAttributes["eventKind"].StringValue)
		assert.Equal(t, "corr-1", *input.MessageAttributes["correlationId"].StringValue)
		assert.Nil(t, input.MessageGroupId)
	})

	t.Run("fifo uses subject group and hash dedup", func(t *testing.T) {
		client := &fakeClient{}
		p := New(WithClient(client), WithFIFO())

		err := p.Publish(context.Background(), []*cacaotrail.RelayMessage{relayMessage("sns:" + topicARN)})
		require.NoError(t, err)
		require.Len(t, client.inputs, 1)

		input := client.inputs[0]
		assert.Equal(t, "Product-p1", *input.MessageGroupId)
		assert.Equal(t, "deadbeef", *input.MessageDeduplicationId)
	})

	t.Run("missing ARN and client error are joined", func(t *testing.T) {
		client := &fakeClient{err: fmt.Errorf("throttled")}
		p := New(WithClient(client))

		err := p.Publish(context.Background(), []*cacaotrail.RelayMessage{
			relayMessage("sns:"),
			relayMessage("sns:" + topicARN),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing topic ARN")
		assert.Contains(t, err.Error(), "throttled")
	})
}
