package alert

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertPublishesWithSubject(t *testing.T) {
	var pub = &MemoryPublisher{}
	var n = &Notifier{Publisher: pub, AlertTopic: "arn:alerts", EventTopic: "arn:events"}

	n.Alert(context.Background(), "it broke")
	require.NoError(t, n.PublishEvent(context.Background(), []byte(`{"_id":"a1"}`)))

	assert.Equal(t, []Published{{Topic: "arn:alerts", Subject: Subject, Message: "it broke"}},
		pub.Messages("arn:alerts"))
	assert.Equal(t, []Published{{Topic: "arn:events", Message: `{"_id":"a1"}`}},
		pub.Messages("arn:events"))
}

func TestAlertFailuresAreSwallowed(t *testing.T) {
	var pub = &MemoryPublisher{Err: errors.New("unreachable")}
	var n = &Notifier{Publisher: pub, AlertTopic: "arn:alerts", EventTopic: "arn:events"}

	n.Alert(context.Background(), "it broke") // Doesn't panic or block.

	// Event publication failures are returned.
	assert.EqualError(t, n.PublishEvent(context.Background(), []byte("{}")), "unreachable")
}

func TestUnconfiguredNotifier(t *testing.T) {
	var n *Notifier
	n.Alert(context.Background(), "logged only")
	assert.False(t, n.HasEventTopic())
	assert.NoError(t, n.PublishEvent(context.Background(), []byte("{}")))

	n = &Notifier{Publisher: LogPublisher{}}
	n.Alert(context.Background(), "logged only")
	assert.False(t, n.HasEventTopic())
}

func TestSNSPublisherRequest(t *testing.T) {
	var client = &fakeSNS{}
	var p = NewSNSPublisherWithClient(client)

	require.NoError(t, p.Publish(context.Background(), "arn:alerts", Subject, "msg"))
	assert.Equal(t, "arn:alerts", aws.StringValue(client.in.TopicArn))
	assert.Equal(t, Subject, aws.StringValue(client.in.Subject))
	assert.Equal(t, "default", aws.StringValue(client.in.MessageStructure))

	require.NoError(t, p.Publish(context.Background(), "arn:events", "", "payload"))
	assert.Nil(t, client.in.Subject)
	assert.Equal(t, "payload", aws.StringValue(client.in.Message))
}

type fakeSNS struct {
	snsiface.SNSAPI
	in *sns.PublishInput
}

func (f *fakeSNS) PublishWithContext(_ aws.Context, in *sns.PublishInput, _ ...request.Option) (*sns.PublishOutput, error) {
	f.in = in
	return &sns.PublishOutput{MessageId: aws.String("id")}, nil
}
