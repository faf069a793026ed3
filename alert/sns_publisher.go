package alert

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
)

// SNSPublisher is a Publisher of SNS topics, addressed by ARN.
type SNSPublisher struct {
	client snsiface.SNSAPI
}

// NewSNSPublisher returns an SNSPublisher of the AWS session.
func NewSNSPublisher(sess *session.Session) *SNSPublisher {
	return &SNSPublisher{client: sns.New(sess)}
}

// NewSNSPublisherWithClient returns an SNSPublisher using the provided client.
func NewSNSPublisherWithClient(client snsiface.SNSAPI) *SNSPublisher {
	return &SNSPublisher{client: client}
}

// Publish implements Publisher. An empty subject is omitted.
func (p *SNSPublisher) Publish(ctx context.Context, topic, subject, message string) error {
	var in = &sns.PublishInput{
		TopicArn: aws.String(topic),
		Message:  aws.String(message),
	}
	if subject != "" {
		in.Subject = aws.String(subject)
		in.MessageStructure = aws.String("default")
	}
	var _, err = p.client.PublishWithContext(ctx, in)
	return err
}
