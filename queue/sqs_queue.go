package queue

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// SQSConfig configures the AWS session of an SQSQueue.
type SQSConfig struct {
	Region   string
	Endpoint string
	Profile  string
}

// SQSQueue is a Queue of an SQS FIFO queue.
type SQSQueue struct {
	url    string
	client sqsiface.SQSAPI
}

// NewSQSQueue builds an SQSQueue of the queue URL.
func NewSQSQueue(queueURL string, cfg SQSConfig) (*SQSQueue, error) {
	var awsConfig = aws.NewConfig()
	if cfg.Region != "" {
		awsConfig.WithRegion(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsConfig.WithEndpoint(cfg.Endpoint)
	}
	var awsSession, err = session.NewSessionWithOptions(session.Options{
		Config:            *awsConfig,
		Profile:           cfg.Profile,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "constructing SQS session")
	}

	log.WithFields(log.Fields{
		"queue":    queueURL,
		"endpoint": cfg.Endpoint,
		"region":   aws.StringValue(awsSession.Config.Region),
	}).Info("constructed new SQS queue")

	return NewSQSQueueWithClient(queueURL, sqs.New(awsSession)), nil
}

// NewSQSQueueWithClient returns an SQSQueue using the provided client.
func NewSQSQueueWithClient(queueURL string, client sqsiface.SQSAPI) *SQSQueue {
	return &SQSQueue{url: queueURL, client: client}
}

// Send implements Queue.
func (q *SQSQueue) Send(ctx context.Context, body, deduplicationID, groupID string) (string, error) {
	var out, err = q.client.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(q.url),
		MessageBody:            aws.String(body),
		MessageDeduplicationId: aws.String(deduplicationID),
		MessageGroupId:         aws.String(groupID),
	})
	if err != nil {
		return "", err
	}
	return aws.StringValue(out.MessageId), nil
}

// Receive implements Queue. At most one message is returned, and it remains
// visible to other receivers.
func (q *SQSQueue) Receive(ctx context.Context) (Message, bool, error) {
	var out, err = q.client.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: aws.Int64(1),
		VisibilityTimeout:   aws.Int64(0),
		WaitTimeSeconds:     aws.Int64(0),
	})
	if err != nil {
		return Message{}, false, err
	} else if len(out.Messages) == 0 {
		return Message{}, false, nil
	}
	var m = out.Messages[0]

	return Message{
		ID:            aws.StringValue(m.MessageId),
		Body:          aws.StringValue(m.Body),
		ReceiptHandle: aws.StringValue(m.ReceiptHandle),
	}, true, nil
}

// Delete implements Queue.
func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	var _, err = q.client.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	return err
}
