// Package queue relays pointer envelopes through an ordered (FIFO) queue.
package queue

import (
	"context"
	"net/url"

	"github.com/pkg/errors"
)

// Message received from a Queue.
type Message struct {
	ID   string
	Body string
	// ReceiptHandle by which the Message is deleted.
	ReceiptHandle string
}

// Queue is an ordered queue of messages. Messages of the same group are
// delivered in the order they were sent.
type Queue interface {
	// Send a message body having the deduplication and group IDs,
	// returning its assigned message ID.
	Send(ctx context.Context, body, deduplicationID, groupID string) (string, error)
	// Receive polls for a single message without blocking. A received
	// message is immediately visible to other receivers until deleted.
	Receive(ctx context.Context) (Message, bool, error)
	// Delete a received message.
	Delete(ctx context.Context, receiptHandle string) error
}

// Open the Queue of |rawURL|: an https:// SQS queue URL, or memory://name.
func Open(rawURL string, cfg SQSConfig) (Queue, error) {
	var ep, err = url.Parse(rawURL)
	if err != nil {
		return nil, errors.WithMessage(err, "parsing queue URL")
	}
	switch ep.Scheme {
	case "https", "http":
		return NewSQSQueue(rawURL, cfg)
	case "memory":
		return NewMemoryQueue(), nil
	default:
		return nil, errors.Errorf("unsupported queue scheme %q", ep.Scheme)
	}
}
