package queue

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// MemoryQueue is an in-memory Queue for testing. Every Receive returns the
// oldest undeleted message under a fresh receipt handle, which models a
// zero visibility timeout.
type MemoryQueue struct {
	mu       sync.Mutex
	seq      int
	messages []MemoryMessage
	receipts map[string]string // Receipt handle => message ID.

	// SendErr, if set, is consulted by each Send. A non-nil error fails the Send.
	SendErr func(body string) error
	// DeleteErr, if set, is consulted by each Delete. A non-nil error fails
	// the Delete, and the message remains.
	DeleteErr func(receiptHandle string) error
}

// MemoryMessage is a message sent to a MemoryQueue.
type MemoryMessage struct {
	ID              string
	Body            string
	DeduplicationID string
	GroupID         string
	// Receives counts deliveries of the message.
	Receives int
}

var _ Queue = &MemoryQueue{} // MemoryQueue is-a Queue.

// NewMemoryQueue returns an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{receipts: make(map[string]string)}
}

// Send implements Queue.
func (q *MemoryQueue) Send(_ context.Context, body, deduplicationID, groupID string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.SendErr != nil {
		if err := q.SendErr(body); err != nil {
			return "", err
		}
	}
	q.seq++
	var id = "m" + strconv.Itoa(q.seq)

	q.messages = append(q.messages, MemoryMessage{
		ID:              id,
		Body:            body,
		DeduplicationID: deduplicationID,
		GroupID:         groupID,
	})
	return id, nil
}

// Receive implements Queue.
func (q *MemoryQueue) Receive(context.Context) (Message, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) == 0 {
		return Message{}, false, nil
	}
	q.seq++
	var m = &q.messages[0]
	var receipt = "r" + strconv.Itoa(q.seq)

	m.Receives++
	q.receipts[receipt] = m.ID

	return Message{ID: m.ID, Body: m.Body, ReceiptHandle: receipt}, true, nil
}

// Delete implements Queue.
func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.DeleteErr != nil {
		if err := q.DeleteErr(receiptHandle); err != nil {
			return err
		}
	}
	var id, ok = q.receipts[receiptHandle]
	if !ok {
		return errors.Errorf("unknown receipt handle %q", receiptHandle)
	}
	delete(q.receipts, receiptHandle)

	for i := range q.messages {
		if q.messages[i].ID == id {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			break
		}
	}
	return nil
}

// Messages returns a copy of the undeleted messages, in send order.
func (q *MemoryQueue) Messages() []MemoryMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]MemoryMessage(nil), q.messages...)
}
