package capture

import (
	"context"

	"github.com/pkg/errors"
	"go.docrelay.dev/core/alert"
	"go.docrelay.dev/core/protocol"
	"go.docrelay.dev/core/relay"
	"go.docrelay.dev/core/staging"
)

// Sink delivers the normalized payloads of ChangeEvents.
type Sink interface {
	// Deliver the payload of the ChangeEvent. An error is fatal to the run.
	Deliver(ctx context.Context, ev protocol.ChangeEvent, payload []byte) error
	// Staging returns true if the Sink writes payloads to a blob store. Runs
	// of a staging Sink checkpoint only at run end.
	Staging() bool
}

// NewSink selects the Sink of the configured collaborators, any of which may
// be nil:
//
//   - With a staging Publisher, payloads are staged and their pointer
//     Envelopes are relayed. Without a Relay nothing would ever remove a
//     staged payload, so payloads are not staged at all.
//   - Otherwise, with an event topic, payloads are published to the topic.
//   - Otherwise, payloads are discarded.
func NewSink(pub *staging.Publisher, rel *relay.Relay, notifier *alert.Notifier) Sink {
	if pub != nil {
		return &StagedSink{Publisher: pub, Relay: rel}
	} else if notifier.HasEventTopic() {
		return &TopicSink{Notifier: notifier}
	}
	return DiscardSink{}
}

// StagedSink stages payloads and relays their Envelopes.
type StagedSink struct {
	Publisher *staging.Publisher
	// Relay of staged pointers. If nil, payloads are neither staged nor
	// relayed.
	Relay *relay.Relay
}

// Deliver implements Sink. The Envelope is relayed only after its payload
// is acknowledged by the blob store.
func (s *StagedSink) Deliver(ctx context.Context, ev protocol.ChangeEvent, payload []byte) error {
	if s.Relay == nil {
		return nil
	}
	var ptr, err = s.Publisher.Stage(ctx, ev, payload)
	if err != nil {
		return err
	}
	_, err = s.Relay.Publish(ctx, ev, ptr)
	return err
}

// Staging implements Sink. It's true whenever a blob store is configured,
// even if payloads aren't staged for lack of a Relay.
func (s *StagedSink) Staging() bool { return true }

// TopicSink publishes payloads to the event topic of a Notifier.
type TopicSink struct {
	Notifier *alert.Notifier
}

// Deliver implements Sink.
func (s *TopicSink) Deliver(ctx context.Context, ev protocol.ChangeEvent, payload []byte) error {
	return errors.WithMessagef(s.Notifier.PublishEvent(ctx, payload),
		"publishing event of %s", ev.DocumentID)
}

// Staging implements Sink.
func (s *TopicSink) Staging() bool { return false }

// DiscardSink counts events without delivering them.
type DiscardSink struct{}

// Deliver implements Sink.
func (DiscardSink) Deliver(context.Context, protocol.ChangeEvent, []byte) error { return nil }

// Staging implements Sink.
func (DiscardSink) Staging() bool { return false }
