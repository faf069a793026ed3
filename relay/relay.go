// Package relay publishes the pointer Envelopes of staged change events.
package relay

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.docrelay.dev/core/metrics"
	"go.docrelay.dev/core/protocol"
	"go.docrelay.dev/core/queue"
)

// Relay publishes Envelopes to a Queue. Envelopes of a (database, collection)
// pair share a group, and are delivered in publication order. Envelopes are
// deduplicated on their document identity.
type Relay struct {
	Queue queue.Queue
}

// New returns a Relay of the Queue.
func New(q queue.Queue) *Relay { return &Relay{Queue: q} }

// Publish the Envelope of a ChangeEvent staged at the StagedPointer. Publish
// does not retry: a failure is returned to the caller.
func (r *Relay) Publish(ctx context.Context, ev protocol.ChangeEvent, ptr protocol.StagedPointer) (protocol.Envelope, error) {
	var env = protocol.NewEnvelope(ev, ptr)

	if err := env.Validate(); err != nil {
		return env, errors.WithMessage(err, "building envelope")
	}
	var body, err = protocol.MarshalEnvelope(env)
	if err != nil {
		return env, errors.WithMessage(err, "encoding envelope")
	}

	id, err := r.Queue.Send(ctx, body, env.DeduplicationID(), env.GroupID())
	if err != nil {
		metrics.RelayedEnvelopesTotal.WithLabelValues(metrics.Fail).Inc()
		return env, errors.WithMessagef(err, "relaying envelope of %s", env.DeduplicationID())
	}
	metrics.RelayedEnvelopesTotal.WithLabelValues(metrics.Ok).Inc()

	log.WithFields(log.Fields{
		"messageId": id,
		"docId":     env.DeduplicationID(),
		"group":     env.GroupID(),
		"op":        env.OperationType,
	}).Debug("relayed envelope")

	return env, nil
}
