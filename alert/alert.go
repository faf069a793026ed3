// Package alert publishes operator alerts and change-event notifications.
//
// Alerts are best-effort: a failure to publish an alert is logged and
// otherwise ignored, as there is no further channel through which to report it.
package alert

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
	"go.docrelay.dev/core/metrics"
)

// Subject of every published alert.
const Subject = "Document DB Replication Alarm"

// Publisher publishes messages to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, subject, message string) error
}

// Notifier publishes alerts to an alert topic and, optionally, normalized
// change-event payloads to an event topic.
type Notifier struct {
	Publisher  Publisher
	AlertTopic string
	EventTopic string
}

// Alert publishes |message| to the alert topic. Publication errors are
// logged and not returned. If no alert topic is configured, the alert is
// only logged.
func (n *Notifier) Alert(ctx context.Context, message string) {
	var entry = log.WithFields(log.Fields{
		"topic":   n.alertTopic(),
		"message": message,
	})
	if n == nil || n.Publisher == nil || n.AlertTopic == "" {
		entry.Error("alert (no alert topic configured)")
		return
	}

	if err := n.Publisher.Publish(ctx, n.AlertTopic, Subject, message); err != nil {
		metrics.AlertsTotal.WithLabelValues(metrics.Fail).Inc()
		entry.WithField("err", err).Warn("failed to publish alert")
		return
	}
	metrics.AlertsTotal.WithLabelValues(metrics.Ok).Inc()
	entry.Info("published alert")
}

// HasEventTopic returns true if an event topic is configured.
func (n *Notifier) HasEventTopic() bool {
	return n != nil && n.Publisher != nil && n.EventTopic != ""
}

// PublishEvent publishes a normalized change-event payload to the event
// topic. Unlike alerts, failures are returned to the caller.
func (n *Notifier) PublishEvent(ctx context.Context, payload []byte) error {
	if !n.HasEventTopic() {
		return nil
	}
	return n.Publisher.Publish(ctx, n.EventTopic, "", string(payload))
}

func (n *Notifier) alertTopic() string {
	if n == nil {
		return ""
	}
	return n.AlertTopic
}

// LogPublisher is a Publisher which logs messages without delivering them.
type LogPublisher struct{}

// Publish implements Publisher.
func (LogPublisher) Publish(_ context.Context, topic, subject, message string) error {
	log.WithFields(log.Fields{
		"topic":   topic,
		"subject": subject,
		"message": message,
	}).Info("publish (log only)")
	return nil
}

// MemoryPublisher is a Publisher which records published messages, for testing.
type MemoryPublisher struct {
	mu        sync.Mutex
	Published []Published
	// Err, if set, is returned by every Publish.
	Err error
}

// Published is a message recorded by a MemoryPublisher.
type Published struct {
	Topic, Subject, Message string
}

// Publish implements Publisher.
func (p *MemoryPublisher) Publish(_ context.Context, topic, subject, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return p.Err
	}
	p.Published = append(p.Published, Published{Topic: topic, Subject: subject, Message: message})
	return nil
}

// Messages returns the recorded messages of |topic|.
func (p *MemoryPublisher) Messages(topic string) []Published {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Published
	for _, m := range p.Published {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
