package staging

import (
	"context"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.docrelay.dev/core/codecs"
	"go.docrelay.dev/core/metrics"
	"go.docrelay.dev/core/protocol"
)

// Publisher stages the payloads of ChangeEvents into a BlobStore.
type Publisher struct {
	Store BlobStore
	// Prefix of staged object keys. May be empty.
	Prefix string
	// Codec with which payloads are compressed.
	Codec codecs.Codec
	// Now returns the processing time of a staged payload.
	Now func() time.Time
}

// NewPublisher returns a Publisher of the BlobStore and key prefix.
func NewPublisher(store BlobStore, prefix string, codec codecs.Codec) *Publisher {
	return &Publisher{Store: store, Prefix: prefix, Codec: codec, Now: time.Now}
}

// ObjectKey returns the key under which a payload of the document is staged
// on the processing |day|: "[prefix/]database/collection/yyyy/mm/dd/documentId".
func ObjectKey(prefix string, ns protocol.Namespace, day time.Time, documentID string) string {
	return path.Join(prefix, ns.Database, ns.Collection, day.UTC().Format("2006/01/02"), documentID)
}

// Stage writes the normalized |payload| of the ChangeEvent and returns its
// StagedPointer. A StagedPointer is returned only if the BlobStore
// acknowledged the write.
func (p *Publisher) Stage(ctx context.Context, ev protocol.ChangeEvent, payload []byte) (protocol.StagedPointer, error) {
	var now = time.Now
	if p.Now != nil {
		now = p.Now
	}
	var key = ObjectKey(p.Prefix, ev.Namespace, now(), ev.DocumentID)

	var codec = p.Codec
	if codec == "" {
		codec = codecs.None
	}

	var body, err = codecs.Encode(payload, codec)
	if err != nil {
		return protocol.StagedPointer{}, errors.WithMessage(err, "encoding payload")
	}
	version, err := p.Store.Put(ctx, key, body, codec.ContentEncoding())
	if err != nil {
		metrics.StagedObjectsTotal.WithLabelValues(metrics.Fail).Inc()
		return protocol.StagedPointer{}, errors.WithMessagef(err, "staging %s://%s/%s",
			p.Store.Provider(), p.Store.Bucket(), key)
	}
	metrics.StagedObjectsTotal.WithLabelValues(metrics.Ok).Inc()
	metrics.StagedBytesTotal.Add(float64(len(body)))

	log.WithFields(log.Fields{
		"key":     key,
		"version": version,
		"size":    humanize.Bytes(uint64(len(body))),
		"codec":   codec,
	}).Debug("staged payload")

	return protocol.StagedPointer{
		Bucket:     p.Store.Bucket(),
		Key:        key,
		Version:    version,
		Database:   ev.Namespace.Database,
		Collection: ev.Namespace.Collection,
		DocumentID: ev.DocumentID,
	}, nil
}
