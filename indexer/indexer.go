// Package indexer applies relayed pointer Envelopes to a search index.
//
// Each queue message is processed by resolving its staged payload by exact
// version, upserting the payload into the index "database-collection" under
// the document ID, and then deleting the message and the staged payload
// version. Failures leave the message in the queue, where it is immediately
// redelivered. Upserts are idempotent, which makes redelivery safe.
package indexer

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.docrelay.dev/core/codecs"
	"go.docrelay.dev/core/metrics"
	"go.docrelay.dev/core/protocol"
	"go.docrelay.dev/core/queue"
	"go.docrelay.dev/core/staging"
)

// SearchIndex is a document search index.
type SearchIndex interface {
	// Upsert the JSON document |body| into |index| under |id|.
	Upsert(ctx context.Context, index, id string, body []byte) error
}

// Result of processing a single message.
type Result int

const (
	// Applied messages were upserted into the index.
	Applied Result = iota
	// Skipped messages were previously applied, and only removed.
	Skipped
)

func (r Result) String() string {
	switch r {
	case Applied:
		return "applied"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Indexer applies queue messages to a SearchIndex.
type Indexer struct {
	Queue queue.Queue
	Blobs staging.BlobStore
	Index SearchIndex

	// applied caches recently applied (index, id, version) triples.
	applied *lru.Cache
}

// DefaultAppliedCacheSize is the default number of applied versions
// remembered by an Indexer.
const DefaultAppliedCacheSize = 4096

// New returns an Indexer which remembers |cacheSize| applied versions.
func New(q queue.Queue, blobs staging.BlobStore, index SearchIndex, cacheSize int) (*Indexer, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultAppliedCacheSize
	}
	var cache, err = lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Indexer{Queue: q, Blobs: blobs, Index: index, applied: cache}, nil
}

// Drain processes messages until the Queue is empty or |max| messages have
// been processed. It returns the number of processed messages, and stops at
// the first failure.
func (ix *Indexer) Drain(ctx context.Context, max int) (int, error) {
	var n int
	for ; n < max; n++ {
		var msg, ok, err = ix.Queue.Receive(ctx)
		if err != nil {
			return n, errors.WithMessage(err, "receiving message")
		} else if !ok {
			break
		}
		if _, err = ix.Process(ctx, msg); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Process a single message.
func (ix *Indexer) Process(ctx context.Context, msg queue.Message) (Result, error) {
	var started = time.Now()
	var res, err = ix.process(ctx, msg)

	if err != nil {
		metrics.IndexerMessagesTotal.WithLabelValues(metrics.Fail).Inc()
		log.WithFields(log.Fields{
			"messageId": msg.ID,
			"err":       err,
		}).Warn("failed to process message")
		return res, err
	}
	metrics.IndexerMessagesTotal.WithLabelValues(res.String()).Inc()
	metrics.IndexerApplySeconds.Observe(time.Since(started).Seconds())
	return res, nil
}

func (ix *Indexer) process(ctx context.Context, msg queue.Message) (Result, error) {
	var env, err = protocol.UnmarshalEnvelope(msg.Body)
	if err != nil {
		return Applied, errors.WithMessagef(err, "decoding message %s", msg.ID)
	}
	var ptr = env.Pointer
	var key = appliedKey{index: ptr.Index(), id: ptr.DocumentID, version: ptr.Version}

	var entry = log.WithFields(log.Fields{
		"messageId": msg.ID,
		"index":     key.index,
		"docId":     key.id,
		"version":   key.version,
	})

	if ptr.Version != "" && ix.applied.Contains(key) {
		// A redelivery of an applied message, which wasn't removed or whose
		// payload wasn't removed. Finish removing both.
		if err = ix.remove(ctx, msg, ptr); err != nil {
			return Skipped, err
		}
		entry.Debug("skipped previously applied message")
		return Skipped, nil
	}

	body, enc, err := ix.Blobs.Get(ctx, ptr.Key, ptr.Version)
	if err != nil {
		return Applied, errors.WithMessagef(err, "resolving staged payload %s@%s", ptr.Key, ptr.Version)
	}
	codec, err := codecs.FromContentEncoding(enc)
	if err != nil {
		return Applied, err
	} else if body, err = codecs.Decode(body, codec); err != nil {
		return Applied, errors.WithMessagef(err, "decoding staged payload %s@%s", ptr.Key, ptr.Version)
	}

	if err = ix.Index.Upsert(ctx, key.index, key.id, body); err != nil {
		return Applied, errors.WithMessagef(err, "upserting %s/%s", key.index, key.id)
	}
	ix.applied.Add(key, struct{}{})

	if err = ix.remove(ctx, msg, ptr); err != nil {
		return Applied, err
	}
	entry.Debug("applied message")
	return Applied, nil
}

// remove the message, and then its staged payload version. Deleting a
// removed version is not an error.
func (ix *Indexer) remove(ctx context.Context, msg queue.Message, ptr protocol.StagedPointer) error {
	if err := ix.Queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		return errors.WithMessage(err, "deleting message")
	} else if err = ix.Blobs.Delete(ctx, ptr.Key, ptr.Version); err != nil {
		return errors.WithMessagef(err, "deleting staged payload %s@%s", ptr.Key, ptr.Version)
	}
	return nil
}

type appliedKey struct {
	index, id, version string
}
