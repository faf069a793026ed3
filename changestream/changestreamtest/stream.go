// Package changestreamtest provides an in-memory changestream.Source, which
// behaves like a change stream of a document database: writes append change
// records to a log, and Cursors resume from the position of any record.
package changestreamtest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"go.docrelay.dev/core/changestream"
	"go.docrelay.dev/core/protocol"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Stream is an in-memory changestream.Source.
type Stream struct {
	mu      sync.Mutex
	records []record
	purged  int // Records before this index are no longer resumable.
	seq     int

	// Clock returns the cluster time of appended records.
	Clock func() time.Time

	// CanaryInserts and CanaryDeletes count canary writes.
	CanaryInserts, CanaryDeletes int
	// CanaryLag is the number of empty polls which pass after a canary delete
	// before its change record becomes visible.
	CanaryLag int

	// OpenErr, if set, is returned by the next Open.
	OpenErr error
	// TryNextErr, if set, is returned by the next TryNext.
	TryNextErr error
	// Opens records the resume Token of each Open.
	Opens []protocol.Token

	lagRemaining int
}

type record struct {
	ns    protocol.Namespace
	token protocol.Token
	raw   bson.Raw
}

var _ changestream.Source = &Stream{} // Stream is-a Source.

// NewStream returns an empty Stream.
func NewStream() *Stream {
	return &Stream{Clock: func() time.Time { return time.Unix(1700000000, 0) }}
}

// Insert appends an insert record of |doc|, which must have an "_id".
func (s *Stream) Insert(ns protocol.Namespace, doc bson.D) protocol.Token {
	return s.append("insert", ns, idOf(doc), doc)
}

// Update appends an update record carrying the current |doc|.
func (s *Stream) Update(ns protocol.Namespace, doc bson.D) protocol.Token {
	return s.append("update", ns, idOf(doc), doc)
}

// Delete appends a delete record of the document ID.
func (s *Stream) Delete(ns protocol.Namespace, id interface{}) protocol.Token {
	return s.append("delete", ns, id, nil)
}

// Other appends a record of an operation type having no document.
func (s *Stream) Other(ns protocol.Namespace, opType string) protocol.Token {
	return s.append(opType, ns, nil, nil)
}

// Purge marks all current records as no longer resumable.
func (s *Stream) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purged = len(s.records)
}

// Tokens returns the Tokens of all records, in order.
func (s *Stream) Tokens() []protocol.Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []protocol.Token
	for _, r := range s.records {
		out = append(out, r.token)
	}
	return out
}

func (s *Stream) append(opType string, ns protocol.Namespace, id interface{}, doc bson.D) protocol.Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	var token, err = bson.Marshal(bson.D{{Key: "_data", Value: fmt.Sprintf("%016X", s.seq)}})
	if err != nil {
		panic(err)
	}
	var ts = s.Clock()

	var raw = bson.D{
		{Key: "_id", Value: bson.Raw(token)},
		{Key: "operationType", Value: opType},
		{Key: "clusterTime", Value: primitive.Timestamp{T: uint32(ts.Unix()), I: uint32(s.seq)}},
		{Key: "ns", Value: bson.D{{Key: "db", Value: ns.Database}, {Key: "coll", Value: ns.Collection}}},
	}
	if id != nil {
		raw = append(raw, bson.E{Key: "documentKey", Value: bson.D{{Key: "_id", Value: id}}})
	}
	if doc != nil {
		raw = append(raw, bson.E{Key: "fullDocument", Value: doc})
	}
	b, err := bson.Marshal(raw)
	if err != nil {
		panic(err)
	}
	s.records = append(s.records, record{ns: ns, token: token, raw: b})
	return token
}

// Open implements changestream.Source.
func (s *Stream) Open(_ context.Context, target protocol.WatchTarget, resumeAfter protocol.Token) (changestream.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Opens = append(s.Opens, resumeAfter)
	if err := s.OpenErr; err != nil {
		s.OpenErr = nil
		return nil, err
	}

	var next = len(s.records)
	if !resumeAfter.IsZero() {
		next = -1
		for i := s.purged; i != len(s.records); i++ {
			if bytes.Equal(s.records[i].token, resumeAfter) {
				next = i + 1
			}
		}
		if next == -1 {
			return nil, &changestream.PurgedError{
				Code: changestream.CodeCappedPositionLost,
				Err:  fmt.Errorf("resume token %s was not found", resumeAfter),
			}
		}
	}
	return &cursor{stream: s, target: target, next: next, token: resumeAfter}, nil
}

// InsertCanary implements changestream.Source.
func (s *Stream) InsertCanary(_ context.Context, target protocol.WatchTarget) (string, error) {
	var id = fmt.Sprintf("canary-%d", s.CanaryInserts+1)
	s.append("insert", protocol.Namespace{Database: target.Database, Collection: target.CanaryCollection()},
		id, bson.D{{Key: "_id", Value: id}, {Key: "op_canary", Value: "canary"}})
	s.CanaryInserts++
	return id, nil
}

// DeleteCanary implements changestream.Source.
func (s *Stream) DeleteCanary(_ context.Context, target protocol.WatchTarget, id string) error {
	s.append("delete", protocol.Namespace{Database: target.Database, Collection: target.CanaryCollection()}, id, nil)
	s.CanaryDeletes++
	s.lagRemaining = s.CanaryLag
	return nil
}

type cursor struct {
	stream *Stream
	target protocol.WatchTarget
	next   int
	token  protocol.Token
	closed bool
}

func (c *cursor) Alive() bool { return !c.closed }

func (c *cursor) TryNext(context.Context) (bson.Raw, bool, error) {
	var s = c.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.TryNextErr; err != nil {
		s.TryNextErr = nil
		return nil, false, err
	}
	if s.lagRemaining != 0 {
		s.lagRemaining--
		return nil, false, nil
	}
	for ; c.next < len(s.records); c.next++ {
		var r = s.records[c.next]
		if r.ns.Database != c.target.Database ||
			(!c.target.DatabaseLevel && r.ns.Collection != c.target.Collection) {
			continue
		}
		c.next++
		c.token = r.token
		return r.raw, true, nil
	}
	return nil, false, nil
}

func (c *cursor) ResumeToken() protocol.Token { return c.token }

func (c *cursor) Close(context.Context) error {
	c.closed = true
	return nil
}

func idOf(doc bson.D) interface{} {
	for _, e := range doc {
		if e.Key == "_id" {
			return e.Value
		}
	}
	panic("document has no _id")
}
