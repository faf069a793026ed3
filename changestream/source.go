// Package changestream opens resumable change streams of a source document
// database, issues the bootstrap canary writes which manufacture an initial
// stream position, and classifies raw change records into protocol.ChangeEvents.
package changestream

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.docrelay.dev/core/protocol"
	"go.mongodb.org/mongo-driver/bson"
)

// Source of change streams.
type Source interface {
	// Open a Cursor of the WatchTarget's change stream, positioned after the
	// Token or at the current tail of the stream if the Token is empty.
	// Update events carry the current full document.
	Open(ctx context.Context, target protocol.WatchTarget, resumeAfter protocol.Token) (Cursor, error)
	// InsertCanary writes a synthetic canary document into the WatchTarget,
	// returning its document ID.
	InsertCanary(ctx context.Context, target protocol.WatchTarget) (string, error)
	// DeleteCanary removes the canary document of the given ID.
	DeleteCanary(ctx context.Context, target protocol.WatchTarget, id string) error
}

// Cursor of an open change stream.
type Cursor interface {
	// Alive returns false once the Cursor can produce no further events.
	Alive() bool
	// TryNext polls for the next available change record without blocking.
	// If no record is ready, it returns false and a nil error.
	TryNext(ctx context.Context) (bson.Raw, bool, error)
	// ResumeToken returns the Token from which a new Cursor would resume
	// immediately after the last record returned by TryNext.
	ResumeToken() protocol.Token
	// Close the Cursor.
	Close(ctx context.Context) error
}

// ErrPositionPurged is matched (via errors.Is) by errors reporting that the
// stream no longer holds history at the requested resume position.
var ErrPositionPurged = errors.New("change stream history for the resume position has been purged")

// PurgedError wraps an error of the source which reports that the requested
// resume position is no longer available.
type PurgedError struct {
	Code int
	Err  error
}

func (e *PurgedError) Error() string {
	return fmt.Sprintf("%s (code %d): %s", ErrPositionPurged, e.Code, e.Err)
}

// Is returns true if |target| is ErrPositionPurged.
func (e *PurgedError) Is(target error) bool { return target == ErrPositionPurged }

// Unwrap returns the underlying source error.
func (e *PurgedError) Unwrap() error { return e.Err }

// Server error codes which report a purged resume position.
const (
	// CodeCappedPositionLost is returned by DocumentDB when the change stream
	// log no longer holds the resume position.
	CodeCappedPositionLost = 136
	// CodeChangeStreamHistoryLost is returned by MongoDB when the oplog no
	// longer holds the resume position.
	CodeChangeStreamHistoryLost = 286
)
