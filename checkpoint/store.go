// Package checkpoint persists the last successfully processed change-stream
// position of each WatchTarget.
//
// Records are created lazily by Load, which also increments the Record's
// fence. Save succeeds only if the fence is unchanged since the Record was
// loaded: a capture run which overlaps a later run of the same WatchTarget
// fails to checkpoint rather than silently regressing the later run's position.
package checkpoint

import (
	"context"
	"net/url"

	"github.com/pkg/errors"
	"go.docrelay.dev/core/protocol"
	"go.mongodb.org/mongo-driver/mongo"
)

// Store is a durable key/value record of checkpoints, keyed on WatchTarget.
type Store interface {
	// Load the Record of the WatchTarget, creating it if it doesn't exist.
	// The returned Record's Fence is incremented from its stored value.
	Load(context.Context, protocol.WatchTarget) (protocol.Record, error)
	// Save the Record's LastProcessed position. An empty position resets the
	// Record to having no position. Save fails with ErrFenced if the Record
	// was loaded again after the Record being saved.
	Save(context.Context, protocol.Record) error
	// List all current Records.
	List(context.Context) ([]protocol.Record, error)
}

// ErrFenced is returned by Save when a later Load has fenced the Record.
var ErrFenced = errors.New("checkpoint fence was updated (ie, by an overlapping run)")

// Reset the WatchTarget's Record to having no position.
func Reset(ctx context.Context, s Store, target protocol.WatchTarget) error {
	var rec, err = s.Load(ctx, target)
	if err != nil {
		return errors.WithMessage(err, "loading checkpoint")
	}
	rec.LastProcessed = nil
	return errors.WithMessage(s.Save(ctx, rec), "saving checkpoint")
}

// Open the Store identified by |rawURL|:
//
//   - An empty URL or a "mongodb" scheme selects a MongoStore over the
//     state collection returned by |state|.
//   - "postgres" and "sqlite3" schemes select a SQLStore.
//   - "file" selects a FileStore rooted at the URL path.
//   - "memory" selects a new MemoryStore.
func Open(ctx context.Context, rawURL string, state func(context.Context) (*mongo.Collection, error)) (Store, error) {
	if rawURL == "" {
		rawURL = "mongodb:"
	}
	var ep, err = url.Parse(rawURL)
	if err != nil {
		return nil, errors.WithMessage(err, "parsing checkpoint store URL")
	}

	switch ep.Scheme {
	case "mongodb", "mongodb+srv":
		if state == nil {
			return nil, errors.New("mongodb checkpoint store requires a source state collection")
		}
		var coll, err = state(ctx)
		if err != nil {
			return nil, errors.WithMessage(err, "resolving state collection")
		}
		return NewMongoStore(coll), nil
	case "postgres", "postgresql":
		return OpenSQLStore(ctx, "postgres", rawURL)
	case "sqlite3":
		return OpenSQLStore(ctx, "sqlite3", ep.Opaque+ep.Host+ep.Path)
	case "file":
		return NewFileStore(nil, ep.Path), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, errors.Errorf("unsupported checkpoint store scheme %q", ep.Scheme)
	}
}
