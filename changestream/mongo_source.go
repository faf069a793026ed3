package changestream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/url"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.docrelay.dev/core/protocol"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig configures a connection to a MongoDB or DocumentDB cluster.
type MongoConfig struct {
	// URI is either a complete mongodb:// or mongodb+srv:// connection
	// string, or a bare host list (eg "cluster.example.com:27017") into which
	// Username and Password are composed.
	URI      string
	Username string
	Password string
	// TLSCAFile is an optional PEM bundle of certificate authorities to trust.
	TLSCAFile string
}

// ConnectionString returns the connection string of the MongoConfig.
func (cfg MongoConfig) ConnectionString() string {
	if strings.HasPrefix(cfg.URI, "mongodb://") || strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return cfg.URI
	}
	var s = "mongodb://"
	if cfg.Username != "" {
		s += url.QueryEscape(cfg.Username) + ":" + url.QueryEscape(cfg.Password) + "@"
	}
	return s + cfg.URI
}

// Connect builds a *mongo.Client of the MongoConfig. Retryable writes are
// disabled, as DocumentDB does not support them.
func Connect(ctx context.Context, cfg MongoConfig) (*mongo.Client, error) {
	if cfg.URI == "" {
		return nil, errors.New("expected a source URI")
	}
	var opts = options.Client().
		ApplyURI(cfg.ConnectionString()).
		SetRetryWrites(false)

	if cfg.TLSCAFile != "" {
		var pem, err = os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, errors.WithMessage(err, "reading TLS CA file")
		}
		var pool = x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("no certificates found in %s", cfg.TLSCAFile)
		}
		opts.SetTLSConfig(&tls.Config{RootCAs: pool})
	}

	var client, err = mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.WithMessage(err, "connecting to source")
	}
	log.WithField("hosts", opts.Hosts).Info("created new source client")
	return client, nil
}

// MongoSource is a Source of a *mongo.Client.
type MongoSource struct {
	Client *mongo.Client
}

var _ Source = &MongoSource{} // MongoSource is-a Source.

// Open implements Source.
func (s *MongoSource) Open(ctx context.Context, target protocol.WatchTarget, resumeAfter protocol.Token) (Cursor, error) {
	var opts = options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if !resumeAfter.IsZero() {
		opts.SetResumeAfter(bson.Raw(resumeAfter))
	}

	var db = s.Client.Database(target.Database)
	var cs *mongo.ChangeStream
	var err error

	if target.DatabaseLevel {
		cs, err = db.Watch(ctx, mongo.Pipeline{}, opts)
	} else {
		cs, err = db.Collection(target.Collection).Watch(ctx, mongo.Pipeline{}, opts)
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &mongoCursor{cs: cs}, nil
}

// InsertCanary implements Source.
func (s *MongoSource) InsertCanary(ctx context.Context, target protocol.WatchTarget) (string, error) {
	var id = "canary-" + uuid.NewString()
	var coll = s.Client.Database(target.Database).Collection(target.CanaryCollection())

	if _, err := coll.InsertOne(ctx, bson.D{
		{Key: "_id", Value: id},
		{Key: "op_canary", Value: "canary"},
	}); err != nil {
		return "", errors.WithMessage(err, "inserting canary")
	}
	return id, nil
}

// DeleteCanary implements Source.
func (s *MongoSource) DeleteCanary(ctx context.Context, target protocol.WatchTarget, id string) error {
	var coll = s.Client.Database(target.Database).Collection(target.CanaryCollection())

	if _, err := coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}}); err != nil {
		return errors.WithMessage(err, "deleting canary")
	}
	return nil
}

type mongoCursor struct {
	cs     *mongo.ChangeStream
	closed bool
}

func (c *mongoCursor) Alive() bool { return !c.closed && c.cs.Err() == nil }

func (c *mongoCursor) TryNext(ctx context.Context) (bson.Raw, bool, error) {
	if c.cs.TryNext(ctx) {
		// Current is re-used by the next TryNext; copy it.
		return append(bson.Raw(nil), c.cs.Current...), true, nil
	} else if err := c.cs.Err(); err != nil {
		return nil, false, mapError(err)
	}
	return nil, false, nil
}

func (c *mongoCursor) ResumeToken() protocol.Token {
	return append(protocol.Token(nil), c.cs.ResumeToken()...)
}

func (c *mongoCursor) Close(ctx context.Context) error {
	c.closed = true
	return c.cs.Close(ctx)
}

// mapError maps server errors which report a purged resume position into
// a *PurgedError. Other errors are returned unmodified.
func mapError(err error) error {
	var se mongo.ServerError
	if !errors.As(err, &se) {
		return err
	}
	for _, code := range []int{CodeCappedPositionLost, CodeChangeStreamHistoryLost} {
		if se.HasErrorCode(code) {
			return &PurgedError{Code: code, Err: err}
		}
	}
	return err
}
