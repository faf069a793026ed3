package runrelay

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.docrelay.dev/core/alert"
	"go.docrelay.dev/core/capture"
	"go.docrelay.dev/core/changestream"
	"go.docrelay.dev/core/checkpoint"
	"go.docrelay.dev/core/codecs"
	"go.docrelay.dev/core/indexer"
	"go.docrelay.dev/core/lease"
	"go.docrelay.dev/core/protocol"
	"go.docrelay.dev/core/pump"
	"go.docrelay.dev/core/queue"
	"go.docrelay.dev/core/relay"
	"go.docrelay.dev/core/secrets"
	"go.docrelay.dev/core/staging"
	"go.mongodb.org/mongo-driver/mongo"
)

// Env is the execution context of docrelay runs. It holds clients which are
// expensive to build, such as the source connection and AWS session, and
// reuses them across runs of the process. Clients which fail to build are
// retried by the next run.
type Env struct {
	Config *BaseConfig
	// Capture caches the collaborators of capture runs.
	Capture *capture.Clients

	mu      sync.Mutex
	sess    *session.Session
	source  *mongo.Client
	queue   queue.Queue
	blobs   staging.BlobStore
	prefix  string
	indexer *indexer.Indexer
}

// NewEnv returns an Env of the BaseConfig.
func NewEnv(cfg *BaseConfig) *Env {
	var env = &Env{Config: cfg}
	env.Capture = &capture.Clients{
		NewSource:    env.newSource,
		NewStore:     env.NewStore,
		NewPublisher: env.newPublisher,
		NewRelay:     env.newRelay,
		NewNotifier:  env.newNotifier,
		NewLocker:    env.newLocker,
	}
	return env
}

// CaptureConfig returns the capture.Config of the BaseConfig.
func (e *Env) CaptureConfig() capture.Config {
	return capture.Config{
		Target:              e.Config.Target(),
		MaxEventsPerRun:     e.Config.Capture.MaxEvents,
		EventsPerCheckpoint: e.Config.Capture.EventsPerCheckpoint,
		CanaryPoll:          e.Config.Capture.CanaryPoll,
		CanaryTimeout:       e.Config.Capture.CanaryTimeout,
	}
}

// RunCapture performs one capture run. Errors are *capture.RunError.
// Transient failures drop cached clients, which are rebuilt by the next run.
func (e *Env) RunCapture(ctx context.Context) (protocol.Result, error) {
	var runner, err = e.Capture.Runner(ctx, e.CaptureConfig())
	if err != nil {
		var notifier, _ = e.Capture.Notifier(ctx)
		notifier.Alert(ctx, err.Error())
		e.resetOnTransient(err)
		return protocol.Result{}, err
	}

	outcome, err := runner.Run(ctx)
	if err != nil {
		e.resetOnTransient(err)
		return protocol.Result{}, err
	}
	return outcome.Result(), nil
}

// Indexer returns the cached Indexer, building it on first use.
func (e *Env) Indexer(ctx context.Context) (*indexer.Indexer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.indexer != nil {
		return e.indexer, nil
	}
	var cfg = e.Config

	if cfg.Queue.URL == "" {
		return nil, errors.New("expected --queue.url")
	} else if cfg.Staging.URL == "" {
		return nil, errors.New("expected --staging.url")
	} else if cfg.Index.Endpoint == "" {
		return nil, errors.New("expected --index.endpoint")
	}

	q, err := e.openQueue()
	if err != nil {
		return nil, err
	}
	blobs, _, err := e.openBlobs(ctx)
	if err != nil {
		return nil, err
	}
	search, err := indexer.NewOpenSearch(indexer.OpenSearchConfig{
		Endpoint:           cfg.Index.Endpoint,
		Username:           cfg.Index.Username,
		Password:           cfg.Index.Password,
		InsecureSkipVerify: cfg.Index.InsecureSkipVerify,
	})
	if err != nil {
		return nil, err
	}
	if e.indexer, err = indexer.New(q, blobs, search, cfg.Index.CacheSize); err != nil {
		return nil, err
	}
	return e.indexer, nil
}

// RunIndex drains at most --index.max-messages messages into the index.
func (e *Env) RunIndex(ctx context.Context) (int, error) {
	var ix, err = e.Indexer(ctx)
	if err != nil {
		return 0, err
	}
	return ix.Drain(ctx, e.Config.Index.MaxMessages)
}

// Pump returns a Pump of the BaseConfig. |requestID| identifies the hosting
// invocation, if any.
func (e *Env) Pump(ctx context.Context, requestID string) (*pump.Pump, error) {
	var notifier, err = e.Capture.Notifier(ctx)
	if err != nil {
		log.WithField("err", err).Warn("failed to build alert notifier")
	}
	sess, err := e.session()
	if err != nil {
		return nil, err
	}
	return &pump.Pump{
		Config: pump.Config{
			Function: e.Config.Pump.Function,
			Mode:     pump.Mode(e.Config.Pump.Mode),
			Window:   e.Config.Pump.Window,
			Interval: e.Config.Pump.Interval,
		},
		Invoker:   pump.NewLambdaInvoker(sess),
		Notifier:  notifier,
		RequestID: requestID,
	}, nil
}

// NewStore builds the configured checkpoint.Store.
func (e *Env) NewStore(ctx context.Context) (checkpoint.Store, error) {
	return checkpoint.Open(ctx, e.Config.State.URL, func(ctx context.Context) (*mongo.Collection, error) {
		var client, err = e.sourceClient(ctx)
		if err != nil {
			return nil, err
		}
		return client.Database(e.Config.Source.StateDatabase).Collection(e.Config.Source.StateCollection), nil
	})
}

// Close releases held clients.
func (e *Env) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.source == nil {
		return nil
	}
	var err = e.source.Disconnect(ctx)
	e.source = nil
	return err
}

func (e *Env) newSource(ctx context.Context) (changestream.Source, error) {
	var client, err = e.sourceClient(ctx)
	if err != nil {
		return nil, err
	}
	return &changestream.MongoSource{Client: client}, nil
}

func (e *Env) newPublisher(ctx context.Context) (*staging.Publisher, error) {
	if e.Config.Staging.URL == "" {
		return nil, nil
	}
	var codec = codecs.Codec(e.Config.Staging.Compression)
	if err := codec.Validate(); err != nil {
		return nil, capture.ConfigError("invalid --staging.compression: %s", err)
	}
	if e.Config.Queue.URL == "" {
		log.WithField("staging", e.Config.Staging.URL).
			Warn("--staging.url is set without --queue.url; payloads will not be staged")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var store, prefix, err = e.openBlobs(ctx)
	if err != nil {
		return nil, err
	}
	return staging.NewPublisher(store, prefix, codec), nil
}

func (e *Env) newRelay(context.Context) (*relay.Relay, error) {
	if e.Config.Queue.URL == "" {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var q, err = e.openQueue()
	if err != nil {
		return nil, err
	}
	return relay.New(q), nil
}

func (e *Env) newNotifier(context.Context) (*alert.Notifier, error) {
	var n = &alert.Notifier{
		Publisher:  alert.LogPublisher{},
		AlertTopic: e.Config.Alert.Topic,
		EventTopic: e.Config.Alert.EventTopic,
	}
	if n.AlertTopic == "" && n.EventTopic == "" {
		return n, nil
	}
	var sess, err = e.session()
	if err != nil {
		return nil, err
	}
	n.Publisher = alert.NewSNSPublisher(sess)
	return n, nil
}

func (e *Env) newLocker(ctx context.Context) (lease.Locker, error) {
	if e.Config.Etcd.Address == "" {
		return nil, nil
	}
	var client, err = e.Config.Etcd.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return &lease.EtcdLocker{
		Client: client,
		Prefix: e.Config.Etcd.Prefix,
		TTL:    e.Config.Etcd.LeaseTTL,
		Holder: e.Config.Service.ProcessID(),
	}, nil
}

// sourceClient returns the shared source client, connecting on first use.
func (e *Env) sourceClient(ctx context.Context) (*mongo.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.source != nil {
		return e.source, nil
	}
	var mc = changestream.MongoConfig{
		URI:       e.Config.Source.URI,
		TLSCAFile: e.Config.Source.TLSCAFile,
	}
	if mc.URI == "" {
		return nil, capture.ConfigError("expected --source.uri")
	}
	if name := e.Config.Source.Secret; name != "" {
		var sess, err = e.sessionLocked()
		if err != nil {
			return nil, err
		}
		creds, err := secrets.NewFetcher(sess).Credentials(ctx, name)
		if err != nil {
			return nil, err
		}
		mc.Username, mc.Password = creds.Username, creds.Password
	}

	var client, err = changestream.Connect(ctx, mc)
	if err != nil {
		return nil, err
	}
	e.source = client
	return client, nil
}

func (e *Env) session() (*session.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionLocked()
}

func (e *Env) sessionLocked() (*session.Session, error) {
	if e.sess != nil {
		return e.sess, nil
	}
	var sess, err = e.Config.AWS.Session()
	if err != nil {
		return nil, err
	}
	e.sess = sess
	return sess, nil
}

// openQueue returns the configured queue, opening it on first use.
// Capture and index runs of a process share one queue. e.mu must be held.
func (e *Env) openQueue() (queue.Queue, error) {
	if e.queue != nil {
		return e.queue, nil
	}
	var q, err = queue.Open(e.Config.Queue.URL, queue.SQSConfig{
		Region:   e.Config.AWS.Region,
		Endpoint: e.Config.AWS.Endpoint,
		Profile:  e.Config.AWS.Profile,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "opening queue")
	}
	e.queue = q
	return q, nil
}

// openBlobs returns the configured staging store and key prefix, opening
// it on first use. e.mu must be held.
func (e *Env) openBlobs(ctx context.Context) (staging.BlobStore, string, error) {
	if e.blobs != nil {
		return e.blobs, e.prefix, nil
	}
	var store, prefix, err = staging.OpenStore(ctx, e.Config.Staging.URL)
	if err != nil {
		return nil, "", errors.WithMessage(err, "opening staging store")
	}
	e.blobs, e.prefix = store, prefix
	return store, prefix, nil
}

func (e *Env) resetOnTransient(err error) {
	if capture.ClassOf(err) != capture.ClassTransient {
		return
	}
	log.WithField("err", err).Info("dropping cached clients after transient failure")
	e.Capture.Reset()
	_ = e.Close(context.Background())
}
