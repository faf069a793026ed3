package capture

import (
	"context"
	"sync"

	"go.docrelay.dev/core/alert"
	"go.docrelay.dev/core/changestream"
	"go.docrelay.dev/core/checkpoint"
	"go.docrelay.dev/core/lease"
	"go.docrelay.dev/core/relay"
	"go.docrelay.dev/core/staging"
)

// Clients is an execution-context cache of the collaborators of capture runs.
// It is held by a host binding across invocations, and builds each
// collaborator on first use. Builders which return a nil collaborator and
// nil error mark it as not configured, which is also cached.
type Clients struct {
	NewSource    func(context.Context) (changestream.Source, error)
	NewStore     func(context.Context) (checkpoint.Store, error)
	NewPublisher func(context.Context) (*staging.Publisher, error)
	NewRelay     func(context.Context) (*relay.Relay, error)
	NewNotifier  func(context.Context) (*alert.Notifier, error)
	NewLocker    func(context.Context) (lease.Locker, error)

	mu        sync.Mutex
	source    lazy[changestream.Source]
	store     lazy[checkpoint.Store]
	publisher lazy[*staging.Publisher]
	relay     lazy[*relay.Relay]
	notifier  lazy[*alert.Notifier]
	locker    lazy[lease.Locker]
}

// Notifier returns the cached Notifier, building it if required. A Notifier
// which cannot be built is returned as nil, and the error is logged by callers.
func (c *Clients) Notifier(ctx context.Context) (*alert.Notifier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifier.get(ctx, c.NewNotifier)
}

// Runner returns a Runner of the Config, using cached collaborators.
// Errors building collaborators are returned as a *RunError.
func (c *Clients) Runner(ctx context.Context, cfg Config) (*Runner, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var r = &Runner{Config: cfg}
	var err error

	if r.Notifier, err = c.notifier.get(ctx, c.NewNotifier); err != nil {
		return nil, classify(err, ClassConfig)
	} else if r.Source, err = c.source.get(ctx, c.NewSource); err != nil {
		return nil, classify(err, ClassTransient)
	} else if r.Store, err = c.store.get(ctx, c.NewStore); err != nil {
		return nil, classify(err, ClassTransient)
	} else if r.Locker, err = c.locker.get(ctx, c.NewLocker); err != nil {
		return nil, classify(err, ClassTransient)
	}

	pub, err := c.publisher.get(ctx, c.NewPublisher)
	if err != nil {
		return nil, classify(err, ClassTransient)
	}
	rel, err := c.relay.get(ctx, c.NewRelay)
	if err != nil {
		return nil, classify(err, ClassTransient)
	}
	r.Sink = NewSink(pub, rel, r.Notifier)

	if r.Source == nil {
		return nil, ConfigError("no change stream source is configured")
	} else if r.Store == nil {
		return nil, ConfigError("no checkpoint store is configured")
	}
	return r, nil
}

// Reset drops cached collaborators, which are rebuilt on next use.
func (c *Clients) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.source, c.store, c.publisher = lazy[changestream.Source]{}, lazy[checkpoint.Store]{}, lazy[*staging.Publisher]{}
	c.relay, c.notifier, c.locker = lazy[*relay.Relay]{}, lazy[*alert.Notifier]{}, lazy[lease.Locker]{}
}

// lazy is a value built on first use. Failed builds are not cached.
type lazy[T any] struct {
	value T
	built bool
}

func (l *lazy[T]) get(ctx context.Context, build func(context.Context) (T, error)) (T, error) {
	if l.built || build == nil {
		return l.value, nil
	}
	var v, err = build(ctx)
	if err != nil {
		return v, err
	}
	l.value, l.built = v, true
	return v, nil
}
