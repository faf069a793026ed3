package lease

import (
	"context"
	"path"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// EtcdLocker is a Locker of Etcd mutexes. Each lease is bound to an Etcd
// session lease of the TTL, so that the lease of a crashed holder expires.
type EtcdLocker struct {
	Client *clientv3.Client
	// Prefix of mutex keys, eg "/docrelay/leases".
	Prefix string
	// TTL of the session lease.
	TTL time.Duration
	// Holder identifies this process in logs.
	Holder string
}

// TryLock implements Locker.
func (l *EtcdLocker) TryLock(ctx context.Context, key string) (func(context.Context) error, error) {
	var ttl = int(l.TTL.Seconds())
	if ttl < 1 {
		ttl = 1
	}
	var session, err = concurrency.NewSession(l.Client,
		concurrency.WithTTL(ttl), concurrency.WithContext(ctx))
	if err != nil {
		return nil, errors.WithMessage(err, "starting etcd session")
	}

	var mu = concurrency.NewMutex(session, path.Join(l.Prefix, key))
	if err = mu.TryLock(ctx); err == concurrency.ErrLocked {
		_ = session.Close()
		return nil, ErrHeld
	} else if err != nil {
		_ = session.Close()
		return nil, errors.WithMessagef(err, "locking %s", key)
	}

	log.WithFields(log.Fields{
		"key":    mu.Key(),
		"holder": l.Holder,
		"lease":  session.Lease(),
	}).Debug("acquired run lease")

	return func(ctx context.Context) error {
		defer session.Close()
		return mu.Unlock(ctx)
	}, nil
}
