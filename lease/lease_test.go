package lease

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.docrelay.dev/core/etcdtest"
)

func TestMemoryLocker(t *testing.T) {
	runLockerTests(t, NewMemoryLocker())
}

func TestEtcdLocker(t *testing.T) {
	var client = etcdtest.TestClient(t)
	defer etcdtest.Cleanup()

	runLockerTests(t, &EtcdLocker{
		Client: client,
		Prefix: "/docrelay/leases",
		TTL:    5 * time.Second,
		Holder: "test",
	})
}

func TestNoopAlwaysGrants(t *testing.T) {
	var ctx = context.Background()
	var r1, err = Noop{}.TryLock(ctx, "db1.coll1")
	require.NoError(t, err)
	r2, err := Noop{}.TryLock(ctx, "db1.coll1")
	require.NoError(t, err)
	assert.NoError(t, r1(ctx))
	assert.NoError(t, r2(ctx))
}

func runLockerTests(t *testing.T, l Locker) {
	var ctx = context.Background()

	release, err := l.TryLock(ctx, "db1.coll1")
	require.NoError(t, err)

	// A second holder of the same key is refused, but other keys are free.
	_, err = l.TryLock(ctx, "db1.coll1")
	assert.Equal(t, ErrHeld, err)

	other, err := l.TryLock(ctx, "db1.*")
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	// Once released, the key may be locked again.
	require.NoError(t, release(ctx))
	release, err = l.TryLock(ctx, "db1.coll1")
	require.NoError(t, err)
	require.NoError(t, release(ctx))
}

func TestMain(m *testing.M) { etcdtest.TestMainWithEtcd(m) }
