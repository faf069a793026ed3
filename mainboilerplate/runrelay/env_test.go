package runrelay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.docrelay.dev/core/alert"
	"go.docrelay.dev/core/capture"
	"go.docrelay.dev/core/checkpoint"
	"go.docrelay.dev/core/protocol"
)

func parseConfig(t *testing.T, args ...string) *BaseConfig {
	var cfg = new(BaseConfig)
	var _, err = flags.NewParser(cfg, flags.Default&^flags.PrintErrors).ParseArgs(args)
	require.NoError(t, err)
	return cfg
}

func TestConfigFromFlagsAndEnvironment(t *testing.T) {
	t.Setenv("DOCRELAY_WATCH_DATABASE", "shop")
	t.Setenv("DOCRELAY_WATCH_COLLECTION", "orders")
	t.Setenv("DOCRELAY_CAPTURE_MAX_EVENTS", "250")

	var cfg = parseConfig(t, "--capture.events-per-checkpoint=25", "--staging.compression=zstd")
	var env = NewEnv(cfg)

	assert.Equal(t, capture.Config{
		Target:              protocol.WatchTarget{Database: "shop", Collection: "orders"},
		MaxEventsPerRun:     250,
		EventsPerCheckpoint: 25,
		CanaryPoll:          time.Second,
		CanaryTimeout:       time.Minute,
	}, env.CaptureConfig())
	assert.Equal(t, "zstd", cfg.Staging.Compression)
	assert.Equal(t, "RequestResponse", cfg.Pump.Mode)
	assert.Equal(t, 20*time.Second, cfg.Etcd.LeaseTTL)
}

func TestCaptureWithoutSourceIsConfigError(t *testing.T) {
	var cfg = parseConfig(t, "--watch.database=shop", "--watch.collection=orders", "--state.url=memory://")
	var env = NewEnv(cfg)

	var _, err = env.RunCapture(context.Background())
	require.Error(t, err)
	assert.Equal(t, capture.ClassConfig, capture.ClassOf(err))
	assert.Contains(t, err.Error(), "expected --source.uri")
}

func TestStoreAndNotifierOfConfig(t *testing.T) {
	var cfg = parseConfig(t, "--state.url=memory://")
	var env = NewEnv(cfg)
	var ctx = context.Background()

	var store, err = env.NewStore(ctx)
	require.NoError(t, err)
	assert.IsType(t, &checkpoint.MemoryStore{}, store)

	notifier, err := env.newNotifier(ctx)
	require.NoError(t, err)
	assert.Equal(t, alert.LogPublisher{}, notifier.Publisher)
	assert.False(t, notifier.HasEventTopic())

	locker, err := env.newLocker(ctx)
	require.NoError(t, err)
	assert.Nil(t, locker)
}

func TestStagingDisabledWithoutURL(t *testing.T) {
	var env = NewEnv(parseConfig(t))
	var ctx = context.Background()

	var pub, err = env.newPublisher(ctx)
	require.NoError(t, err)
	assert.Nil(t, pub)

	rel, err := env.newRelay(ctx)
	require.NoError(t, err)
	assert.Nil(t, rel)
}

func TestIndexerSharesQueueAndStoreWithCapture(t *testing.T) {
	var srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var env = NewEnv(parseConfig(t,
		"--queue.url=memory://pointers",
		"--staging.url=memory://bucket/prefix",
		"--staging.compression=gzip",
		"--index.endpoint="+srv.URL,
	))
	var ctx = context.Background()

	ix, err := env.Indexer(ctx)
	require.NoError(t, err)
	again, err := env.Indexer(ctx)
	require.NoError(t, err)
	assert.Same(t, ix, again)

	rel, err := env.newRelay(ctx)
	require.NoError(t, err)
	assert.Equal(t, ix.Queue, rel.Queue)

	pub, err := env.newPublisher(ctx)
	require.NoError(t, err)
	assert.Equal(t, ix.Blobs, pub.Store)
	assert.Equal(t, "prefix", pub.Prefix)

	n, err := env.RunIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestIndexerRequiresEndpoint(t *testing.T) {
	var env = NewEnv(parseConfig(t, "--queue.url=memory://q", "--staging.url=memory://b"))
	var _, err = env.Indexer(context.Background())
	assert.EqualError(t, err, "expected --index.endpoint")
}
