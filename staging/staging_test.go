package staging

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.docrelay.dev/core/codecs"
	"go.docrelay.dev/core/protocol"
)

func TestObjectKey(t *testing.T) {
	var ns = protocol.Namespace{Database: "db1", Collection: "coll1"}
	var day = time.Date(2024, 3, 9, 23, 59, 0, 0, time.FixedZone("east", 3600*5))

	// Keys use the UTC processing date.
	assert.Equal(t, "db1/coll1/2024/03/09/a1", ObjectKey("", ns, day, "a1"))
	assert.Equal(t, "pre/fix/db1/coll1/2024/03/09/a1", ObjectKey("pre/fix", ns, day, "a1"))
	assert.Equal(t, "db1/coll1/2024/03/10/a1",
		ObjectKey("", ns, time.Date(2024, 3, 9, 23, 30, 0, 0, time.FixedZone("west", -3600)), "a1"))
}

func TestPublisherStagesAndReturnsPointer(t *testing.T) {
	var ctx = context.Background()
	var store = NewMemoryStore("a-bucket")
	var pub = NewPublisher(store, "cdc", codecs.Gzip)
	pub.Now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	var ev = protocol.ChangeEvent{
		Kind:       protocol.OpInsert,
		RawKind:    "insert",
		DocumentID: "a1",
		Namespace:  protocol.Namespace{Database: "db1", Collection: "coll1"},
	}
	var ptr, err = pub.Stage(ctx, ev, []byte(`{"_id":"a1"}`))
	require.NoError(t, err)

	assert.Equal(t, protocol.StagedPointer{
		Bucket:     "a-bucket",
		Key:        "cdc/db1/coll1/2024/01/02/a1",
		Version:    "1",
		Database:   "db1",
		Collection: "coll1",
		DocumentID: "a1",
	}, ptr)
	require.NoError(t, ptr.Validate())

	// The object is compressed, and round-trips through its Content-Encoding.
	body, enc, err := store.Get(ctx, ptr.Key, ptr.Version)
	require.NoError(t, err)
	assert.Equal(t, "gzip", enc)

	codec, err := codecs.FromContentEncoding(enc)
	require.NoError(t, err)
	body, err = codecs.Decode(body, codec)
	require.NoError(t, err)
	assert.Equal(t, `{"_id":"a1"}`, string(body))

	// A second write of the same document creates a new version.
	ptr2, err := pub.Stage(ctx, ev, []byte(`{"_id":"a1","n":2}`))
	require.NoError(t, err)
	assert.Equal(t, ptr.Key, ptr2.Key)
	assert.Equal(t, "2", ptr2.Version)
	assert.Equal(t, 2, store.Len())
}

func TestPublisherFailsWithoutAcknowledgement(t *testing.T) {
	var store = NewMemoryStore("a-bucket")
	store.Reject = func(string) error { return ErrPutNotAcknowledged }

	var pub = NewPublisher(store, "", codecs.None)
	var _, err = pub.Stage(context.Background(), protocol.ChangeEvent{
		Kind:       protocol.OpDelete,
		DocumentID: "a1",
		Namespace:  protocol.Namespace{Database: "db1", Collection: "coll1"},
	}, []byte(`{}`))

	assert.True(t, errors.Is(err, ErrPutNotAcknowledged))
	assert.Equal(t, 0, store.Len())
}

func TestMemoryStoreVersions(t *testing.T) {
	var ctx = context.Background()
	var store = NewMemoryStore("b")

	v1, err := store.Put(ctx, "k", []byte("one"), "")
	require.NoError(t, err)
	v2, err := store.Put(ctx, "k", []byte("two"), "")
	require.NoError(t, err)

	body, _, err := store.Get(ctx, "k", v1)
	require.NoError(t, err)
	assert.Equal(t, "one", string(body))

	body, _, err = store.Get(ctx, "k", "")
	require.NoError(t, err)
	assert.Equal(t, "two", string(body))

	require.NoError(t, store.Delete(ctx, "k", v2))
	_, _, err = store.Get(ctx, "k", v2)
	assert.Error(t, err)
	assert.Equal(t, 1, store.Len())
}

func TestOpenStore(t *testing.T) {
	var store, prefix, err = OpenStore(context.Background(), "memory://a-bucket/some/prefix/")
	require.NoError(t, err)
	assert.Equal(t, "a-bucket", store.Bucket())
	assert.Equal(t, "some/prefix", prefix)

	_, _, err = OpenStore(context.Background(), "ftp://a-bucket")
	assert.EqualError(t, err, `unsupported staging scheme "ftp"`)
	_, _, err = OpenStore(context.Background(), "s3:///no-bucket")
	assert.EqualError(t, err, `staging URL "s3:///no-bucket" has no bucket`)
}

func TestParseS3StoreArgs(t *testing.T) {
	var ep, _ = url.Parse("s3://bucket/prefix?region=us-east-2&endpoint=http://localhost:9000&sse=AES256")

	var args S3StoreArgs
	require.NoError(t, parseStoreArgs(ep, &args))
	assert.Equal(t, S3StoreArgs{
		Region:   "us-east-2",
		Endpoint: "http://localhost:9000",
		SSE:      "AES256",
	}, args)

	ep, _ = url.Parse("s3://bucket/prefix?unknown=1")
	assert.Error(t, parseStoreArgs(ep, &args))
}
