package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.docrelay.dev/core/capture"
	"go.docrelay.dev/core/codecs"
	"go.docrelay.dev/core/mainboilerplate/runrelay"
	"go.docrelay.dev/core/protocol"
	"go.docrelay.dev/core/relay"
	"go.docrelay.dev/core/staging"
)

func newHandler(t *testing.T, args ...string) *handler {
	var cfg = new(runrelay.BaseConfig)
	var _, err = flags.NewParser(cfg, flags.Default&^flags.PrintErrors).ParseArgs(args)
	require.NoError(t, err)
	return &handler{env: runrelay.NewEnv(cfg)}
}

func TestIndexReportsBatchItemFailures(t *testing.T) {
	var upserts int32
	var srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			atomic.AddInt32(&upserts, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer srv.Close()

	var h = newHandler(t,
		"--queue.url=memory://pointers",
		"--staging.url=memory://bucket",
		"--index.endpoint="+srv.URL,
	)
	var ctx = context.Background()

	var ix, err = h.env.Indexer(ctx)
	require.NoError(t, err)

	var ev = protocol.ChangeEvent{
		RawKind:    "insert",
		Kind:       protocol.OpInsert,
		DocumentID: "d1",
		Namespace:  protocol.Namespace{Database: "shop", Collection: "orders"},
	}
	ptr, err := staging.NewPublisher(ix.Blobs, "", codecs.None).Stage(ctx, ev, []byte(`{"_id":"d1","total":12}`))
	require.NoError(t, err)
	_, err = relay.New(ix.Queue).Publish(ctx, ev, ptr)
	require.NoError(t, err)

	msg, ok, err := ix.Queue.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	resp, err := h.index(ctx, events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: msg.ID, Body: msg.Body, ReceiptHandle: msg.ReceiptHandle},
		{MessageId: "bogus", Body: "not an envelope", ReceiptHandle: "r-bogus"},
	}})
	require.NoError(t, err)

	assert.Equal(t, []events.SQSBatchItemFailure{{ItemIdentifier: "bogus"}}, resp.BatchItemFailures)
	assert.Equal(t, int32(1), atomic.LoadInt32(&upserts))

	_, ok, err = ix.Queue.Receive(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndexStopsBatchAtFirstFailure(t *testing.T) {
	var upserts int32
	var srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			atomic.AddInt32(&upserts, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer srv.Close()

	var h = newHandler(t,
		"--queue.url=memory://pointers",
		"--staging.url=memory://bucket",
		"--index.endpoint="+srv.URL,
	)
	var ctx = context.Background()

	var ix, err = h.env.Indexer(ctx)
	require.NoError(t, err)

	var ev = protocol.ChangeEvent{
		RawKind:    "update",
		Kind:       protocol.OpUpdate,
		DocumentID: "d1",
		Namespace:  protocol.Namespace{Database: "shop", Collection: "orders"},
	}
	ptr, err := staging.NewPublisher(ix.Blobs, "", codecs.None).Stage(ctx, ev, []byte(`{"_id":"d1","total":13}`))
	require.NoError(t, err)
	_, err = relay.New(ix.Queue).Publish(ctx, ev, ptr)
	require.NoError(t, err)

	msg, ok, err := ix.Queue.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// An earlier record of the batch fails. The later record of the same
	// group must not be applied ahead of its redelivery.
	resp, err := h.index(ctx, events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "bogus", Body: "not an envelope", ReceiptHandle: "r-bogus"},
		{MessageId: msg.ID, Body: msg.Body, ReceiptHandle: msg.ReceiptHandle},
	}})
	require.NoError(t, err)

	assert.Equal(t, []events.SQSBatchItemFailure{
		{ItemIdentifier: "bogus"},
		{ItemIdentifier: msg.ID},
	}, resp.BatchItemFailures)
	assert.Equal(t, int32(0), atomic.LoadInt32(&upserts))

	_, ok, err = ix.Queue.Receive(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, ix.Blobs.(*staging.MemoryStore).Len())
}

func TestIndexWithoutConfigurationFails(t *testing.T) {
	var h = newHandler(t)
	var _, err = h.index(context.Background(), events.SQSEvent{})
	assert.EqualError(t, err, "expected --queue.url")
}

func TestCaptureReturnsClassifiedError(t *testing.T) {
	var h = newHandler(t, "--watch.database=shop", "--watch.collection=orders", "--state.url=memory://")
	var _, err = h.capture(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, capture.ClassConfig, capture.ClassOf(err))
}

func TestPumpFailureIsResultNotError(t *testing.T) {
	var h = newHandler(t, "--aws.region=us-east-1")
	var ctx = lambdacontext.NewContext(context.Background(), &lambdacontext.LambdaContext{AwsRequestID: "req-1"})

	var res, err = h.pump(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, protocol.Result{
		StatusCode:  protocol.StatusFailure,
		Description: "Failure",
		Detail:      "Failed but 0 records were processed successfully using AWS Request ID: req-1.",
	}, res)
}
