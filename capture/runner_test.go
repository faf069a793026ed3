package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.docrelay.dev/core/alert"
	"go.docrelay.dev/core/changestream"
	"go.docrelay.dev/core/changestream/changestreamtest"
	"go.docrelay.dev/core/checkpoint"
	"go.docrelay.dev/core/codecs"
	"go.docrelay.dev/core/lease"
	"go.docrelay.dev/core/metrics"
	"go.docrelay.dev/core/protocol"
	"go.docrelay.dev/core/queue"
	"go.docrelay.dev/core/relay"
	"go.docrelay.dev/core/staging"
	"go.mongodb.org/mongo-driver/bson"
)

var (
	collTarget = protocol.WatchTarget{Database: "db1", Collection: "coll1"}
	coll1      = protocol.Namespace{Database: "db1", Collection: "coll1"}
	coll2      = protocol.Namespace{Database: "db1", Collection: "coll2"}
)

func TestBootstrapThenRelayOfInsert(t *testing.T) {
	var f = newFixture(collTarget, true)

	// The first run bootstraps with a canary, and relays nothing.
	var out = f.run(t)
	assert.Equal(t, Outcome{Canary: true}, out)
	assert.Equal(t, protocol.CanaryOnlyResult(), out.Result())
	assert.Equal(t, 1, f.stream.CanaryInserts)
	assert.Equal(t, 1, f.stream.CanaryDeletes)

	var tokens = f.stream.Tokens()
	require.Len(t, tokens, 2) // Canary insert & delete.
	assert.Equal(t, tokens[1], f.store.Position(collTarget))
	assert.Empty(t, f.queue.Messages())
	assert.Equal(t, 0, f.blobs.Len())

	// The second run stages and relays the insert.
	var insert = f.stream.Insert(coll1, bson.D{{Key: "_id", Value: "a1"}, {Key: "name", Value: "x"}})

	out = f.run(t)
	assert.Equal(t, Outcome{Processed: 1}, out)
	assert.Equal(t, protocol.StatusRecords, out.Result().StatusCode)
	assert.Equal(t, insert, f.store.Position(collTarget))
	assert.Equal(t, 1, f.stream.CanaryInserts) // Not bootstrapped again.

	var msgs = f.queue.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "a1", msgs[0].DeduplicationID)
	assert.Equal(t, "db1-coll1", msgs[0].GroupID)

	env, err := protocol.UnmarshalEnvelope(msgs[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "insert", env.OperationType)
	assert.Equal(t, insert, env.Position)
	assert.Equal(t, "db1/coll1/2024/01/02/a1", env.Pointer.Key)

	body, _, err := f.blobs.Get(context.Background(), env.Pointer.Key, env.Pointer.Version)
	require.NoError(t, err)
	assert.JSONEq(t, `{"_id":"a1","name":"x","operation":"insert",
		"timestamp":"1700000000","timestampReadable":"2023-11-14T22:13:20"}`, string(body))

	// A third run finds nothing, and doesn't checkpoint.
	var saves = len(f.store.Saves)
	assert.Equal(t, protocol.NoRecordsResult(), f.run(t).Result())
	assert.Len(t, f.store.Saves, saves)
}

func TestBootstrapAwaitsLaggingCanaryDelete(t *testing.T) {
	var f = newFixture(collTarget, true)
	f.stream.CanaryLag = 3

	assert.Equal(t, Outcome{Canary: true}, f.run(t))
	var tokens = f.stream.Tokens()
	assert.Equal(t, tokens[len(tokens)-1], f.store.Position(collTarget))
}

func TestBootstrapTimesOut(t *testing.T) {
	var f = newFixture(collTarget, true)
	f.stream.CanaryLag = 1 << 30
	f.runner.CanaryTimeout = 5 * time.Millisecond

	var _, err = f.runner.Run(context.Background())
	assert.Equal(t, ClassTransient, ClassOf(err))
	assert.Contains(t, err.Error(), "was not observed within 5ms")
	assert.True(t, f.store.Position(collTarget).IsZero())
	assert.Len(t, f.alerts.Messages("arn:alerts"), 1)
}

func TestCadenceFlushesWithoutStaging(t *testing.T) {
	var f = newFixture(collTarget, false)
	f.run(t) // Bootstrap.
	var bootstrapSaves = len(f.store.Saves)

	var tokens = f.insertN(7)
	var flushed = testutil.ToFloat64(metrics.CaptureCheckpointsTotal.WithLabelValues(metrics.Ok))
	assert.Equal(t, Outcome{Processed: 7}, f.run(t))
	assert.Equal(t, flushed+3, testutil.ToFloat64(metrics.CaptureCheckpointsTotal.WithLabelValues(metrics.Ok)))

	var saved []protocol.Token
	for _, rec := range f.store.Saves[bootstrapSaves:] {
		saved = append(saved, rec.LastProcessed)
	}
	assert.Equal(t, []protocol.Token{tokens[2], tokens[5], tokens[6]}, saved)
}

func TestStagingSkipsCadenceFlushes(t *testing.T) {
	var f = newFixture(collTarget, true)
	f.run(t)
	var bootstrapSaves = len(f.store.Saves)

	var tokens = f.insertN(7)
	assert.Equal(t, Outcome{Processed: 7}, f.run(t))

	require.Len(t, f.store.Saves, bootstrapSaves+1)
	assert.Equal(t, tokens[6], f.store.Position(collTarget))
	assert.Len(t, f.queue.Messages(), 7)
}

func TestStagingWithoutQueueStillSkipsCadence(t *testing.T) {
	var f = newFixture(collTarget, true)
	f.runner.Sink = NewSink(staging.NewPublisher(f.blobs, "", codecs.None), nil, nil)
	f.run(t)
	var bootstrapSaves = len(f.store.Saves)

	f.insertN(4)
	assert.Equal(t, Outcome{Processed: 4}, f.run(t))
	assert.Len(t, f.store.Saves, bootstrapSaves+1)

	// Payloads which could never be indexed and removed aren't staged.
	assert.Equal(t, 0, f.blobs.Len())
	assert.Empty(t, f.queue.Messages())
}

func TestMaxEventsPerRunBoundsConsumption(t *testing.T) {
	var f = newFixture(collTarget, true)
	f.runner.MaxEventsPerRun = 5
	f.run(t)

	var tokens = f.insertN(7)
	assert.Equal(t, Outcome{Processed: 5}, f.run(t))
	assert.Equal(t, tokens[4], f.store.Position(collTarget))

	assert.Equal(t, Outcome{Processed: 2}, f.run(t))
	assert.Equal(t, tokens[6], f.store.Position(collTarget))

	// Envelopes were relayed in stream order.
	var ids []string
	for _, env := range f.envelopes(t) {
		ids = append(ids, env.DocumentKey.ID)
	}
	assert.Equal(t, []string{"d0", "d1", "d2", "d3", "d4", "d5", "d6"}, ids)
}

func TestStagingFailureAbortsRun(t *testing.T) {
	var f = newFixture(collTarget, true)
	f.run(t)
	var bootstrapped = f.store.Position(collTarget)

	f.insertN(10)
	f.blobs.Reject = func(string) error {
		if f.blobs.Puts == 4 {
			return staging.ErrPutNotAcknowledged
		}
		return nil
	}

	var out, err = f.runner.Run(context.Background())
	assert.Equal(t, ClassFatalEvent, ClassOf(err))
	assert.True(t, errors.Is(err, staging.ErrPutNotAcknowledged))
	assert.Equal(t, 3, out.Processed)

	// Events 4-10 were not relayed, and the checkpoint was not advanced.
	assert.Len(t, f.queue.Messages(), 3)
	assert.Equal(t, bootstrapped, f.store.Position(collTarget))

	var alerts = f.alerts.Messages("arn:alerts")
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.Subject, alerts[0].Subject)

	// The next run re-delivers from the last checkpoint. Duplicates are
	// permitted, but no document is lost.
	f.blobs.Reject = nil
	assert.Equal(t, Outcome{Processed: 10}, f.run(t))

	var distinct = make(map[string]bool)
	for _, env := range f.envelopes(t) {
		distinct[env.DocumentKey.ID] = true
	}
	assert.Len(t, distinct, 10)
}

func TestRelayFailureAbortsRun(t *testing.T) {
	var f = newFixture(collTarget, true)
	f.run(t)
	f.insertN(2)

	f.queue.SendErr = func(string) error { return errors.New("queue unavailable") }
	var _, err = f.runner.Run(context.Background())
	assert.Equal(t, ClassFatalEvent, ClassOf(err))
	assert.EqualError(t, err, "relaying envelope of d0: queue unavailable")
}

func TestPurgedPositionResetsCheckpoint(t *testing.T) {
	var f = newFixture(collTarget, true)
	f.run(t)
	f.insertN(1)
	f.run(t)
	require.False(t, f.store.Position(collTarget).IsZero())

	// The stream purges history of the checkpoint position.
	f.stream.Purge()
	f.stream.Insert(coll1, bson.D{{Key: "_id", Value: "late"}})

	var _, err = f.runner.Run(context.Background())
	assert.Equal(t, ClassPositionPurged, ClassOf(err))
	assert.True(t, errors.Is(err, changestream.ErrPositionPurged))
	assert.True(t, f.store.Position(collTarget).IsZero())
	assert.Len(t, f.alerts.Messages("arn:alerts"), 1)

	// The next run takes the bootstrap path.
	assert.Equal(t, Outcome{Canary: true}, f.run(t))
	assert.Equal(t, 2, f.stream.CanaryInserts)
	assert.False(t, f.store.Position(collTarget).IsZero())
}

func TestPurgeReportedMidStreamResetsCheckpoint(t *testing.T) {
	var f = newFixture(collTarget, true)
	f.run(t)
	f.insertN(1)

	f.stream.TryNextErr = &changestream.PurgedError{
		Code: changestream.CodeChangeStreamHistoryLost,
		Err:  errors.New("history lost"),
	}
	var _, err = f.runner.Run(context.Background())
	assert.Equal(t, ClassPositionPurged, ClassOf(err))
	assert.True(t, f.store.Position(collTarget).IsZero())
}

func TestTransientErrorLeavesCheckpoint(t *testing.T) {
	var f = newFixture(collTarget, true)
	f.run(t)
	var pos = f.store.Position(collTarget)

	f.stream.OpenErr = errors.New("connection refused")
	var _, err = f.runner.Run(context.Background())
	assert.Equal(t, ClassTransient, ClassOf(err))
	assert.EqualError(t, err, "opening change stream of db1.coll1: connection refused")
	assert.Equal(t, pos, f.store.Position(collTarget))
}

func TestOtherOperationsPassThrough(t *testing.T) {
	var f = newFixture(collTarget, true)
	f.run(t)

	f.stream.Other(coll1, "invalidate")
	f.stream.Update(coll1, bson.D{{Key: "_id", Value: int32(42)}, {Key: "n", Value: "v"}})
	var del = f.stream.Delete(coll1, "a1")

	assert.Equal(t, Outcome{Processed: 3}, f.run(t))
	assert.Equal(t, del, f.store.Position(collTarget))

	var envs = f.envelopes(t)
	require.Len(t, envs, 2)
	assert.Equal(t, "update", envs[0].OperationType)
	assert.Equal(t, "42", envs[0].DocumentKey.ID)
	assert.Equal(t, "delete", envs[1].OperationType)

	body, _, err := f.blobs.Get(context.Background(), envs[1].Pointer.Key, envs[1].Pointer.Version)
	require.NoError(t, err)
	assert.JSONEq(t, `{"_id":"a1","operation":"delete",
		"timestamp":"1700000000","timestampReadable":"2023-11-14T22:13:20"}`, string(body))
}

func TestDatabaseLevelTarget(t *testing.T) {
	var target = protocol.WatchTarget{Database: "db1", DatabaseLevel: true}
	var f = newFixture(target, true)

	assert.Equal(t, Outcome{Canary: true}, f.run(t))
	f.stream.Insert(coll1, bson.D{{Key: "_id", Value: "a"}})
	f.stream.Insert(coll2, bson.D{{Key: "_id", Value: "b"}})
	f.stream.Insert(protocol.Namespace{Database: "db2", Collection: "coll1"}, bson.D{{Key: "_id", Value: "c"}})

	assert.Equal(t, Outcome{Processed: 2}, f.run(t))

	var groups []string
	for _, m := range f.queue.Messages() {
		groups = append(groups, m.GroupID)
	}
	assert.Equal(t, []string{"db1-coll1", "db1-coll2"}, groups)
}

func TestDatabaseLevelTargetRelaysUnusualCollectionNames(t *testing.T) {
	var target = protocol.WatchTarget{Database: "db1", DatabaseLevel: true}
	var f = newFixture(target, true)
	f.run(t)

	var spaced = protocol.Namespace{Database: "db1", Collection: "order items"}
	f.stream.Insert(spaced, bson.D{{Key: "_id", Value: "a"}})
	f.stream.Insert(coll1, bson.D{{Key: "_id", Value: "b"}})

	assert.Equal(t, Outcome{Processed: 2}, f.run(t))
	assert.Equal(t, 2, f.blobs.Len())

	var envs = f.envelopes(t)
	require.Len(t, envs, 2)
	assert.Equal(t, "order items", envs[0].Pointer.Collection)
	assert.Equal(t, "db1-order items", envs[0].Pointer.Index())
	assert.Equal(t, "db1/order items/2024/01/02/a", envs[0].Pointer.Key)
	assert.Equal(t, "b", envs[1].DocumentKey.ID)
}

func TestTopicSinkPublishesPayloads(t *testing.T) {
	var f = newFixture(collTarget, false)
	var notifier = &alert.Notifier{Publisher: f.alerts, AlertTopic: "arn:alerts", EventTopic: "arn:events"}
	f.runner.Sink = NewSink(nil, nil, notifier)
	require.IsType(t, &TopicSink{}, f.runner.Sink)

	f.run(t)
	f.stream.Insert(coll1, bson.D{{Key: "_id", Value: "a1"}})
	assert.Equal(t, Outcome{Processed: 1}, f.run(t))

	var events = f.alerts.Messages("arn:events")
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Message, `"_id":"a1"`)
}

func TestOverlappingRunIsFenced(t *testing.T) {
	var f = newFixture(collTarget, true)
	f.run(t)
	f.insertN(2)

	// An overlapping run loads the checkpoint while this run is delivering.
	f.runner.Sink = &hookSink{Sink: f.runner.Sink, hook: func() {
		_, _ = f.store.Load(context.Background(), collTarget)
	}}
	var _, err = f.runner.Run(context.Background())
	assert.Equal(t, ClassFenced, ClassOf(err))
	assert.True(t, errors.Is(err, checkpoint.ErrFenced))
}

func TestHeldLeaseRefusesRun(t *testing.T) {
	var f = newFixture(collTarget, true)
	var locker = lease.NewMemoryLocker()
	f.runner.Locker = locker

	release, err := locker.TryLock(context.Background(), collTarget.String())
	require.NoError(t, err)

	_, err = f.runner.Run(context.Background())
	assert.Equal(t, ClassFenced, ClassOf(err))
	assert.Equal(t, 0, f.stream.CanaryInserts)

	// Once released, runs proceed and release the lease themselves.
	require.NoError(t, release(context.Background()))
	assert.Equal(t, Outcome{Canary: true}, f.run(t))
	assert.Equal(t, Outcome{}, f.run(t))
}

func TestInvalidConfig(t *testing.T) {
	var f = newFixture(collTarget, true)
	f.runner.MaxEventsPerRun = 0

	var _, err = f.runner.Run(context.Background())
	assert.Equal(t, ClassConfig, ClassOf(err))
	assert.EqualError(t, err, "invalid MaxEventsPerRun (0; expected > 0)")

	f.runner.MaxEventsPerRun = 1
	f.runner.Target = protocol.WatchTarget{Database: "db1"}
	_, err = f.runner.Run(context.Background())
	assert.Equal(t, ClassConfig, ClassOf(err))
}

type fixture struct {
	stream *changestreamtest.Stream
	store  *checkpoint.MemoryStore
	blobs  *staging.MemoryStore
	queue  *queue.MemoryQueue
	alerts *alert.MemoryPublisher
	runner *Runner
}

func newFixture(target protocol.WatchTarget, staged bool) *fixture {
	var f = &fixture{
		stream: changestreamtest.NewStream(),
		store:  checkpoint.NewMemoryStore(),
		blobs:  staging.NewMemoryStore("bucket"),
		queue:  queue.NewMemoryQueue(),
		alerts: &alert.MemoryPublisher{},
	}
	var notifier = &alert.Notifier{Publisher: f.alerts, AlertTopic: "arn:alerts"}

	var pub *staging.Publisher
	if staged {
		pub = staging.NewPublisher(f.blobs, "", codecs.None)
		pub.Now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	}
	f.runner = &Runner{
		Config: Config{
			Target:              target,
			MaxEventsPerRun:     100,
			EventsPerCheckpoint: 3,
			CanaryPoll:          time.Millisecond,
			CanaryTimeout:       time.Second,
		},
		Source:   f.stream,
		Store:    f.store,
		Sink:     NewSink(pub, relay.New(f.queue), notifier),
		Notifier: notifier,
	}
	return f
}

func (f *fixture) run(t *testing.T) Outcome {
	var out, err = f.runner.Run(context.Background())
	require.NoError(t, err)
	return out
}

// insertN inserts documents "d0" through "d<n-1>", returning their positions.
func (f *fixture) insertN(n int) []protocol.Token {
	var out []protocol.Token
	for i := 0; i != n; i++ {
		out = append(out, f.stream.Insert(coll1, bson.D{
			{Key: "_id", Value: "d" + string(rune('0'+i))},
		}))
	}
	return out
}

func (f *fixture) envelopes(t *testing.T) []protocol.Envelope {
	var out []protocol.Envelope
	for _, m := range f.queue.Messages() {
		var env, err = protocol.UnmarshalEnvelope(m.Body)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

type hookSink struct {
	Sink
	hook func()
}

func (s *hookSink) Deliver(ctx context.Context, ev protocol.ChangeEvent, payload []byte) error {
	s.hook()
	return s.Sink.Deliver(ctx, ev, payload)
}
