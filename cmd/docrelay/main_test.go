package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.docrelay.dev/core/protocol"
	"gopkg.in/yaml.v2"
)

var fixtureRecords = []protocol.Record{
	{
		Target:        protocol.WatchTarget{Database: "shop", Collection: "orders"},
		Current:       true,
		LastProcessed: protocol.Token("a-fairly-long-opaque-resume-token-value"),
		Fence:         7,
	},
	{
		Target:  protocol.WatchTarget{Database: "crm", DatabaseLevel: true},
		Current: true,
		Fence:   1,
	},
}

func TestWriteCheckpointsJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeCheckpoints(&buf, "json", fixtureRecords))

	var views []checkpointView
	require.NoError(t, json.Unmarshal(buf.Bytes(), &views))
	assert.Equal(t, []checkpointView{
		{Target: "shop.orders", Scope: "collection", Current: true, Position: fixtureRecords[0].LastProcessed.String(), Fence: 7},
		{Target: "crm.*", Scope: "database", Current: true, Position: "<none>", Fence: 1},
	}, views)
}

func TestWriteCheckpointsYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeCheckpoints(&buf, "yaml", fixtureRecords))

	var views []checkpointView
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "crm.*", views[1].Target)
}

func TestWriteCheckpointsTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeCheckpoints(&buf, "table", fixtureRecords))

	var out = buf.String()
	assert.Contains(t, out, "shop.orders")
	assert.Contains(t, out, "crm.*")
	assert.Contains(t, out, "<none>")
	assert.Contains(t, out, "...")
}

func TestAbbreviate(t *testing.T) {
	assert.Equal(t, "short", abbreviate("short", 24))
	assert.Equal(t, "abc...", abbreviate("abcdef", 3))
}

func TestCronCommand(t *testing.T) {
	var buf bytes.Buffer
	defer func(w io.Writer) { stdout = w }(stdout)
	stdout = &buf

	require.NoError(t, cmdCron{Seconds: 300}.Execute(nil))
	assert.Equal(t, "cron(0/05 * * * ? *)\n", buf.String())

	assert.Error(t, cmdCron{Seconds: 30}.Execute(nil))
}

func TestEveryRunsUntilCancelled(t *testing.T) {
	var ctx, cancel = context.WithCancel(context.Background())
	var calls int

	require.NoError(t, every(ctx, time.Millisecond, func(context.Context) error {
		if calls++; calls == 3 {
			cancel()
		}
		return nil
	}))
	assert.Equal(t, 3, calls)
}

func TestEveryStopsOnError(t *testing.T) {
	var calls int
	var err = every(context.Background(), time.Millisecond, func(context.Context) error {
		calls++
		return errors.New("fatal")
	})
	assert.EqualError(t, err, "fatal")
	assert.Equal(t, 1, calls)
}
