package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"go.docrelay.dev/core/checkpoint"
	mbp "go.docrelay.dev/core/mainboilerplate"
	"go.docrelay.dev/core/mainboilerplate/runrelay"
	"go.docrelay.dev/core/protocol"
	"gopkg.in/yaml.v2"
)

type cmdCheckpointsList struct {
	Format string `long:"format" short:"o" choice:"table" choice:"yaml" choice:"json" default:"table" description:"Output format"`
}

func (cmd cmdCheckpointsList) Execute([]string) error {
	startup()

	var ctx = context.Background()
	var env = runrelay.NewEnv(Config)
	defer env.Close(ctx)

	var store, err = env.NewStore(ctx)
	mbp.Must(err, "failed to open checkpoint store", "url", Config.State.URL)

	recs, err := store.List(ctx)
	mbp.Must(err, "failed to list checkpoints")

	return writeCheckpoints(stdout, cmd.Format, recs)
}

// checkpointView is the presentation of a protocol.Record.
type checkpointView struct {
	Target   string `json:"target" yaml:"target"`
	Scope    string `json:"scope" yaml:"scope"`
	Current  bool   `json:"current" yaml:"current"`
	Position string `json:"position" yaml:"position"`
	Fence    int64  `json:"fence" yaml:"fence"`
}

func viewOf(rec protocol.Record) checkpointView {
	var scope = "collection"
	if rec.Target.DatabaseLevel {
		scope = "database"
	}
	return checkpointView{
		Target:   rec.Target.String(),
		Scope:    scope,
		Current:  rec.Current,
		Position: rec.LastProcessed.String(),
		Fence:    rec.Fence,
	}
}

func writeCheckpoints(w io.Writer, format string, recs []protocol.Record) error {
	var views = make([]checkpointView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, viewOf(rec))
	}

	switch format {
	case "json":
		var enc = json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	case "yaml":
		var b, err = yaml.Marshal(views)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	default:
		var table = tablewriter.NewWriter(w)
		table.Header("Target", "Scope", "Current", "Position", "Fence")
		for _, v := range views {
			if err := table.Append([]string{
				v.Target,
				v.Scope,
				fmt.Sprintf("%t", v.Current),
				abbreviate(v.Position, 24),
				fmt.Sprintf("%d", v.Fence),
			}); err != nil {
				return err
			}
		}
		return table.Render()
	}
}

// abbreviate long positions, which are opaque and only compared by eye.
func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type cmdCheckpointsReset struct{}

func (cmdCheckpointsReset) Execute([]string) error {
	startup()

	var ctx = context.Background()
	var target = Config.Target()
	mbp.Must(target.Validate(), "invalid --watch target")

	var env = runrelay.NewEnv(Config)
	defer env.Close(ctx)

	var store, err = env.NewStore(ctx)
	mbp.Must(err, "failed to open checkpoint store", "url", Config.State.URL)
	mbp.Must(checkpoint.Reset(ctx, store, target), "failed to reset checkpoint", "target", target.String())

	log.WithField("target", target.String()).Info("reset checkpoint")
	return nil
}
