package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	mbp "go.docrelay.dev/core/mainboilerplate"
	"go.docrelay.dev/core/mainboilerplate/runrelay"
	"go.docrelay.dev/core/protocol"
)

// Config is the top-level configuration object of docrelay.
var Config = new(runrelay.BaseConfig)

var (
	parser   = flags.NewParser(Config, flags.Default)
	registry = mbp.NewCommandRegistry()
)

func init() {
	registry.AddCommand("", "capture", "Run one bounded capture of the change stream", `
Resume the change stream of the watched target from its checkpoint, stage and
relay at most --capture.max-events change events, checkpoint the position of
the last relayed event, and exit. A target without a checkpoint is first
bootstrapped by writing and deleting a canary document.

The run Result is written to stdout as JSON.
`, &cmdCapture{})

	registry.AddCommand("", "index", "Apply relayed change events to the search index", `
Drain at most --index.max-messages pointer messages from the queue. Each is
resolved to its staged payload, upserted into the index "database-collection",
and then removed from the queue and staging store.
`, &cmdIndex{})

	registry.AddCommand("", "pump", "Re-invoke a function at a sub-minute interval", `
Invoke --pump.function every --pump.interval, until --pump.window has elapsed.
This approximates a schedule finer than a scheduler which fires at most once
per minute. The run Result is written to stdout as JSON.
`, &cmdPump{})

	registry.AddCommand("", "serve", "Serve capture, index and pump loops", `
Serve capture, index and (optionally) pump runs on timers within one process,
until signaled to exit (via SIGTERM or SIGINT). Metrics are served at
/debug/metrics of --debug.port.
`, &cmdServe{})

	registry.AddCommand("", "cron", "Print the cron expression of a period", `
Print the EventBridge cron expression which fires every --seconds, for use as
the schedule of the pump. Periods must be at least one minute and less than
one day.
`, &cmdCron{})

	registry.AddCommand("", "checkpoints", "Inspect and reset checkpoints", "", &struct{}{})
	registry.AddCommand("checkpoints", "list", "List checkpoints", `
List the checkpoints of the configured --state.url store.
`, &cmdCheckpointsList{})
	registry.AddCommand("checkpoints", "reset", "Reset the checkpoint of the watched target", `
Reset the checkpoint of the watched target to having no position. The next
capture run bootstraps a fresh position with a canary document, and change
events between the old and new positions are not relayed.
`, &cmdCheckpointsReset{})
}

func main() {
	mbp.Must(registry.AddCommands("", parser.Command, true), "failed to add commands")
	mbp.AddPrintConfigCmd(parser, runrelay.IniFilename)
	mbp.MustParseConfig(parser, runrelay.IniFilename)
}

func startup() {
	mbp.InitLog(Config.Log)
	log.WithFields(log.Fields{
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Debug("starting docrelay")
}

// signalContext returns a Context which is cancelled upon SIGTERM or SIGINT.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

func writeResult(w io.Writer, res protocol.Result) {
	var enc = json.NewEncoder(w)
	enc.SetIndent("", "  ")
	mbp.Must(enc.Encode(res), "failed to encode result")
}

var stdout io.Writer = os.Stdout
