package main

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.docrelay.dev/core/capture"
	mbp "go.docrelay.dev/core/mainboilerplate"
	"go.docrelay.dev/core/mainboilerplate/runrelay"
	"go.docrelay.dev/core/metrics"
	"go.docrelay.dev/core/task"
)

type cmdServe struct {
	CaptureEvery time.Duration `long:"capture-every" default:"1m" description:"Interval between capture runs. Zero disables capture"`
	IndexEvery   time.Duration `long:"index-every" default:"10s" description:"Interval between index runs. Zero disables indexing"`
	PumpEvery    time.Duration `long:"pump-every" default:"0s" description:"Interval between pump runs. Zero disables the pump"`
}

func (cmd cmdServe) Execute([]string) error {
	defer mbp.InitDiagnosticsAndRecover(Config.Diagnostics, metrics.DocrelayCollectors()...)()
	startup()

	log.WithFields(log.Fields{
		"config":  Config,
		"id":      Config.Service.ProcessID(),
		"version": mbp.Version,
	}).Info("serving docrelay")

	var ctx, cancel = signalContext()
	defer cancel()

	var env = runrelay.NewEnv(Config)
	defer env.Close(context.Background())

	var tasks = task.NewGroup(ctx)

	if cmd.CaptureEvery != 0 {
		tasks.Queue("capture", func() error {
			return every(tasks.Context(), cmd.CaptureEvery, func(ctx context.Context) error {
				var res, err = env.RunCapture(ctx)
				if capture.ClassOf(err) == capture.ClassConfig {
					return err // Retrying cannot succeed.
				} else if err != nil {
					log.WithFields(log.Fields{"class": capture.ClassOf(err), "err": err}).Warn("capture run failed")
				} else {
					log.WithField("result", res).Debug("capture run complete")
				}
				return nil
			})
		})
	}
	if cmd.IndexEvery != 0 {
		tasks.Queue("index", func() error {
			return every(tasks.Context(), cmd.IndexEvery, func(ctx context.Context) error {
				if n, err := env.RunIndex(ctx); err != nil {
					log.WithFields(log.Fields{"messages": n, "err": err}).Warn("index run failed")
				}
				return nil
			})
		})
	}
	if cmd.PumpEvery != 0 {
		tasks.Queue("pump", func() error {
			return every(tasks.Context(), cmd.PumpEvery, func(ctx context.Context) error {
				var p, err = env.Pump(ctx, Config.Service.ProcessID())
				if err != nil {
					return err
				}
				if _, err = p.Run(ctx); err != nil {
					log.WithField("err", err).Warn("pump run failed")
				}
				return nil
			})
		})
	}

	tasks.GoRun()
	mbp.Must(tasks.Wait(), "docrelay task failed")
	log.Info("goodbye")

	return nil
}

// every calls |fn| immediately and then at each |interval| until |ctx| is
// done or |fn| fails. Runs never overlap: a run which takes longer than
// |interval| delays the next.
func every(ctx context.Context, interval time.Duration, fn func(context.Context) error) error {
	var ticker = time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := fn(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
