package main

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.docrelay.dev/core/capture"
	"go.docrelay.dev/core/mainboilerplate/runrelay"
)

type cmdCapture struct{}

func (cmdCapture) Execute([]string) error {
	startup()

	var ctx, cancel = signalContext()
	defer cancel()

	var env = runrelay.NewEnv(Config)
	defer env.Close(context.Background())

	var res, err = env.RunCapture(ctx)
	if err != nil {
		log.WithFields(log.Fields{
			"class": capture.ClassOf(err),
			"err":   err,
		}).Error("capture failed")
		return err
	}
	writeResult(stdout, res)
	return nil
}

type cmdIndex struct{}

func (cmdIndex) Execute([]string) error {
	startup()

	var ctx, cancel = signalContext()
	defer cancel()

	var n, err = runrelay.NewEnv(Config).RunIndex(ctx)
	log.WithFields(log.Fields{"messages": n, "err": err}).Info("index run complete")
	return err
}

type cmdPump struct{}

func (cmdPump) Execute([]string) error {
	startup()

	var ctx, cancel = signalContext()
	defer cancel()

	var p, err = runrelay.NewEnv(Config).Pump(ctx, "")
	if err != nil {
		return err
	}
	res, err := p.Run(ctx)
	writeResult(stdout, res)
	return err
}
