package main

import (
	"fmt"

	"go.docrelay.dev/core/schedule"
)

type cmdCron struct {
	Seconds int `long:"seconds" required:"true" description:"Period of the schedule, in seconds"`
}

func (cmd cmdCron) Execute([]string) error {
	var expr, err = schedule.CronExpression(cmd.Seconds)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, expr)
	return err
}
