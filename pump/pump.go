// Package pump re-invokes a function at a sub-minute interval over one
// bounded window, approximating a schedule finer than a scheduler which
// fires at most once per minute.
package pump

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.docrelay.dev/core/alert"
	"go.docrelay.dev/core/metrics"
	"go.docrelay.dev/core/protocol"
)

// Mode of a function invocation.
type Mode string

const (
	// RequestResponse invokes synchronously.
	RequestResponse Mode = "RequestResponse"
	// Event invokes asynchronously.
	Event Mode = "Event"
	// DryRun validates the invocation without running the function.
	DryRun Mode = "DryRun"
)

// Validate returns an error if the Mode is not known.
func (m Mode) Validate() error {
	switch m {
	case RequestResponse, Event, DryRun:
		return nil
	default:
		return protocol.NewValidationError("invalid invocation mode (%q)", string(m))
	}
}

// SuccessStatus is the status code of a successful invocation of the Mode.
func (m Mode) SuccessStatus() int {
	switch m {
	case Event:
		return 202
	case DryRun:
		return 204
	default:
		return 200
	}
}

// Invoker invokes functions.
type Invoker interface {
	Invoke(ctx context.Context, function string, mode Mode) error
}

// Config of a Pump.
type Config struct {
	Function string
	Mode     Mode
	// Window bounds the duration of a Run.
	Window time.Duration
	// Interval between invocations.
	Interval time.Duration
}

// Validate returns an error if the Config is not well-formed.
func (c Config) Validate() error {
	if c.Function == "" {
		return protocol.NewValidationError("expected Function")
	} else if err := c.Mode.Validate(); err != nil {
		return protocol.ExtendContext(err, "Mode")
	} else if c.Interval <= 0 {
		return protocol.NewValidationError("invalid Interval (%s; expected > 0)", c.Interval)
	} else if c.Window < c.Interval {
		return protocol.NewValidationError("invalid Window (%s; expected >= Interval %s)", c.Window, c.Interval)
	}
	return nil
}

// Iterations returns the number of invocations of a Run.
func (c Config) Iterations() int {
	var n = int(c.Window / c.Interval)
	if c.Window%c.Interval != 0 {
		n++
	}
	return n
}

// Pump repeatedly invokes a function.
type Pump struct {
	Config
	Invoker  Invoker
	Notifier *alert.Notifier
	// RequestID of the hosting invocation, included in Result details.
	RequestID string
	// Sleep between invocations. If nil, Run sleeps using a timer.
	Sleep func(context.Context, time.Duration) error
}

// Run invokes the function Config.Iterations times, sleeping for the
// Interval between invocations. On an invocation error, Run alerts and
// returns a failure Result which reports the number of completed invocations,
// together with the error.
func (p *Pump) Run(ctx context.Context) (protocol.Result, error) {
	if err := p.Config.Validate(); err != nil {
		return p.failure(0), err
	}
	var sleep = p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	var iterations = p.Iterations()

	var n int
	for ; n != iterations; n++ {
		if n != 0 {
			if err := sleep(ctx, p.Interval); err != nil {
				return p.failure(n), err
			}
		}
		log.WithFields(log.Fields{
			"function":  p.Function,
			"mode":      p.Mode,
			"iteration": n,
			"requestId": p.RequestID,
		}).Debug("invoking function")

		if err := p.Invoker.Invoke(ctx, p.Function, p.Mode); err != nil {
			metrics.PumpInvocationsTotal.WithLabelValues(metrics.Fail).Inc()
			err = errors.WithMessagef(err, "invoking %s", p.Function)

			log.WithFields(log.Fields{
				"function":  p.Function,
				"completed": n,
				"requestId": p.RequestID,
				"err":       err,
			}).Error("invocation failed")

			p.Notifier.Alert(ctx, err.Error())
			return p.failure(n), err
		}
		metrics.PumpInvocationsTotal.WithLabelValues(metrics.Ok).Inc()
	}

	log.WithFields(log.Fields{
		"function":    p.Function,
		"invocations": n,
		"requestId":   p.RequestID,
	}).Info("invocations complete")

	return protocol.Result{
		StatusCode:  p.Mode.SuccessStatus(),
		Description: "Success",
		Detail:      fmt.Sprintf("%d records processed successfully%s", n, p.requestSuffix("")),
	}, nil
}

func (p *Pump) failure(n int) protocol.Result {
	return protocol.Result{
		StatusCode:  protocol.StatusFailure,
		Description: "Failure",
		Detail:      fmt.Sprintf("Failed but %d records were processed successfully%s", n, p.requestSuffix(".")),
	}
}

func (p *Pump) requestSuffix(end string) string {
	if p.RequestID == "" {
		return end
	}
	return " using AWS Request ID: " + p.RequestID + end
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	var timer = time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
