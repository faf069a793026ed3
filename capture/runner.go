// Package capture implements bounded capture runs of a change stream.
//
// A run resumes the change stream of a WatchTarget from its checkpoint,
// delivers at most MaxEventsPerRun events to a Sink in stream order, and
// checkpoints the position of the last delivered event. A WatchTarget without
// a checkpoint is first bootstrapped: a canary document is written and then
// deleted, and the position of the canary's delete becomes the checkpoint.
//
// Runs are at-least-once: a run which fails or is interrupted leaves the
// checkpoint at its last flushed position, and the next run re-delivers
// events after that position.
package capture

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.docrelay.dev/core/alert"
	"go.docrelay.dev/core/changestream"
	"go.docrelay.dev/core/checkpoint"
	"go.docrelay.dev/core/lease"
	"go.docrelay.dev/core/metrics"
	"go.docrelay.dev/core/protocol"
)

// Config of a Runner.
type Config struct {
	Target protocol.WatchTarget
	// MaxEventsPerRun bounds the number of events consumed by a run.
	MaxEventsPerRun int
	// EventsPerCheckpoint is the cadence with which runs of a non-staging
	// Sink flush their checkpoint.
	EventsPerCheckpoint int
	// CanaryPoll is the interval between polls for the canary delete.
	CanaryPoll time.Duration
	// CanaryTimeout bounds the wait for the canary delete.
	CanaryTimeout time.Duration
}

// Validate returns an error if the Config is not well-formed.
func (c Config) Validate() error {
	if err := c.Target.Validate(); err != nil {
		return protocol.ExtendContext(err, "Target")
	} else if c.MaxEventsPerRun <= 0 {
		return protocol.NewValidationError("invalid MaxEventsPerRun (%d; expected > 0)", c.MaxEventsPerRun)
	} else if c.EventsPerCheckpoint <= 0 {
		return protocol.NewValidationError("invalid EventsPerCheckpoint (%d; expected > 0)", c.EventsPerCheckpoint)
	} else if c.CanaryPoll <= 0 {
		return protocol.NewValidationError("invalid CanaryPoll (%s; expected > 0)", c.CanaryPoll)
	} else if c.CanaryTimeout < c.CanaryPoll {
		return protocol.NewValidationError("invalid CanaryTimeout (%s; expected >= CanaryPoll)", c.CanaryTimeout)
	}
	return nil
}

// Outcome of a successful run.
type Outcome struct {
	// Processed is the number of events delivered or passed through.
	Processed int
	// Canary is true if the run bootstrapped its checkpoint.
	Canary bool
}

// Result returns the protocol.Result reported to the invoking host.
func (o Outcome) Result() protocol.Result {
	if o.Processed != 0 {
		return protocol.RecordsResult(o.Processed)
	} else if o.Canary {
		return protocol.CanaryOnlyResult()
	}
	return protocol.NoRecordsResult()
}

func (o Outcome) label() string {
	if o.Processed != 0 {
		return "records"
	} else if o.Canary {
		return "canary-only"
	}
	return "no-records"
}

// Runner performs capture runs of a WatchTarget.
type Runner struct {
	Config
	Source changestream.Source
	Store  checkpoint.Store
	Sink   Sink
	// Notifier of run failures. May be nil, in which case failures are logged.
	Notifier *alert.Notifier
	// Locker of run leases. May be nil.
	Locker lease.Locker
}

// Run performs a single capture run. Failures are alerted and returned as
// a *RunError.
func (r *Runner) Run(ctx context.Context) (out Outcome, _ error) {
	var started = time.Now()
	var err = r.run(ctx, &out)

	if err != nil {
		metrics.CaptureRunsTotal.WithLabelValues(err.Class.String()).Inc()
		log.WithFields(log.Fields{
			"target":    r.Target.String(),
			"class":     err.Class,
			"processed": out.Processed,
			"err":       err.Err,
		}).Error("capture run failed")

		r.Notifier.Alert(ctx, err.Error())
		return out, err
	}

	metrics.CaptureRunsTotal.WithLabelValues(out.label()).Inc()
	log.WithFields(log.Fields{
		"target":    r.Target.String(),
		"processed": out.Processed,
		"canary":    out.Canary,
		"elapsed":   time.Since(started),
	}).Info("capture run complete")

	return out, nil
}

func (r *Runner) run(ctx context.Context, out *Outcome) *RunError {
	if err := r.Config.Validate(); err != nil {
		return &RunError{Class: ClassConfig, Err: err}
	} else if r.Source == nil || r.Store == nil || r.Sink == nil {
		return ConfigError("runner requires a Source, Store and Sink").(*RunError)
	}

	if r.Locker != nil {
		var release, err = r.Locker.TryLock(ctx, r.Target.String())
		if err != nil {
			return classify(errors.WithMessagef(err, "leasing %s", r.Target), ClassTransient)
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				log.WithFields(log.Fields{"target": r.Target.String(), "err": err}).
					Warn("failed to release run lease")
			}
		}()
	}

	var rec, err = r.Store.Load(ctx, r.Target)
	if err != nil {
		return classify(errors.WithMessage(err, "loading checkpoint"), ClassTransient)
	}

	cur, err := r.Source.Open(ctx, r.Target, rec.LastProcessed)
	if err != nil {
		return r.failStream(ctx, rec, errors.WithMessagef(err, "opening change stream of %s", r.Target))
	}
	defer func() {
		if err := cur.Close(context.Background()); err != nil {
			log.WithField("err", err).Warn("failed to close change stream")
		}
	}()

	if rec.LastProcessed.IsZero() {
		if rerr := r.bootstrap(ctx, cur, &rec); rerr != nil {
			return rerr
		}
		out.Canary = true
	}

	var staging = r.Sink.Staging()

	for cur.Alive() && out.Processed < r.MaxEventsPerRun {
		var raw, ok, err = cur.TryNext(ctx)
		if err != nil {
			return r.failStream(ctx, rec, errors.WithMessage(err, "reading change stream"))
		} else if !ok {
			break // Caught up.
		}

		ev, err := changestream.Classify(raw)
		if err != nil {
			return classify(err, ClassFatalEvent)
		}
		if err = r.deliver(ctx, ev); err != nil {
			return classify(err, ClassFatalEvent)
		}
		out.Processed++

		if !staging && out.Processed%r.EventsPerCheckpoint == 0 {
			if rerr := r.flush(ctx, &rec, position(cur, ev)); rerr != nil {
				return rerr
			}
		}
		rec.LastProcessed = position(cur, ev)
	}

	if out.Processed != 0 {
		if rerr := r.flush(ctx, &rec, rec.LastProcessed); rerr != nil {
			return rerr
		}
	}
	return nil
}

// bootstrap manufactures the first checkpoint of the WatchTarget. It writes
// and deletes a canary document, then polls |cur| until the canary's delete
// is observed. Its position becomes the checkpoint. Records observed before
// the delete, including the canary insert, are discarded.
func (r *Runner) bootstrap(ctx context.Context, cur changestream.Cursor, rec *protocol.Record) *RunError {
	var id, err = r.Source.InsertCanary(ctx, r.Target)
	if err != nil {
		return classify(errors.WithMessage(err, "inserting canary"), ClassTransient)
	} else if err = r.Source.DeleteCanary(ctx, r.Target, id); err != nil {
		return classify(errors.WithMessage(err, "deleting canary"), ClassTransient)
	}

	var deadline = time.Now().Add(r.CanaryTimeout)
	for {
		var raw, ok, err = cur.TryNext(ctx)
		if err != nil {
			return r.failStream(ctx, *rec, errors.WithMessage(err, "awaiting canary"))
		} else if !ok {
			if !cur.Alive() {
				return classify(errors.Errorf("change stream closed before canary %s was observed", id), ClassTransient)
			} else if time.Now().After(deadline) {
				return classify(errors.Errorf("canary %s was not observed within %s", id, r.CanaryTimeout), ClassTransient)
			} else if err = sleep(ctx, r.CanaryPoll); err != nil {
				return classify(err, ClassTransient)
			}
			continue
		}

		var ev, cerr = changestream.Classify(raw)
		if cerr != nil || !isCanaryDelete(ev, r.Target, id) {
			log.WithFields(log.Fields{
				"target": r.Target.String(),
				"op":     ev.RawKind,
				"docId":  ev.DocumentID,
			}).Debug("discarding event preceding canary delete")
			continue
		}

		if rerr := r.flush(ctx, rec, position(cur, ev)); rerr != nil {
			return rerr
		}
		metrics.CaptureCanariesTotal.Inc()

		log.WithFields(log.Fields{
			"target":   r.Target.String(),
			"canary":   id,
			"position": rec.LastProcessed,
		}).Info("bootstrapped checkpoint from canary")

		return nil
	}
}

// deliver the payload of the ChangeEvent to the Sink. Events having no
// payload pass through.
func (r *Runner) deliver(ctx context.Context, ev protocol.ChangeEvent) error {
	metrics.CaptureEventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	var entry = log.WithFields(log.Fields{
		"op":       ev.RawKind,
		"ns":       ev.Namespace.Database + "." + ev.Namespace.Collection,
		"docId":    ev.DocumentID,
		"position": ev.Position,
	})
	if !ev.HasPayload() {
		entry.Debug("passing through event without payload")
		return nil
	}

	var payload, err = changestream.Normalize(ev)
	if err != nil {
		return errors.WithMessagef(err, "normalizing %s event of %s", ev.RawKind, ev.DocumentID)
	} else if err = r.Sink.Deliver(ctx, ev, payload); err != nil {
		return err
	}
	entry.Debug("delivered event")
	return nil
}

// flush saves |pos| as the checkpoint of |rec|.
func (r *Runner) flush(ctx context.Context, rec *protocol.Record, pos protocol.Token) *RunError {
	var next = *rec
	next.LastProcessed = pos

	if err := r.Store.Save(ctx, next); err != nil {
		metrics.CaptureCheckpointsTotal.WithLabelValues(metrics.Fail).Inc()
		return classify(errors.WithMessage(err, "saving checkpoint"), ClassTransient)
	}
	metrics.CaptureCheckpointsTotal.WithLabelValues(metrics.Ok).Inc()
	*rec = next
	return nil
}

// failStream classifies an error of the change stream. If the stream purged
// the resume position, the checkpoint is reset to having no position so that
// the next run bootstraps.
func (r *Runner) failStream(ctx context.Context, rec protocol.Record, err error) *RunError {
	var rerr = classify(err, ClassTransient)
	if rerr.Class != ClassPositionPurged {
		return rerr
	}

	rec.LastProcessed = nil
	if serr := r.Store.Save(ctx, rec); serr != nil {
		log.WithFields(log.Fields{
			"target": r.Target.String(),
			"err":    serr,
		}).Error("failed to reset checkpoint of purged position")
		return rerr
	}
	metrics.CapturePurgeResetsTotal.Inc()

	log.WithField("target", r.Target.String()).
		Warn("change stream purged the checkpoint position; reset checkpoint")
	return rerr
}

// position returns the resume position following |ev|.
func position(cur changestream.Cursor, ev protocol.ChangeEvent) protocol.Token {
	if tok := cur.ResumeToken(); !tok.IsZero() {
		return append(protocol.Token(nil), tok...)
	}
	return ev.Position
}

func isCanaryDelete(ev protocol.ChangeEvent, target protocol.WatchTarget, id string) bool {
	return ev.Kind == protocol.OpDelete &&
		ev.DocumentID == id &&
		ev.Namespace.Database == target.Database &&
		ev.Namespace.Collection == target.CanaryCollection()
}

func sleep(ctx context.Context, d time.Duration) error {
	var timer = time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
