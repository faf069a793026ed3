// Package task runs a set of long-lived loops as a unit.
package task

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Group runs queued tasks concurrently and waits on them collectively.
// The first task to fail cancels the Group's Context, which every task is
// expected to monitor. Group is not itself safe for concurrent use.
type Group struct {
	ctx      context.Context
	cancelFn context.CancelFunc
	eg       *errgroup.Group
	tasks    []task
	started  bool
}

type task struct {
	desc string
	fn   func() error
}

// NewGroup returns an empty Group deriving from |ctx|.
func NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{ctx: ctx, cancelFn: cancel, eg: eg}
}

// Context of the Group. It's cancelled when any task fails, when Cancel is
// called, or when the parent Context is cancelled.
func (g *Group) Context() context.Context { return g.ctx }

// Cancel the Group Context.
func (g *Group) Cancel() { g.cancelFn() }

// Queue |fn| for execution, described by |desc|. Queue panics if called
// after GoRun.
func (g *Group) Queue(desc string, fn func() error) {
	if g.started {
		panic("Queue called after GoRun")
	}
	g.tasks = append(g.tasks, task{desc: desc, fn: fn})
}

// GoRun starts all queued tasks. It panics if called more than once.
func (g *Group) GoRun() {
	if g.started {
		panic("GoRun already called")
	}
	g.started = true

	for _, t := range g.tasks {
		var t = t
		g.eg.Go(func() error {
			log.WithField("task", t.desc).Debug("task starting")
			var err = t.fn()
			log.WithFields(log.Fields{"task": t.desc, "err": err}).Debug("task exited")
			return errors.WithMessage(err, t.desc)
		})
	}
}

// Wait for started tasks, returning the first non-nil task error.
// It panics if GoRun wasn't called.
func (g *Group) Wait() error {
	if !g.started {
		panic("Wait called before GoRun")
	}
	defer g.cancelFn()
	return g.eg.Wait()
}
