package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/morezero/agent-router/pkg/envelope"
	"github.com/morezero/agent-router/pkg/protocol"
)

const runLogPrefix = "dispatch:run"

var errAlreadyRunning = errors.New("dispatch: engine already running")

// Submit queues env for dispatch by Run. It blocks while the queue is full.
func (e *Engine) Submit(ctx context.Context, env *envelope.Envelope) error {
	select {
	case e.queue <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run dispatches submitted envelopes with at most Concurrency handlers in flight, and
// runs every interval handler once at start and then once per period. It returns when
// ctx is cancelled, after in-flight handlers finish.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer e.running.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range e.Protocols() {
		for _, iv := range p.IntervalHandlers() {
			g.Go(func() error {
				e.runTicker(gctx, p, iv)
				return nil
			})
		}
	}
	g.Go(func() error {
		e.runWorkers(gctx)
		return nil
	})

	slog.Info(fmt.Sprintf("%s - Engine for %s running (concurrency=%d)", runLogPrefix, e.address, e.concurrency))
	err := g.Wait()
	slog.Info(fmt.Sprintf("%s - Engine for %s stopped", runLogPrefix, e.address))
	return err
}

func (e *Engine) runWorkers(ctx context.Context) {
	var workers errgroup.Group
	workers.SetLimit(e.concurrency)
	defer workers.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-e.queue:
			workers.Go(func() error {
				if _, err := e.Dispatch(ctx, env); err != nil {
					slog.Debug(fmt.Sprintf("%s - dispatch of %s from %s: %v", runLogPrefix, env.SchemaDigest, env.Sender, err))
				}
				return nil
			})
		}
	}
}

func (e *Engine) runTicker(ctx context.Context, p *protocol.Protocol, iv protocol.Interval) {
	ticker := time.NewTicker(iv.Period)
	defer ticker.Stop()

	for {
		if _, err := e.RunInterval(ctx, p, iv); err != nil {
			slog.Debug(fmt.Sprintf("%s - interval %s: %v", runLogPrefix, iv.Name, err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
