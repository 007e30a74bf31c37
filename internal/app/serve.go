package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"rigscout/internal/api"
	"rigscout/internal/scheduler"
	"rigscout/internal/service"
)

// ServeOptions configures the HTTP API process.
type ServeOptions struct {
	Addr string
	// Scan also runs the periodic scan service in the same process.
	Scan bool
}

// Serve exposes the deal pipeline over HTTP until interrupted.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer a.Close()

	addr := opts.Addr
	if addr == "" {
		addr = a.Config.API.Addr
	}

	rt, err := a.runtime(ctx)
	if err != nil {
		return err
	}

	var queue api.QueueStatus
	var svc *service.Service
	if opts.Scan {
		sched := scheduler.New(scheduler.Options{
			Interval:     a.Config.Scheduler.Interval,
			AlignToStart: a.Config.Scheduler.AlignToBucket,
			StartupDelay: a.Config.Scheduler.StartupDelay,
			RunAtStart:   true,
		}, a.Logger)
		svc, err = a.newService(ctx, rt, service.WithScheduler(sched))
		if err != nil {
			return err
		}
		queue = svc.Scanner()
	}

	server := api.NewServer(rt.deals, rt.targets, queue, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx, addr)
	})
	if svc != nil {
		g.Go(func() error {
			err := svc.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("serve terminated with error")
		return err
	}
	a.Logger.Info().Msg("server stopped")
	return nil
}
