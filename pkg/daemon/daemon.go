// Package daemon keeps a pool of chromium processes alive between
// invocations and hands out their debugging endpoints over a local socket.
package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/entrhq/pw/pkg/engine"
	"github.com/entrhq/pw/pkg/logging"
)

// Options configures Run.
type Options struct {
	Socket   string
	Engine   engine.Engine
	Launcher engine.Launcher
	DataRoot string
	Logger   *logging.Logger
}

// Run serves the daemon in the foreground until ctx ends, a signal
// arrives, or a client requests shutdown.
func Run(ctx context.Context, opts Options) error {
	if opts.Socket == "" {
		opts.Socket = SocketPath()
	}
	if opts.DataRoot == "" {
		opts.DataRoot = DataRoot()
	}

	listener, err := Listen(opts.Socket)
	if err != nil {
		return err
	}
	defer os.Remove(opts.Socket)

	server := NewServer(
		NewEngineStarter(opts.Engine, opts.Launcher, opts.DataRoot),
		WithServerLogger(opts.Logger),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts.Logger.Infof("daemon listening on %s (pid %d)", opts.Socket, os.Getpid())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, listener)
	})
	g.Go(func() error {
		select {
		case <-server.Done():
		case <-gctx.Done():
		}
		stop()
		return nil
	})

	err = g.Wait()
	// Pooled browsers are closed by Serve before the driver goes away.
	if cerr := opts.Engine.Close(); cerr != nil {
		opts.Logger.Warnf("closing engine: %v", cerr)
	}
	opts.Logger.Infof("daemon stopped")
	return err
}
