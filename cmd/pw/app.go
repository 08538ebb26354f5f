package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/entrhq/pw/pkg/config"
	"github.com/entrhq/pw/pkg/contextstore"
	"github.com/entrhq/pw/pkg/daemon"
	"github.com/entrhq/pw/pkg/engine"
	"github.com/entrhq/pw/pkg/logging"
	"github.com/entrhq/pw/pkg/output"
	"github.com/entrhq/pw/pkg/protocol"
	"github.com/entrhq/pw/pkg/session"
	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/workspace"
)

// app is everything one invocation needs to dispatch requests.
type app struct {
	logger     *logging.Logger
	engine     *engine.Playwright
	dispatcher *protocol.Dispatcher
	printer    *output.Printer
}

func newApp(opts *globalOptions, stdout io.Writer) (*app, error) {
	ws, err := workspace.New(opts.workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace: %w", err)
	}

	logger := logging.MustLogger("pw")
	logger.Infof("workspace %s (state %s)", ws.Root(), ws.StateDir())

	eng := engine.NewPlaywright(engine.WithEngineLogger(logger.With("engine")))
	client := daemon.NewClient(daemon.SocketPath())

	broker := session.NewBroker(ws, eng,
		session.WithLauncher(engine.NewChromiumLauncher(eng.ChromiumExecutable,
			engine.WithLauncherLogger(logger.With("launcher")))),
		session.WithSpawner(client),
		session.WithLogger(logger.With("session")),
	)

	services := &tools.Services{
		Workspace: ws,
		Profiles:  config.NewProfileStore(ws),
		Context:   contextstore.NewStore(ws),
		Sessions:  session.NewManager(broker),
		Daemon:    client,
		Logger:    logger,

		ArtifactsDir: opts.artifacts,
	}

	dispatchOpts := []protocol.Option{
		protocol.WithDefaultProfile(opts.profile),
		protocol.WithLogger(logger.With("dispatch")),
	}
	if opts.noDaemon {
		off := false
		dispatchOpts = append(dispatchOpts, protocol.WithBaseOverrides(config.Overrides{UseDaemon: &off}))
	}

	return &app{
		logger:     logger,
		engine:     eng,
		dispatcher: protocol.NewDispatcher(protocol.DefaultRegistry(), services, dispatchOpts...),
		printer:    output.NewPrinter(stdout, opts.outputFormat, opts.colorMode),
	}, nil
}

// Close drops browser connections without closing the browsers, so the
// next invocation can reuse them.
func (a *app) Close() error {
	if err := a.dispatcher.Close(); err != nil {
		a.logger.Warnf("failed to release sessions: %v", err)
	}
	if err := a.engine.Close(); err != nil {
		a.logger.Warnf("failed to stop driver: %v", err)
	}
	return a.logger.Close()
}

// respond prints resp and turns a failed response into a non-zero exit.
func (a *app) respond(resp protocol.ResponseEnvelope) error {
	if err := a.printer.Print(resp); err != nil {
		return err
	}
	if !resp.OK {
		return &exitError{code: 1}
	}
	return nil
}

func readAllStdin() ([]byte, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	return data, nil
}

// withApp builds the app for one command run and tears it down after.
func withApp(ctx context.Context, opts *globalOptions, stdout io.Writer, fn func(context.Context, *app) error) error {
	a, err := newApp(opts, stdout)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
