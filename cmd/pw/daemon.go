package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/entrhq/pw/pkg/daemon"
	"github.com/entrhq/pw/pkg/engine"
	"github.com/entrhq/pw/pkg/logging"
	"github.com/entrhq/pw/pkg/output"
	"github.com/entrhq/pw/pkg/procutil"
	"github.com/entrhq/pw/pkg/types"
)

const (
	daemonStartTimeout = 10 * time.Second
	daemonCallTimeout  = 30 * time.Second
)

func newDaemonCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the shared browser daemon",
		Long: `The daemon owns a pool of browsers on ports 9222-10221 so that sessions
outlive the invocation that created them. It listens on a unix socket at
$PW_DAEMON_SOCKET, $XDG_RUNTIME_DIR/pw-daemon.sock or the temp directory.`,
	}
	cmd.AddCommand(
		newDaemonStartCommand(opts),
		newDaemonStopCommand(opts),
		newDaemonStatusCommand(opts),
		newDaemonListCommand(opts),
		newDaemonKillCommand(opts),
	)
	return cmd
}

func newDaemonStartCommand(opts *globalOptions) *cobra.Command {
	var foreground bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if foreground {
				return runDaemonForeground(cmd.Context())
			}
			return startDaemonBackground(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Serve in this process instead of detaching")
	return cmd
}

func runDaemonForeground(ctx context.Context) error {
	logger := logging.MustLogger("daemon")
	defer logger.Close()
	if path := logger.LogPath(); path != "" {
		fmt.Fprintf(os.Stderr, "pw daemon logging to %s\n", path)
	}

	eng := engine.NewPlaywright(engine.WithEngineLogger(logger.With("engine")))
	return daemon.Run(ctx, daemon.Options{
		Socket:   daemon.SocketPath(),
		Engine:   eng,
		Launcher: engine.NewChromiumLauncher(eng.ChromiumExecutable, engine.WithLauncherLogger(logger.With("launcher"))),
		Logger:   logger,
	})
}

// startDaemonBackground re-executes this binary detached and waits until
// the socket answers.
func startDaemonBackground(cmd *cobra.Command, opts *globalOptions) error {
	ctx := cmd.Context()
	client := daemon.NewClient(daemon.SocketPath())

	if !client.Reachable(ctx) {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to locate executable: %w", err)
		}
		child := exec.Command(exe, "daemon", "start", "--foreground")
		child.Env = os.Environ()
		procutil.Detach(child)
		if err := child.Start(); err != nil {
			return types.WrapError(types.CodeDaemonUnavailable, err, "failed to start daemon")
		}
		_ = child.Process.Release()

		err = engine.Poll(ctx, engine.PollOptions{
			Interval: 100 * time.Millisecond,
			Timeout:  daemonStartTimeout,
			What:     "daemon socket " + client.Socket(),
		}, func(ctx context.Context) (bool, error) {
			return client.Reachable(ctx), nil
		})
		if err != nil {
			return err
		}
	}

	return printDaemonStatus(cmd, opts, client)
}

func newDaemonStopCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Close every pooled browser and stop the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), daemonCallTimeout)
			defer cancel()

			client := daemon.NewClient(daemon.SocketPath())
			err := client.Shutdown(ctx)
			if types.CodeOf(err) == types.CodeDaemonUnavailable {
				return printer(cmd, opts).PrintValue(map[string]bool{"stopped": false})
			}
			if err != nil {
				return err
			}
			return printer(cmd, opts).PrintValue(map[string]bool{"stopped": true})
		},
	}
}

func newDaemonStatusCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printDaemonStatus(cmd, opts, daemon.NewClient(daemon.SocketPath()))
		},
	}
}

func printDaemonStatus(cmd *cobra.Command, opts *globalOptions, client *daemon.Client) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), daemon.PingTimeout)
	defer cancel()

	status, err := client.Status(ctx)
	if err != nil && types.CodeOf(err) != types.CodeDaemonUnavailable {
		return err
	}
	return printer(cmd, opts).PrintValue(status)
}

func newDaemonListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pooled browsers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), daemonCallTimeout)
			defer cancel()

			browsers, err := daemon.NewClient(daemon.SocketPath()).List(ctx)
			if err != nil {
				return err
			}
			if browsers == nil {
				browsers = []daemon.BrowserInfo{}
			}
			return printer(cmd, opts).PrintValue(browsers)
		},
	}
}

func newDaemonKillCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "kill <port>",
		Short: "Close the pooled browser on a port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", args[0], err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), daemonCallTimeout)
			defer cancel()

			if err := daemon.NewClient(daemon.SocketPath()).Kill(ctx, port); err != nil {
				return err
			}
			return printer(cmd, opts).PrintValue(map[string]int{"killed": port})
		},
	}
}

func printer(cmd *cobra.Command, opts *globalOptions) *output.Printer {
	return output.NewPrinter(cmd.OutOrStdout(), opts.outputFormat, opts.colorMode)
}
