// Command pw drives persistent browser sessions through a versioned JSON
// protocol, one request per invocation or as a line-delimited stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/entrhq/pw/pkg/output"
	"github.com/entrhq/pw/pkg/version"
)

const (
	envProfile   = "PW_PROFILE"
	envWorkspace = "PW_WORKSPACE"
	envNoDaemon  = "PW_NO_DAEMON"
	envArtifacts = "PW_ARTIFACTS_DIR"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	workspace string
	profile   string
	format    string
	color     string
	noDaemon  bool
	artifacts string

	outputFormat output.Format
	colorMode    output.ColorMode
}

// exitError carries a process exit code without printing anything more.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "pw",
		Short: "pw - persistent browser automation over a JSON protocol",
		Long: `pw keeps a browser alive per workspace profile and runs page operations
against it. Each request is a versioned JSON envelope; each response reports
the effective runtime, data, artifacts and diagnostics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.complete(cmd)
		},
	}
	root.Version = version.Version
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	flags := root.PersistentFlags()
	flags.StringVar(&opts.workspace, "workspace", "", "Workspace directory (or set PW_WORKSPACE, default: current directory)")
	flags.StringVar(&opts.profile, "profile", "", "Profile to use when a request names none (or set PW_PROFILE)")
	flags.StringVar(&opts.format, "format", "json", "Output format: json, ndjson or text")
	flags.StringVar(&opts.color, "color", "auto", "Color in text output: auto, always or never")
	flags.BoolVar(&opts.noDaemon, "no-daemon", false, "Launch browsers directly instead of through the daemon (or set PW_NO_DAEMON)")
	flags.StringVar(&opts.artifacts, "artifacts-dir", "", "Save a screenshot and the HTML of the page when a browser operation fails (or set PW_ARTIFACTS_DIR)")

	root.AddCommand(
		newExecCommand(opts),
		newRequestCommand(opts),
		newRunCommand(opts),
		newDaemonCommand(opts),
		newOpsCommand(opts),
	)
	return root
}

// complete layers the workspace .env file and the environment under the
// flags the user did not set.
func (o *globalOptions) complete(cmd *cobra.Command) error {
	if o.workspace == "" {
		o.workspace = os.Getenv(envWorkspace)
	}
	if o.workspace == "" {
		o.workspace = "."
	}

	if err := loadDotEnv(o.workspace); err != nil {
		return err
	}

	flags := cmd.Flags()
	if !flags.Changed("profile") {
		o.profile = os.Getenv(envProfile)
	}
	if !flags.Changed("artifacts-dir") {
		o.artifacts = os.Getenv(envArtifacts)
	}
	if !flags.Changed("no-daemon") {
		if v := os.Getenv(envNoDaemon); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s value %q: %w", envNoDaemon, v, err)
			}
			o.noDaemon = b
		}
	}

	var err error
	if o.outputFormat, err = output.ParseFormat(o.format); err != nil {
		return err
	}
	if o.colorMode, err = output.ParseColorMode(o.color); err != nil {
		return err
	}
	return nil
}

// loadDotEnv reads <workspace>/.env. Variables already set in the process
// environment win.
func loadDotEnv(workspace string) error {
	path := filepath.Join(workspace, ".env")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// readInput resolves a --input value: inline JSON, @file, or - for stdin.
func readInput(value string) ([]byte, error) {
	switch {
	case value == "":
		return nil, nil
	case value == "-":
		return readAllStdin()
	case strings.HasPrefix(value, "@"):
		data, err := os.ReadFile(value[1:])
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		return data, nil
	default:
		return []byte(value), nil
	}
}
