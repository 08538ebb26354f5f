package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/entrhq/pw/pkg/config"
	"github.com/entrhq/pw/pkg/output"
	"github.com/entrhq/pw/pkg/protocol"
)

type execOptions struct {
	input       string
	requestID   string
	browser     string
	headed      bool
	baseURL     string
	cdpEndpoint string
	timeoutMs   int
}

func newExecCommand(opts *globalOptions) *cobra.Command {
	eo := &execOptions{}
	cmd := &cobra.Command{
		Use:   "exec <op>",
		Short: "Run one operation",
		Example: `  pw exec nav --input '{"url":"https://example.com"}'
  pw exec page.text --input '{"selector":"h1"}' --format text
  pw exec screenshot --input @shot.json --profile checkout`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := eo.envelope(cmd, args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, cmd.OutOrStdout(), func(ctx context.Context, a *app) error {
				return a.respond(a.dispatcher.Dispatch(ctx, req))
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&eo.input, "input", "", "Operation input: inline JSON, @file, or - for stdin")
	flags.StringVar(&eo.requestID, "request-id", "", "Request id echoed in the response (default: random)")
	flags.StringVar(&eo.browser, "browser", "", "Browser override: chromium, firefox or webkit")
	flags.BoolVar(&eo.headed, "headed", false, "Show the browser window")
	flags.StringVar(&eo.baseURL, "base-url", "", "Base URL override for relative urls")
	flags.StringVar(&eo.cdpEndpoint, "cdp-endpoint", "", "Attach to an already running browser")
	flags.IntVar(&eo.timeoutMs, "timeout-ms", 0, "Operation timeout override in milliseconds")
	return cmd
}

// envelope builds the request for op from the command's flags.
func (eo *execOptions) envelope(cmd *cobra.Command, op string) (protocol.RequestEnvelope, error) {
	input, err := readInput(eo.input)
	if err != nil {
		return protocol.RequestEnvelope{}, err
	}
	if len(input) > 0 && !json.Valid(input) {
		return protocol.RequestEnvelope{}, fmt.Errorf("--input is not valid JSON")
	}

	id := eo.requestID
	if id == "" {
		id = uuid.NewString()
	}

	req := protocol.RequestEnvelope{
		SchemaVersion: protocol.SchemaVersion,
		RequestID:     id,
		Op:            op,
		Input:         input,
	}

	var o config.Overrides
	set := false
	flags := cmd.Flags()
	if flags.Changed("browser") {
		o.Browser, set = &eo.browser, true
	}
	if flags.Changed("headed") {
		headless := !eo.headed
		o.Headless, set = &headless, true
	}
	if flags.Changed("base-url") {
		o.BaseURL, set = &eo.baseURL, true
	}
	if flags.Changed("cdp-endpoint") {
		o.CDPEndpoint, set = &eo.cdpEndpoint, true
	}
	if flags.Changed("timeout-ms") {
		o.TimeoutMs, set = &eo.timeoutMs, true
	}
	if set {
		req.Runtime = &protocol.RuntimeSelector{Overrides: o}
	}
	return req, nil
}

func newRequestCommand(opts *globalOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Run one request envelope read from a file or stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				data []byte
				err  error
			)
			if file == "" || file == "-" {
				data, err = readAllStdin()
			} else {
				data, err = os.ReadFile(file)
			}
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, cmd.OutOrStdout(), func(ctx context.Context, a *app) error {
				return a.respond(a.dispatcher.DispatchRaw(ctx, data))
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Envelope file (default: stdin)")
	return cmd
}

func newRunCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Serve line-delimited request envelopes on stdin",
		Long: `run reads one JSON envelope per line from stdin and writes one JSON
response per line to stdout, keeping browser connections open between lines.
The bare words ping, quit and exit are also accepted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, cmd.OutOrStdout(), func(ctx context.Context, a *app) error {
				err := a.dispatcher.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}

func newOpsCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List the available operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ops := protocol.DefaultRegistry().Operations()
			if opts.outputFormat == output.FormatText {
				for _, op := range ops {
					fmt.Fprintf(cmd.OutOrStdout(), "%-20s %s\n", op.Name(), op.Description())
				}
				return nil
			}

			described := make(map[string]string, len(ops))
			for _, op := range ops {
				described[op.Name()] = op.Description()
			}
			return printer(cmd, opts).PrintValue(described)
		},
	}
}
