package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mfgintel/toolproxy/internal/cli/output"
	"github.com/mfgintel/toolproxy/internal/proxy"
	"github.com/mfgintel/toolproxy/internal/reqcontext"
)

type callOptions struct {
	tenant    string
	server    string
	tool      string
	args      string
	requestID string
	timeout   time.Duration
	output    string
}

func newCallCommand() *cobra.Command {
	opts := &callOptions{}
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Call a tool on a configured tool server",
		Example: `  # Call a tool with JSON arguments
  toolproxy call --tenant plant-a --server inventory --tool read_stock --args '{"sku":"A-1"}'

  # Machine-readable result
  toolproxy call --tenant plant-a --server inventory --tool read_stock -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCall(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.tenant, "tenant", "", "Tenant id (required)")
	f.StringVar(&opts.server, "server", "", "Server id (required)")
	f.StringVar(&opts.tool, "tool", "", "Tool name (required)")
	f.StringVar(&opts.args, "args", "{}", "Tool arguments as a JSON object")
	f.StringVar(&opts.requestID, "request-id", "", "JSON-RPC request id (default: generated UUID)")
	f.DurationVar(&opts.timeout, "timeout", 0, "Overall deadline including retries (0 = none)")
	f.StringVarP(&opts.output, "output", "o", "", "Output format (table, json, yaml)")
	for _, name := range []string{"tenant", "server", "tool"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("failed to mark %s flag as required: %v", name, err))
		}
	}
	return cmd
}

func runCall(cmd *cobra.Command, opts *callOptions) error {
	formatter, err := output.NewFormatter(output.ResolveFormat(opts.output))
	if err != nil {
		return output.NewStructuredError(output.ErrCodeInvalidOutputFormat, err.Error())
	}

	var args map[string]interface{}
	if err := json.Unmarshal([]byte(opts.args), &args); err != nil {
		return output.NewStructuredError(output.ErrCodeInvalidInput, "invalid JSON arguments: "+err.Error()).
			WithGuidance(`--args takes a JSON object, e.g. '{"sku":"A-1"}'`)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}
	ctx = reqcontext.WithMetadata(ctx, reqcontext.SourceCLI)

	a, err := buildApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.lookup(opts.tenant, opts.server); err != nil {
		return err
	}
	server, _ := a.registry.Get(opts.tenant, opts.server)

	var callOpts []proxy.CallOption
	if opts.requestID != "" {
		callOpts = append(callOpts, proxy.WithRequestID(opts.requestID))
	}
	resp, err := a.proxy.CallTool(ctx, server, opts.tool, args, callOpts...)
	if err != nil {
		return err
	}

	out, err := formatCallResponse(formatter, resp)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)

	if !resp.OK() {
		return &exitError{code: ExitCodeFailed, reported: true}
	}
	return nil
}

func formatCallResponse(f output.OutputFormatter, resp *proxy.CallResponse) (string, error) {
	if _, ok := f.(*output.TableFormatter); !ok {
		return f.Format(resp)
	}

	row := []string{
		resp.RequestID,
		string(resp.Status),
		strconv.FormatInt(resp.LatencyMs, 10) + "ms",
		strconv.Itoa(resp.Attempts),
		resp.ErrorCode,
	}
	table, err := f.FormatTable([]string{"REQUEST ID", "STATUS", "LATENCY", "ATTEMPTS", "ERROR CODE"}, [][]string{row})
	if err != nil {
		return "", err
	}
	switch {
	case resp.OK() && len(resp.Result) > 0:
		result, err := f.Format(resp.Result)
		if err != nil {
			return "", err
		}
		table += "\n" + result
	case !resp.OK():
		se := output.NewStructuredError(output.ErrCodeToolCallFailed, resp.ErrorMessage).
			WithRequestID(resp.RequestID).
			WithContext("error_code", resp.ErrorCode)
		if g := failureGuidance(resp); g != "" {
			se = se.WithGuidance(g)
		}
		msg, err := f.FormatError(se)
		if err != nil {
			return "", err
		}
		table += "\n" + msg
	}
	return table, nil
}

func failureGuidance(resp *proxy.CallResponse) string {
	switch {
	case resp.Status == proxy.StatusCircuitOpen:
		return "the server failed repeatedly; retry after the breaker cool-down or reset it via the gateway"
	case resp.Status == proxy.StatusTimeout:
		return "raise the server timeout or check the tool server's latency"
	case resp.ErrorCode == proxy.CodeOAuth:
		return "check the OAuth2 token URL and client credentials"
	default:
		return ""
	}
}
