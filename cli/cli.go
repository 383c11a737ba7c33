// Package cli implements rpc-cli, a generic command line caller for any
// JSON-RPC method.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"daemon-rpc/client"
	"daemon-rpc/config"
	"daemon-rpc/logs"
	"daemon-rpc/message"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitUsage       = 1
	ExitApplication = 2 // the server answered with a JSON-RPC error
	ExitFailure     = 3 // status, transport or protocol failure
)

const usageText = `usage: rpc-cli [options] <method> [params...]

Call <method> on a JSON-RPC server and print the result as JSON. Each param is
parsed as JSON; anything that is not valid JSON is sent as a string.

Options:
  --url URL          server URL, may embed user:pass@ (default 127.0.0.1 on the network's port)
  --user USER        RPC username
  --password PASS    RPC password
  --config FILE      config file (yaml, toml, json or ini)
  --network NAME     mainnet, testnet, signet or regtest
  --rpcwallet NAME   send the call to /wallet/NAME
  --named            treat params as key=value pairs
  --v2               use "jsonrpc":"2.0" envelopes
  --timeout D        give up after D (for example 30s)
  --verbose          log requests to stderr
  --help             show this text
`

// exitError carries the exit code chosen for a failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

type flags struct {
	url, user, password string
	configPath, network string
	wallet              string
	named, v2, verbose  bool
	timeout             time.Duration
}

// Run executes the tool with args (without the program name) and returns the
// process exit code.
func Run(args []string, stdout, stderr io.Writer) int {
	var f flags
	cmd := &cobra.Command{
		Use:           "rpc-cli [options] <method> [params...]",
		Short:         "Call a JSON-RPC method",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("missing method name")
			}
			return call(cmd, &f, args, stdout)
		},
	}
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetHelpFunc(func(*cobra.Command, []string) { fmt.Fprint(stdout, usageText) })

	fs := cmd.Flags()
	// Params such as -1 must not be taken for flags.
	fs.SetInterspersed(false)
	fs.StringVar(&f.url, "url", "", "server URL")
	fs.StringVar(&f.user, "user", "", "RPC username")
	fs.StringVar(&f.password, "password", "", "RPC password")
	fs.StringVar(&f.configPath, "config", "", "config file")
	fs.StringVar(&f.network, "network", "", "network name")
	fs.StringVar(&f.wallet, "rpcwallet", "", "wallet name")
	fs.BoolVar(&f.named, "named", false, "key=value params")
	fs.BoolVar(&f.v2, "v2", false, "JSON-RPC 2.0 envelopes")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "log to stderr")
	fs.DurationVar(&f.timeout, "timeout", 0, "call timeout")

	err := cmd.Execute()
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		fmt.Fprintln(stderr, ee.Error())
		return ee.code
	}
	fmt.Fprintf(stderr, "error: %v\n%s", err, usageText)
	return ExitUsage
}

func call(cmd *cobra.Command, f *flags, args []string, stdout io.Writer) error {
	cfg, timeout, err := resolveConfig(cmd, f)
	if err != nil {
		return err
	}

	logger := logs.Discard()
	if f.verbose {
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	opts := []client.Option{client.WithLogger(logger)}
	if f.v2 {
		opts = append(opts, client.WithVersion(message.V2))
	}
	if f.wallet != "" {
		opts = append(opts, client.WithWallet(f.wallet))
	}
	if timeout > 0 {
		opts = append(opts, client.WithInterceptors(client.TimeoutInterceptor(timeout)))
	}
	c, err := client.New(cfg, opts...)
	if err != nil {
		// A tcp:// URL dials here; an unreachable daemon is not a usage error.
		if client.KindOf(err) == client.KindTransport {
			return classify(err)
		}
		return err
	}
	defer c.Close()

	method, raw := args[0], args[1:]
	var params message.Params
	if f.named {
		kv, err := ParseNamedParams(raw)
		if err != nil {
			return err
		}
		params = message.Named(kv)
	} else {
		params = message.Positional(ParseParams(raw)...)
	}

	var result json.RawMessage
	if err := c.Call(context.Background(), method, params, &result); err != nil {
		return classify(err)
	}
	return printResult(stdout, result)
}

// resolveConfig layers flags over the config file and environment. Flags only
// win when given explicitly.
func resolveConfig(cmd *cobra.Command, f *flags) (config.RPCConfig, time.Duration, error) {
	file, err := config.Load(f.configPath)
	if err != nil {
		return config.RPCConfig{}, 0, err
	}
	fs := cmd.Flags()
	if fs.Changed("url") {
		file.URL = f.url
	}
	if fs.Changed("user") {
		file.User = f.user
	}
	if fs.Changed("password") {
		file.Password = f.password
	}
	if fs.Changed("network") {
		file.Network = f.network
	}
	timeout := file.Timeout
	if fs.Changed("timeout") {
		timeout = f.timeout
	}
	cfg, err := file.RPC()
	if err != nil {
		return config.RPCConfig{}, 0, err
	}
	return cfg, timeout, nil
}

// ParseParams decodes each argument as JSON, keeping it as a plain string when
// it is not valid JSON.
func ParseParams(args []string) []any {
	params := make([]any, 0, len(args))
	for _, a := range args {
		var v any
		if err := json.Unmarshal([]byte(a), &v); err != nil {
			params = append(params, a)
			continue
		}
		// Keep numbers exact instead of going through float64.
		if _, ok := v.(float64); ok {
			params = append(params, json.RawMessage(a))
			continue
		}
		params = append(params, v)
	}
	return params
}

// ParseNamedParams splits key=value arguments, decoding values like ParseParams.
func ParseNamedParams(args []string) (map[string]any, error) {
	kv := make(map[string]any, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("named param %q is not key=value", a)
		}
		kv[k] = ParseParams([]string{v})[0]
	}
	return kv, nil
}

func classify(err error) error {
	if rpcErr, ok := client.RPCError(err); ok {
		return &exitError{code: ExitApplication, err: fmt.Errorf("error code: %d: %s", rpcErr.Code, rpcErr.Message)}
	}
	return &exitError{code: ExitFailure, err: fmt.Errorf("error: %s: %w", client.KindOf(err), err)}
}

func printResult(w io.Writer, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		return &exitError{code: ExitFailure, err: fmt.Errorf("error: malformed result: %w", err)}
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
