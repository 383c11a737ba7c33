// Command rpc-daemon hosts a small simulated node over JSON-RPC. It is the
// server side counterpart of rpc-cli and a worked example of the server package.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"daemon-rpc/config"
	"daemon-rpc/logs"
	"daemon-rpc/message"
	"daemon-rpc/middleware"
	"daemon-rpc/protocol"
	"daemon-rpc/registry"
	"daemon-rpc/server"
)

var (
	configPath    string
	blockInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "rpc-daemon",
	Short:        "Simulated node answering JSON-RPC",
	Long:         "rpc-daemon serves getblockcount and friends over HTTP and, optionally, a newline-delimited TCP stream.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file")
	rootCmd.Flags().DurationVar(&blockInterval, "block-interval", 10*time.Second, "how often the simulated chain grows")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, closer, err := logs.Setup(logs.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, Output: cfg.Log.Output})
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	node := newChain()
	go node.run(ctx, blockInterval)

	started := time.Now()
	methods, err := server.MethodsOf(node)
	if err != nil {
		return err
	}
	methods = append(methods,
		server.Method{
			Name:    "uptime",
			Summary: "uptime",
			Detail:  "uptime\n\nReturns the total uptime of the server in seconds.",
			Handler: server.Func(func(context.Context, message.Params) (any, error) {
				return int64(time.Since(started).Seconds()), nil
			}),
		},
		server.Method{
			Name:    "echo",
			Summary: "echo ( \"arg\" ... )",
			Detail:  "echo ( \"arg\" ... )\n\nReturns its params unchanged. For testing.",
			Handler: server.Func(func(_ context.Context, p message.Params) (any, error) {
				return p, nil
			}),
		},
		// Shutdown is asynchronous so the stop reply goes out first.
		server.StopMethod(cancel),
	)
	svc, err := server.NewService(methods, server.WithServiceLogger(logger))
	if err != nil {
		return err
	}

	rpcCfg, err := cfg.RPC()
	if err != nil {
		return err
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(reg),
		server.WithMaxConns(cfg.Server.MaxConns),
		server.WithCORS(cfg.Server.CORSOrigins...),
	}
	if rpcCfg.Username != "" {
		opts = append(opts, server.WithAuth(protocol.Credentials{Username: rpcCfg.Username, Password: rpcCfg.Password}))
	}
	if len(cfg.Server.Etcd) > 0 {
		etcd, err := registry.NewEtcdRegistry(cfg.Server.Etcd)
		if err != nil {
			return err
		}
		defer etcd.Close()
		opts = append(opts, server.WithRegistry(etcd, cfg.Server.ServiceName,
			registry.ServiceInstance{Addr: cfg.Server.Address, Weight: 1, Version: message.VersionTag}, 10))
	}

	srv := server.New(svc, opts...)
	srv.Use(middleware.Logging(logger))
	if cfg.Server.RateLimit > 0 {
		srv.Use(middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}
	if cfg.Server.RequestTimeout > 0 {
		srv.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	}

	errCh := make(chan error, 2)
	go func() { errCh <- srv.ListenAndServe(cfg.Server.Address) }()
	if cfg.Server.StreamAddress != "" {
		go func() { errCh <- srv.ListenAndServeStream("tcp", cfg.Server.StreamAddress) }()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		if serveErr != nil && !errors.Is(serveErr, net.ErrClosed) {
			logger.Error("listener failed", slog.String("err", serveErr.Error()))
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("stopped")
	return serveErr
}
