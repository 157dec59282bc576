// Package main provides the relaymuxd CLI entry point.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/postalsys/relaymux/internal/acceptor"
	"github.com/postalsys/relaymux/internal/config"
	"github.com/postalsys/relaymux/internal/connector"
	"github.com/postalsys/relaymux/internal/endpoint"
	"github.com/postalsys/relaymux/internal/httpconnect"
	"github.com/postalsys/relaymux/internal/httpproxy"
	"github.com/postalsys/relaymux/internal/listener"
	"github.com/postalsys/relaymux/internal/logging"
	"github.com/postalsys/relaymux/internal/metrics"
	"github.com/postalsys/relaymux/internal/socks5"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "relaymuxd",
		Short:   "relaymuxd - proxy server framework daemon",
		Version: Version,
	}
	rootCmd.AddCommand(runCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run relaymuxd with the given configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "./relaymuxd.yaml", "path to configuration file")
	return cmd
}

func run(cfg *config.Config) error {
	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	m := metrics.NewMetrics()

	router, err := buildRouter(cfg.Router)
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	listeners := buildListeners(cfg, router, logger, m)
	if len(listeners) == 0 {
		return fmt.Errorf("no listeners configured")
	}

	for _, l := range listeners {
		if err := l.Start(); err != nil {
			return fmt.Errorf("start listener: %w", err)
		}
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", logging.KeyError, err)
			}
		}()
		logger.Info("metrics listening", logging.KeyLocalAddr, cfg.Metrics.Address)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, l := range listeners {
		l.Stop()
	}
	if metricsSrv != nil {
		metricsSrv.Shutdown(ctx)
	}
	return nil
}

// buildRouter wraps a direct-dial TCPConnector in a Router so future
// connector strategies (proxy chaining, TLS-wrapped dialing) can be
// added alongside it without changing the listener wiring.
func buildRouter(cfg config.RouterConfig) (connector.Connector, error) {
	resolver := endpoint.SystemResolver{}
	tc := connector.NewTCPConnector(resolver)
	if cfg.DialTimeout > 0 {
		tc.Dialer.Timeout = cfg.DialTimeout
	}
	return connector.NewRouter(tc), nil
}

func buildListeners(cfg *config.Config, router connector.Connector, logger *slog.Logger, m *metrics.Metrics) []*listener.Listener {
	var out []*listener.Listener

	if lc := cfg.Listeners.SOCKS5; lc != nil {
		out = append(out, listener.New(listenerConfig("socks5", lc, logger, m),
			func(conn net.Conn) acceptor.Acceptor { return socks5.NewAcceptor(conn) },
			router))
	}
	if lc := cfg.Listeners.HTTPConnect; lc != nil {
		out = append(out, listener.New(listenerConfig("http-connect", lc, logger, m),
			func(conn net.Conn) acceptor.Acceptor { return httpconnect.NewAcceptor(conn) },
			router))
	}
	if lc := cfg.Listeners.HTTPProxy; lc != nil {
		out = append(out, listener.New(listenerConfig("http-proxy", lc, logger, m),
			func(conn net.Conn) acceptor.Acceptor { return httpproxy.NewAcceptor(conn, nil) },
			router))
	}
	return out
}

func listenerConfig(kind string, lc *config.ListenerConfig, logger *slog.Logger, m *metrics.Metrics) listener.Config {
	return listener.Config{
		Kind:             kind,
		Address:          lc.Address,
		MaxConnections:   lc.MaxConnections,
		HandshakeTimeout: lc.HandshakeTimeout,
		Logger:           logger,
		Metrics:          m,
	}
}
