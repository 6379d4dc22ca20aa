// Command terminalgw runs the terminal-proxy gateway: a connection-
// oriented HTTP/WebSocket server that authenticates browser clients
// against a session store and proxies their terminal WebSocket stream to
// a backend service such as ttyd or gotty.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"terminalgw/internal/auth"
	"terminalgw/internal/config"
	"terminalgw/internal/eventbus"
	"terminalgw/internal/logging"
	"terminalgw/internal/metrics"
	"terminalgw/internal/server"
	"terminalgw/internal/session"
	"terminalgw/internal/staticfiles"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var v *viper.Viper

	cmd := &cobra.Command{
		Use:           "terminalgw",
		Short:         "Terminal-proxy gateway server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				fmt.Println("terminalgw", version)
				return nil
			}
			return run(v)
		},
	}

	v = config.BindFlags(cmd.Flags())
	return cmd
}

func run(v *viper.Viper) error {
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("terminalgw: %w", err)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return fmt.Errorf("terminalgw: build logger: %w", err)
	}
	defer log.Sync()

	sessions := session.NewManager(cfg.SessionTimeout, cfg.MaxSessions)
	static := staticfiles.New(cfg.StaticDir)
	m := metrics.New()
	collector := metrics.NewCollector(m)
	stopCollector := collector.StartCollection()
	defer stopCollector()

	bus, err := eventbus.New(eventbus.Config{
		URL:             cfg.EventBusURL,
		MaxReconnects:   10,
		ReconnectWait:   time.Second,
		ReconnectJitter: 200 * time.Millisecond,
		MaxPingsOut:     3,
		PingInterval:    10 * time.Second,
	}, log, m)
	if err != nil {
		return fmt.Errorf("terminalgw: connect eventbus: %w", err)
	}
	defer bus.Close()

	var jwtManager *auth.JWTManager
	if cfg.JWTSecret != "" {
		jwtManager = auth.NewJWTManager(cfg.JWTSecret, cfg.SessionTimeout, sessions)
	}

	srv := server.New(cfg, log, sessions, static, m, collector, bus, jwtManager)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("terminalgw starting", zap.String("version", version))
	return srv.Run(ctx)
}
