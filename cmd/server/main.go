package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	router "github.com/dkeye/huddle/internal/adapters/http"
	"github.com/dkeye/huddle/internal/adapters/loopback"
	"github.com/dkeye/huddle/internal/adapters/rtc"
	signaling "github.com/dkeye/huddle/internal/adapters/signal"
	"github.com/dkeye/huddle/internal/app"
	"github.com/dkeye/huddle/internal/app/orch"
	"github.com/dkeye/huddle/internal/config"
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/metrics"
)

func main() {
	// Console logger until the config says otherwise.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := newRootCmd(config.New()).ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("huddle failed")
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "huddle",
		Short:         "Signaling coordinator for SFU video rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v)
		},
	}

	f := cmd.Flags()
	f.Int("port", 8080, "HTTP listen port")
	f.String("config-env", "dev", "loads config/config.<env>.yaml")
	f.String("media-engine", "pion", "media engine: pion or loopback")
	f.String("log-level", "info", "trace, debug, info, warn or error")

	for key, flag := range map[string]string{
		"port":         "port",
		"config_env":   "config-env",
		"media.engine": "media-engine",
		"log.level":    "log-level",
	} {
		_ = v.BindPFlag(key, f.Lookup(flag))
	}
	return cmd
}

func setupLogger(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

func newEngine(cfg *config.Config) (core.Engine, error) {
	switch cfg.Media.Engine {
	case "loopback":
		return loopback.NewEngine(cfg.Media.AnnouncedIP), nil
	case "pion":
		return rtc.NewEngine(rtc.Options{
			ICEServers:  cfg.Media.ICEServers,
			AnnouncedIP: cfg.Media.AnnouncedIP,
			UDPPortMin:  cfg.Media.UDPPortMin,
			UDPPortMax:  cfg.Media.UDPPortMax,
			ICERole:     cfg.Media.ICERole,
		})
	}
	return nil, fmt.Errorf("unknown media engine %q", cfg.Media.Engine)
}

func newPolicy(cfg *config.Config) app.Policy {
	if cfg.Signal.Backpressure == "drop" {
		return app.TolerantPolicy{}
	}
	return app.SimplePolicy{}
}

func run(ctx context.Context, v *viper.Viper) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	setupLogger(cfg.Log)

	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	m := metrics.NewPrometheusCollector()
	rooms := core.NewRegistry(engine, cfg.RouterCodecs())
	o := orch.New(app.NewRegistry(), rooms, newPolicy(cfg), m)
	o.ConnectTimeout = cfg.Media.ConnectTimeout
	o.OperationTimeout = cfg.Media.OperationTimeout

	ctrl := signaling.NewSignalWSController(o, m, signaling.Options{
		ReadLimit:    cfg.Signal.ReadLimit,
		PingPeriod:   cfg.Signal.PingPeriod,
		SendBuffer:   cfg.Signal.SendBuffer,
		JoinLimit:    cfg.Signal.JoinRate.Limit,
		JoinInterval: cfg.Signal.JoinRate.Interval,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(ctx, cfg, o, ctrl, m.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("engine", cfg.Media.Engine).Msg("huddle server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		o.Shutdown()
		return fmt.Errorf("server error: %w", err)
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	o.Shutdown()
	log.Info().Msg("Server exited gracefully")
	return nil
}
