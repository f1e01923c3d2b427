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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
	"manualpilot/remotepad/impl"
	"manualpilot/remotepad/internal/host"
	"manualpilot/remotepad/internal/input"
)

type ServeEnv struct {
	Port             int    `env:"PORT,default=8080"`
	InstanceID       string `env:"INSTANCE_ID"`
	ServerIP         string `env:"SERVER_IP"`
	LogLevel         string `env:"LOG_LEVEL,default=info"`
	RedisURL         string `env:"REDIS_URL"`
	ServiceDomain    string `env:"SERVICE_DOMAIN"`
	PorkbunAPIKey    string `env:"PORKBUN_API_KEY"`
	PorkbunAPISecret string `env:"PORKBUN_API_SECRET"`
	ScreenWidth      int    `env:"SCREEN_WIDTH,default=1920"`
	ScreenHeight     int    `env:"SCREEN_HEIGHT,default=1080"`
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept pads and replay their input on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			env := ServeEnv{}
			if err := envconfig.Process(ctx, &env); err != nil {
				return err
			}

			if cmd.Flags().Changed("port") {
				env.Port = port
			}

			debug, _ := cmd.Flags().GetBool("debug")
			logger, err := newLogger(os.Stdout, env.LogLevel, debug)
			if err != nil {
				return err
			}

			return doServe(ctx, logger, env)
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "Port for discovery and events (overrides PORT)")

	return cmd
}

func doServe(ctx context.Context, logger *slog.Logger, env ServeEnv) error {
	if env.InstanceID == "" {
		env.InstanceID = ksuid.New().String()
	}

	if env.ServerIP == "" {
		env.ServerIP = host.LocalIP()
	}

	logger = logger.With(slog.String("instance", env.InstanceID))

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics := host.NewMetrics(promRegistry)
	observers := []host.Observer{metrics}

	var rdb *redis.Client
	if env.RedisURL != "" {
		rOpts, err := redis.ParseURL(env.RedisURL)
		if err != nil {
			return err
		}

		rOpts.ContextTimeoutEnabled = true
		rdb = redis.NewClient(rOpts)
		//goland:noinspection GoUnhandledErrorResult
		defer rdb.Close()

		if err := rdb.Info(ctx).Err(); err != nil {
			return err
		}

		mirror := host.NewRedisMirror(rdb, logger, env.InstanceID)
		defer mirror.Close()

		observers = append(observers, mirror)
	}

	registry := host.NewRegistry(observers...)
	sim := input.NewVirtual(logger, env.ScreenWidth, env.ScreenHeight)
	server := host.NewServer(logger, registry, host.NewDispatcher(sim, metrics), metrics, host.Options{
		InstanceID: env.InstanceID,
		ServerIP:   env.ServerIP,
		Port:       env.Port,
		Gatherer:   promRegistry,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%v", env.Port),
		Handler: server.Router(),
	}

	if env.ServiceDomain != "" {
		if rdb == nil {
			return errors.New("SERVICE_DOMAIN needs REDIS_URL for certificate storage")
		}

		tlsConfig, err := impl.TLSConfig(env.ServiceDomain, env.PorkbunAPIKey, env.PorkbunAPISecret, rdb)
		if err != nil {
			return err
		}

		httpServer.TLSConfig = tlsConfig
	}

	ec := make(chan error, 1)
	go func() {
		logger.Info("starting...", slog.String("address", httpServer.Addr), slog.String("ip", env.ServerIP))

		var err error
		if httpServer.TLSConfig != nil {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			ec <- err
		}
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sc:
		logger.Warn("shutdown signal", slog.String("signal", sig.String()))
	case err := <-ec:
		logger.Error("failed to start http server", err)
		return err
	case <-ctx.Done():
	}

	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()

	if err := httpServer.Shutdown(sctx); err != nil {
		logger.Error("failed to shut down cleanly", err)
		return httpServer.Close()
	}

	taps, clicks, _, _ := sim.Stats()
	logger.Info("stopped", slog.Int("taps", taps), slog.Int("clicks", clicks))
	return nil
}
