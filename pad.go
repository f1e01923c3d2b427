package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
	"manualpilot/remotepad/internal/batcher"
	"manualpilot/remotepad/internal/client"
	"manualpilot/remotepad/internal/keymap"
	"manualpilot/remotepad/internal/pad"
	"manualpilot/remotepad/internal/protocol"
)

const settleTimeout = 2 * time.Second

type PadEnv struct {
	Host                 string        `env:"REMOTEPAD_HOST,default=main.home"`
	Port                 int           `env:"REMOTEPAD_PORT,default=8080"`
	Secure               bool          `env:"REMOTEPAD_SECURE,default=false"`
	FlushInterval        time.Duration `env:"FLUSH_INTERVAL,default=16ms"`
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL,default=1s"`
	ReconnectDelay       time.Duration `env:"RECONNECT_DELAY,default=1s"`
	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS,default=3"`
	Coalesce             string        `env:"COALESCE,default=overwrite"`
	KeymapPath           string        `env:"KEYMAP_PATH"`
	LogLevel             string        `env:"LOG_LEVEL,default=info"`
}

func padCmd() *cobra.Command {
	var (
		hostFlag string
		portFlag int
	)

	cmd := &cobra.Command{
		Use:   "pad",
		Short: "Send keys and pointer moves typed on this terminal to a host",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			env := PadEnv{}
			if err := envconfig.Process(ctx, &env); err != nil {
				return err
			}

			if cmd.Flags().Changed("host") {
				env.Host = hostFlag
			}

			if cmd.Flags().Changed("port") {
				env.Port = portFlag
			}

			debug, _ := cmd.Flags().GetBool("debug")
			logger, err := newLogger(os.Stderr, env.LogLevel, debug)
			if err != nil {
				return err
			}

			return doPad(ctx, logger, env)
		},
	}

	cmd.Flags().StringVar(&hostFlag, "host", client.DefaultHost, "Host name or IPv4 address (overrides REMOTEPAD_HOST)")
	cmd.Flags().IntVar(&portFlag, "port", client.DefaultPort, "Host port (overrides REMOTEPAD_PORT)")

	return cmd
}

func doPad(ctx context.Context, logger *slog.Logger, env PadEnv) error {
	if err := client.ValidateHost(env.Host); err != nil {
		return err
	}

	coalesce, err := batcher.ParseCoalesce(env.Coalesce)
	if err != nil {
		return err
	}

	table := keymap.Default()
	if env.KeymapPath != "" {
		if table, err = keymap.Load(env.KeymapPath); err != nil {
			return err
		}
	}

	dctx, dcancel := context.WithTimeout(ctx, 3*time.Second)
	info, err := client.FetchHostConfig(dctx, nil, env.Host, env.Port, env.Secure)
	dcancel()

	if err != nil {
		logger.Warn("discovery failed, using the given address", slog.String("error", err.Error()))
	}

	target := client.TargetFor(info, env.Host)
	logger = logger.With(slog.String("host", target.String()))

	cfg := client.Config{
		Target:            target,
		FlushInterval:     env.FlushInterval,
		HeartbeatInterval: env.HeartbeatInterval,
		Coalesce:          coalesce,
	}

	policy := client.RetryPolicy{
		Delay:       env.ReconnectDelay,
		MaxAttempts: env.MaxReconnectAttempts,
	}

	hooks := client.SupervisorHooks{
		Hooks: client.Hooks{
			OnConnected: func() {
				fmt.Fprintln(os.Stdout, "connected to", target)
			},
			OnDisconnected: func(err error) {
				if err != nil {
					fmt.Fprintln(os.Stdout, "disconnected:", err)
				}
			},
			OnLatency: func(sample client.LatencySample) {
				logger.Debug("latency", slog.Int64("ms", sample.Millis()))
			},
			OnWelcome: func(w protocol.Welcome) {
				fmt.Fprintln(os.Stdout, w.Message)
			},
		},
		OnReconnecting: func(attempt int) {
			fmt.Fprintf(os.Stdout, "reconnecting (%v/%v)...\n", attempt, policy.MaxAttempts)
		},
		OnGiveUp: func(err error) {
			fmt.Fprintln(os.Stdout, "gave up reconnecting; type \"connect\" to try again")
		},
	}

	dialer := client.WSDialer{Secure: env.Secure}
	sup := client.NewSupervisor(cfg, policy, dialer, logger, hooks)

	if err := sup.Connect(ctx); err != nil {
		return err
	}
	defer sup.Disconnect()

	err = pad.Run(ctx, os.Stdin, os.Stdout, table, sup, logger)
	if err != nil && ctx.Err() != nil {
		return nil
	}

	// piped input ends long before the last batch is out
	if serr := pad.Settle(ctx, sup, settleTimeout); serr != nil {
		logger.Warn("disconnecting with events still queued", slog.String("error", serr.Error()))
	}

	return err
}
