package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrtsync/mrtftp/event"
	"github.com/mrtsync/mrtftp/internal/metrics"
	"github.com/mrtsync/mrtftp/server"
)

type serveOptions struct {
	root           string
	readOnly       bool
	users          []string
	passwordHash   string
	requireAuth    bool
	metricsAddr    string
	maxConnections int
	maxIdle        time.Duration
	heartbeat      time.Duration
	bandwidth      int64
}

func newServeCmd(a *app) *cobra.Command {
	o := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a panel folder",
		Long: `Serve exposes a folder to panel clients. The folder should contain the
panel build ("<name>_Data/StreamingAssets") for GTSA and GPN to work.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context(), o)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&o.root, "root", "r", envOr("MRTFTP_ROOT", "."), "folder to serve")
	flags.BoolVar(&o.readOnly, "read-only", false, "reject every modifying command")
	flags.StringSliceVar(&o.users, "users", server.DefaultUsers, "accepted user names")
	flags.StringVar(&o.passwordHash, "password-hash", envOr("MRTFTP_PASSWORD_HASH", ""), "bcrypt hash of the password (see hash-password)")
	flags.BoolVar(&o.requireAuth, "require-auth", true, "reject file commands before login")
	flags.StringVar(&o.metricsAddr, "metrics-addr", envOr("MRTFTP_METRICS_ADDR", ""), "address of the Prometheus endpoint, empty to disable")
	flags.IntVar(&o.maxConnections, "max-connections", 0, "simultaneous sessions, 0 for no limit")
	flags.DurationVar(&o.maxIdle, "max-idle", 0, "close idle control connections after this long")
	flags.DurationVar(&o.heartbeat, "heartbeat", time.Second, "heartbeat probe interval")
	flags.Int64Var(&o.bandwidth, "bandwidth", 0, "aggregate transfer limit in bytes per second")
	return cmd
}

func (a *app) serve(ctx context.Context, o *serveOptions) error {
	ctx, stop := signalContext(ctx)
	defer stop()

	driver, err := server.NewFSDriver(o.root, server.WithReadOnly(o.readOnly))
	if err != nil {
		return fmt.Errorf("failed to open root: %w", err)
	}

	opts := []server.Option{
		server.WithDriver(driver),
		server.WithLogger(a.slog),
		server.WithUsers(o.users...),
		server.WithRequireAuth(o.requireAuth),
		server.WithMaxConnections(o.maxConnections),
		server.WithMaxIdleTime(o.maxIdle),
		server.WithHeartbeatInterval(o.heartbeat),
		server.WithBandwidthLimit(o.bandwidth),
		server.WithEventHandler(a.logServerEvent),
	}
	if o.passwordHash != "" {
		opts = append(opts, server.WithPasswordHash(o.passwordHash))
	} else {
		opts = append(opts, server.WithPassword(a.password))
	}

	var metricsSrv *http.Server
	if o.metricsAddr != "" {
		collector := metrics.New(nil)
		opts = append(opts, server.WithMetrics(collector))

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: o.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			a.logger.Info("metrics listening", zap.String("addr", o.metricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	srv, err := server.NewServer(a.addr, opts...)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		a.logger.Info("shutting down")
		if err := srv.Shutdown(); err != nil {
			a.logger.Warn("shutdown", zap.Error(err))
		}
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	a.logger.Info("serving", zap.String("addr", a.addr), zap.String("root", driver.Root()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *app) logServerEvent(e event.Event) {
	fields := []zap.Field{
		zap.String("session", e.SessionID),
		zap.String("kind", e.Kind.String()),
	}
	if e.Message != "" {
		fields = append(fields, zap.String("message", e.Message))
	}

	switch e.Kind {
	case event.Error:
		a.logger.Warn("session error", append(fields, zap.Error(e.Err))...)
	case event.Disconnected:
		if e.Err != nil {
			fields = append(fields, zap.Error(e.Err))
		}
		a.logger.Info("session closed", fields...)
	case event.AppAction:
		a.logger.Info("app action requested", fields...)
	default:
		a.logger.Debug("session event", fields...)
	}
}
