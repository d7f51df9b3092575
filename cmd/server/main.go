package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mikekulinski/zkstore/pkg/config"
	"github.com/mikekulinski/zkstore/pkg/logging"
	"github.com/mikekulinski/zkstore/pkg/metrics"
	"github.com/mikekulinski/zkstore/pkg/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:          "zkstore-server",
		Short:        "Runs one replica of a zkstore tree",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(afero.NewOsFs(), configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	defaultConfigCmd = &cobra.Command{
		Use:   "default-config",
		Short: "Prints the default configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return config.WriteDefault(cmd.OutOrStdout())
		},
	}
)

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path of the TOML configuration")
	rootCmd.AddCommand(defaultConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Format, nil); err != nil {
		return fmt.Errorf("configuring logs: %w", err)
	}
	log := logging.NewLogger("main")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	r, err := newReplica(ctx, afero.NewOsFs(), cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.WithError(err).Warn("closing replica")
		}
	}()
	m.WatchFactory(r.factory)

	zk := server.NewServer(r.db, server.Options{})
	handler, err := zk.Handler()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.Run(ctx)
	})
	g.Go(func() error {
		return serveHTTP(ctx, cfg.Replica.ClientListen, handler)
	})
	if cfg.Metrics.Listen != "" {
		g.Go(func() error {
			return serveHTTP(ctx, cfg.Metrics.Listen, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		})
	}
	log.WithFields(logrus.Fields{
		"replica": r.id,
		"mode":    cfg.Replica.Mode,
		"clients": cfg.Replica.ClientListen,
	}).Info("replica started")

	err = g.Wait()
	log.WithError(err).Info("replica stopped")
	return err
}

// serveHTTP serves handler on address until ctx is done.
func serveHTTP(ctx context.Context, address string, handler http.Handler) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", address, err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving %s: %w", address, err)
	}
	return nil
}
