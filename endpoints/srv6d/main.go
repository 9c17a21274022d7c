// SPDX-License-Identifier: http://www.apache.org/licenses/LICENSE-2.0
/*
 *
 * Copyright (C) 2026 , Inc.
 *
 * Authors:
 *
 */

// srv6d runs the SRv6 SID manager and the Flex-Algorithm arbitrator of an
// IS-IS instance.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"srv6d/config"
	"srv6d/log"
	"srv6d/metrics"
	"srv6d/router"
	"srv6d/sid"
	"srv6d/spf"
	"srv6d/zclient"
	"srv6d/zserv"
)

func main() {
	var file string
	cmd := &cobra.Command{
		Use:           "srv6d",
		Short:         "SRv6 SID manager and Flex-Algorithm arbitrator",
		Example:       "  srv6d --config srv6d.toml",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.NewViper(cmd.Flags())
			if err != nil {
				return err
			}
			cfg, err := config.Load(file, v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sample",
		Short: "Print a sample configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.Sample(cmd.OutOrStdout())
		},
	})
	flags := cmd.Flags()
	flags.StringVar(&file, "config", "", "Configuration file (required)")
	for _, key := range []string{
		config.KeySystemID, config.KeySocket, config.KeyLogLevel, config.KeyLogFormat,
		config.KeyMetricsAddr, config.KeySnapshotDir, config.KeyAffinityPolicy,
	} {
		flags.String(strings.ReplaceAll(key, "_", "-"), "", "Override general."+key)
	}
	cmd.MarkFlagRequired("config")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, err := log.New(cfg.General.LogLevel, cfg.General.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	reg := sid.NewRegistry()
	for _, l := range cfg.Locators {
		if _, err := reg.CreateLocator(l.Name, l.ParsedPrefix(), l.FunctionBits, l.Algorithm); err != nil {
			return err
		}
	}
	ln, err := zserv.Listen(cfg.General.Socket)
	if err != nil {
		return err
	}
	srv := zserv.New(reg, logger, m)

	rtr := router.New(router.Options{
		SystemID:    cfg.SystemID(),
		NamePolicy:  cfg.Policy(),
		Logger:      logger,
		Metrics:     m,
		SnapshotDir: cfg.General.SnapshotDir,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	shutdown := func() error {
		cancel()
		return multierr.Append(rtr.Stop(), g.Wait())
	}
	g.Go(func() error {
		return srv.Serve(ctx, ln)
	})
	rtr.Start(ctx)
	g.Go(func() error {
		for regen := range rtr.Regenerations {
			logger.Info("regenerate lsp",
				zap.String("area", regen.Area), zap.Uint8s("algorithms", regen.Algorithms[:]))
		}
		return nil
	})
	if err := rtr.Do(ctx, func(s *router.State) error { return configure(s, cfg) }); err != nil {
		return multierr.Append(errors.Wrap(err, "configure areas"), shutdown())
	}

	// The router learns locator prefixes the same way any protocol daemon
	// does.
	zc, err := zclient.Dial(ctx, cfg.General.Socket, sid.Owner{Proto: sid.ProtoISIS},
		zclient.WithLogger(logger), zclient.WithHandler(rtr.HandleLocator))
	if err != nil {
		return multierr.Append(err, shutdown())
	}
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-zc.Done():
		}
		return zc.Close()
	})

	g.Go(func() error {
		return serveMetrics(ctx, cfg.General.MetricsAddr, promReg, logger)
	})

	logger.Info("srv6d started",
		zap.String("socket", cfg.General.Socket),
		zap.Stringer("system_id", cfg.SystemID()),
		zap.Int("locators", len(cfg.Locators)),
		zap.Int("areas", len(cfg.Areas)))
	<-ctx.Done()
	err = shutdown()
	logger.Info("srv6d stopped", zap.Error(err))
	return err
}

func configure(s *router.State, cfg *config.Config) error {
	for _, a := range cfg.Areas {
		isType, err := spf.ParseIsType(a.IsType)
		if err != nil {
			return err
		}
		if _, err := s.AddArea(a.Name, isType, nil); err != nil {
			return err
		}
		for _, am := range a.AffinityMap {
			if err := s.AddAffinityMap(a.Name, am.Name, am.Bit); err != nil {
				return err
			}
		}
		for _, fa := range a.FlexAlgo {
			err := s.AddFlexAlgo(a.Name, router.FlexAlgo{
				Algorithm:  fa.Algorithm,
				Exclude:    fa.Exclude,
				IncludeAny: fa.IncludeAny,
				IncludeAll: fa.IncludeAll,
				Priority:   fa.Priority,
				UseFAPM:    fa.UseFAPM,
			})
			if err != nil {
				return err
			}
		}
		for _, l := range a.Links {
			if err := s.SetLinkAffinity(a.Name, l.Name, l.Affinity); err != nil {
				return err
			}
		}
		for _, name := range a.Locators {
			s.AddLocator(name)
		}
	}
	return nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(reg,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{Timeout: 10 * time.Second})))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		server.Close()
	}()
	logger.Info("exporting metrics", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}
