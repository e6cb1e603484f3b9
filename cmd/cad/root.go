package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jtomasevic/synapse-cad/internal/config"
	"github.com/jtomasevic/synapse-cad/internal/ingest"
	"github.com/jtomasevic/synapse-cad/internal/logging"
	"github.com/jtomasevic/synapse-cad/internal/score_sink"
	ad "github.com/jtomasevic/synapse-cad/pkg/anomaly_detector"
)

type rootOptions struct {
	configPath  string
	logLevel    string
	dbPath      string
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "cad",
		Short:        "Contextual anomaly detection for scalar time series",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite file to record scored runs in")
	cmd.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	cmd.AddCommand(newScoreCmd(opts), newBatchCmd(opts))
	return cmd
}

// runtime holds what every subcommand shares: configuration, logger, metrics
// and the optional score sink.
type runtime struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *ad.Metrics
	sink    *score_sink.Store
	server  *http.Server

	metricsAddr string
}

func newRuntime(cmd *cobra.Command, opts *rootOptions) (*runtime, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.dbPath != "" {
		cfg.Sink.Path = opts.dbPath
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}

	logCfg := cfg.Logging
	logCfg.Output = cmd.ErrOrStderr()
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	rt := &runtime{cfg: cfg, logger: logger, metrics: ad.NewMetrics(reg)}

	if cfg.Sink.Path != "" {
		sink, err := score_sink.Open(cfg.Sink.Path)
		if err != nil {
			return nil, err
		}
		rt.sink = sink
	}

	if cfg.Metrics.Addr != "" {
		if err := rt.serveMetrics(reg, cfg.Metrics.Addr); err != nil {
			rt.Close()
			return nil, err
		}
	}
	return rt, nil
}

func (rt *runtime) serveMetrics(reg *prometheus.Registry, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	rt.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := rt.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server stopped", "error", err)
		}
	}()
	rt.metricsAddr = ln.Addr().String()
	rt.logger.Info("serving metrics", "addr", rt.metricsAddr)
	return nil
}

func (rt *runtime) Close() error {
	var errs []error
	if rt.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		errs = append(errs, rt.server.Shutdown(ctx))
	}
	if rt.sink != nil {
		errs = append(errs, rt.sink.Close())
	}
	return errors.Join(errs...)
}

func (rt *runtime) newDetector(minValue, maxValue float64, rows int, series string) (*ad.Detector, error) {
	cfg := rt.cfg.Detector.ForRange(minValue, maxValue, ingest.RestPeriodFor(rows))
	return ad.New(cfg,
		ad.WithSeries(series),
		ad.WithLogger(rt.logger),
		ad.WithMetrics(rt.metrics),
	)
}
