package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/zoobzio/profz"
	"github.com/zoobzio/profz/config"
	"github.com/zoobzio/profz/metrics"
	"github.com/zoobzio/profz/store"
)

func newDemoCommand(opts *options) *cobra.Command {
	var requests int

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Profile a synthetic workload and store the reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer s.Close()

			// Close drains queued saves before the deferred store Close.
			profiler := newProfiler(cfg, s.Handler())
			defer profiler.Close()

			var last profz.Report
			for i := 0; i < requests; i++ {
				r, err := runDemoRequest(cmd.Context(), profiler, i)
				if err != nil {
					return err
				}
				last = r
			}

			out := cmd.OutOrStdout()
			printReport(out, last)
			fmt.Fprintln(out)
			return printTotals(out, profiler.Aggregator().Sorted(), 0)
		},
	}
	cmd.Flags().IntVarP(&requests, "requests", "n", 3, "Number of demo transactions")
	return cmd
}

func newShowCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Print a stored report tree (latest when no id is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer s.Close()

			var r profz.Report
			if len(args) == 1 {
				r, err = s.Load(cmd.Context(), args[0])
			} else {
				r, err = s.Latest(cmd.Context())
			}
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no report found in %s", cfg.Store.Path)
			}
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), r)
			return nil
		},
	}
}

func newTopCommand(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Print flat totals across every stored report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer s.Close()

			totals, err := s.Totals(cmd.Context())
			if err != nil {
				return err
			}
			return printTotals(cmd.OutOrStdout(), totals, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows (0 for all)")
	return cmd
}

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve stored totals as Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer s.Close()

			reg, names, err := newServeRegistry(cmd.Context(), s, cfg.Metrics.Namespace)
			if err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

			go func() {
				<-cmd.Context().Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			klog.InfoS("Serving metrics", "addr", cfg.Metrics.Addr, "names", names)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

// newServeRegistry builds the registry served by serve: span totals
// seeded from every stored report, and one report observation per stored
// summary. It returns the number of distinct span names.
func newServeRegistry(ctx context.Context, s *store.Store, namespace string) (*prometheus.Registry, int, error) {
	totals, err := s.Totals(ctx)
	if err != nil {
		return nil, 0, err
	}
	agg := profz.NewAggregator()
	agg.Add(totals...)
	exporter := metrics.NewExporter(agg, namespace)

	summaries, err := s.List(ctx, 0)
	if err != nil {
		return nil, 0, err
	}
	for _, sum := range summaries {
		exporter.ObserveReport(profz.Report{ID: sum.ID, Name: sum.Name, Start: sum.Start, Duration: sum.Duration})
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(exporter); err != nil {
		return nil, 0, err
	}
	return reg, len(totals), nil
}

// newProfiler builds a profiler from cfg and registers handler. With
// workers configured the handler runs on the worker pool.
func newProfiler(cfg config.Config, handler profz.ReportHandler) *profz.Profiler {
	var aggOpts []profz.AggregatorOption
	if len(cfg.Classify) > 0 {
		aggOpts = append(aggOpts, profz.WithClassifier(profz.NewPrefixClassifier(cfg.Classify)))
	}
	profiler := profz.New(aggOpts...)
	profiler.SetEnabled(cfg.Enabled)

	pooled := false
	if cfg.Workers > 0 {
		if err := profiler.EnableWorkerPool(cfg.Workers, cfg.QueueSize); err != nil {
			klog.ErrorS(err, "Worker pool disabled")
		} else {
			pooled = true
		}
	}
	if handler != nil {
		if pooled {
			profiler.OnReportAsync(handler)
		} else {
			profiler.OnReport(handler)
		}
	}
	return profiler
}
