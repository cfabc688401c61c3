package main

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/frayproxy/fray/internal/config"
	"github.com/frayproxy/fray/internal/event"
	"github.com/frayproxy/fray/internal/geoip"
	"github.com/frayproxy/fray/internal/proxy"
	"github.com/frayproxy/fray/internal/report"
	"github.com/frayproxy/fray/internal/resolver"
	"github.com/frayproxy/fray/internal/scenario"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "Run declarative fault scenarios",
}

func init() {
	var (
		scenarioPath string
		reportPath   string
		scProxyAddr  string
		scSeed       uint64
		geoipDB      string
		cronSpec     string
	)

	runScenarioCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a scenario file and write a report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if scenarioPath == "" || reportPath == "" {
				return fmt.Errorf("--scenario and --report are required")
			}
			if err := report.ValidateOutputPath(reportPath); err != nil {
				return err
			}
			sc, err := scenario.Load(scenarioPath)
			if err != nil {
				return err
			}

			var geo *geoip.Locator
			if geoipDB != "" {
				if geo, err = geoip.Open(geoipDB); err != nil {
					return err
				}
				defer geo.Close()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			execute := func(out string) error {
				return executeScenario(ctx, sc, scProxyAddr, out, geo, scSeed)
			}

			if cronSpec == "" {
				return execute(reportPath)
			}

			// Scheduled mode: re-run the scenario on the cron schedule until
			// interrupted, writing timestamped reports.
			schedule, err := cron.ParseStandard(cronSpec)
			if err != nil {
				return fmt.Errorf("invalid cron expression %q: %w", cronSpec, err)
			}
			logger.Info().Str("cron", cronSpec).Msg("running scenario on schedule")
			for {
				next := schedule.Next(time.Now())
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Until(next)):
				}
				if err := execute(timestampedPath(reportPath, next)); err != nil {
					logger.Error().Err(err).Msg("scheduled scenario run failed")
				}
			}
		},
	}

	runScenarioCmd.Flags().StringVar(&scenarioPath, "scenario", "", "path to the scenario file (.json/.yaml)")
	runScenarioCmd.Flags().StringVar(&reportPath, "report", "", "path for the output report (.json/.yaml)")
	runScenarioCmd.Flags().StringVar(&scProxyAddr, "proxy-address", "127.0.0.1:0", "proxy listen address for the run")
	runScenarioCmd.Flags().Uint64Var(&scSeed, "seed", 0, "RNG seed for reproducible runs (0 = entropy)")
	runScenarioCmd.Flags().StringVar(&geoipDB, "geoip-db", "", "MaxMind database for upstream country annotation")
	runScenarioCmd.Flags().StringVar(&cronSpec, "cron", "", "re-run the scenario on this cron schedule")
	scenarioCmd.AddCommand(runScenarioCmd)
}

// executeScenario boots a dedicated proxy, drives the scenario through it
// and writes the report.
func executeScenario(parent context.Context, sc *scenario.Scenario, proxyAddr, reportPath string, geo *geoip.Locator, seed uint64) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	watch := config.NewWatch(config.ProxyConfig{Seed: seed})
	bus := event.NewBus(event.DefaultBusCapacity)
	defer bus.Close()

	res, err := resolver.New(resolver.Options{})
	if err != nil {
		return err
	}
	srv, err := proxy.NewServer(proxy.ServerConfig{
		Addr:     proxyAddr,
		Watch:    watch,
		Events:   event.NewManager(bus),
		Resolver: res,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	proxyDone := make(chan error, 1)
	go func() { proxyDone <- srv.Run(ctx) }()
	select {
	case <-srv.Ready():
	case err := <-proxyDone:
		return fmt.Errorf("proxy failed to start: %w", err)
	}

	runner := &scenario.Runner{
		ProxyAddr: srv.Addr(),
		Watch:     watch,
		Bus:       bus,
		Logger:    logger,
		Geo:       geo,
		Seed:      seed,
	}
	rep, err := runner.Run(ctx, sc)
	if err != nil {
		return err
	}
	if err := rep.Save(reportPath); err != nil {
		return err
	}
	logger.Info().
		Str("report", reportPath).
		Int("items", len(rep.Items)).
		Float64("error_rate", rep.Summary.ErrorRate).
		Msg("scenario complete")

	cancel()
	<-proxyDone
	return nil
}

// timestampedPath inserts a timestamp before the extension so scheduled
// runs never overwrite each other.
func timestampedPath(path string, ts time.Time) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + ts.Format("20060102-150405") + ext
}
