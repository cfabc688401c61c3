package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/frayproxy/fray/internal/config"
	"github.com/frayproxy/fray/internal/event"
	"github.com/frayproxy/fray/internal/proxy"
	"github.com/frayproxy/fray/internal/requestlog"
	"github.com/frayproxy/fray/internal/resolver"
)

// Common proxy options shared by every `run` sub-verb.
var (
	proxyAddr string
	stealth   bool
	upstreams []string
	seed      uint64
	historyDB string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the proxy with one fault configuration",
}

func init() {
	pf := runCmd.PersistentFlags()
	pf.StringVar(&proxyAddr, "proxy-address", "127.0.0.1:8080", "proxy listen address")
	pf.BoolVar(&stealth, "stealth", false, "remap localhost targets onto the local interface address")
	pf.StringSliceVar(&upstreams, "upstream", nil, "upstream host:port to fault (repeatable)")
	pf.Uint64Var(&seed, "seed", 0, "RNG seed for reproducible faults (0 = entropy)")
	pf.StringVar(&historyDB, "history-db", "", "record proxied requests into this SQLite file")

	runCmd.AddCommand(newLatencyCmd())
	runCmd.AddCommand(newBandwidthCmd())
	runCmd.AddCommand(newJitterCmd())
	runCmd.AddCommand(newPacketLossCmd())
	runCmd.AddCommand(newDNSCmd())
}

func newLatencyCmd() *cobra.Command {
	var (
		distribution                         string
		global                               bool
		mean, stddev, min, max, shape, scale float64
		direction, side                      string
	)
	cmd := &cobra.Command{
		Use:   "latency",
		Short: "Inject latency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dist, err := config.ParseLatencyDistribution(distribution)
			if err != nil {
				return err
			}
			dir, err := config.ParseDirection(direction)
			if err != nil {
				return err
			}
			sd, err := config.ParseStreamSide(side)
			if err != nil {
				return err
			}
			return serveProxy(cmd.Context(), config.FaultConfig{
				Kind: config.KindLatency,
				Latency: &config.LatencySettings{
					Distribution: dist,
					Global:       global,
					Mean:         mean,
					Stddev:       stddev,
					Min:          min,
					Max:          max,
					Shape:        shape,
					Scale:        scale,
					Direction:    dir,
					Side:         sd,
				},
			})
		},
	}
	cmd.Flags().StringVar(&distribution, "distribution", "normal", "latency distribution (uniform, normal, pareto, pareto-normal)")
	cmd.Flags().BoolVar(&global, "global", true, "apply one delay per direction per stream instead of per poll")
	cmd.Flags().Float64Var(&mean, "mean", 100, "mean latency in milliseconds")
	cmd.Flags().Float64Var(&stddev, "stddev", 20, "latency standard deviation in milliseconds")
	cmd.Flags().Float64Var(&min, "min", 20, "uniform distribution lower bound (ms)")
	cmd.Flags().Float64Var(&max, "max", 20, "uniform distribution upper bound (ms)")
	cmd.Flags().Float64Var(&shape, "shape", 20, "pareto shape")
	cmd.Flags().Float64Var(&scale, "scale", 20, "pareto scale")
	cmd.Flags().StringVar(&direction, "direction", "ingress", "fault direction (ingress, egress, both)")
	cmd.Flags().StringVar(&side, "side", "server", "tunnel side to wrap (client, server)")
	return cmd
}

func newBandwidthCmd() *cobra.Command {
	var (
		rate            uint64
		unit            string
		direction, side string
	)
	cmd := &cobra.Command{
		Use:   "bandwidth",
		Short: "Throttle bandwidth",
		RunE: func(cmd *cobra.Command, _ []string) error {
			u, err := config.ParseBandwidthUnit(unit)
			if err != nil {
				return err
			}
			dir, err := config.ParseDirection(direction)
			if err != nil {
				return err
			}
			sd, err := config.ParseStreamSide(side)
			if err != nil {
				return err
			}
			return serveProxy(cmd.Context(), config.FaultConfig{
				Kind: config.KindBandwidth,
				Bandwidth: &config.BandwidthSettings{
					Rate:      rate,
					Unit:      u,
					Direction: dir,
					Side:      sd,
				},
			})
		},
	}
	cmd.Flags().Uint64Var(&rate, "rate", 1000, "bandwidth rate")
	cmd.Flags().StringVar(&unit, "unit", "bps", "rate unit (bps, kbps, mbps, gbps)")
	cmd.Flags().StringVar(&direction, "direction", "both", "fault direction (ingress, egress, both)")
	cmd.Flags().StringVar(&side, "side", "server", "tunnel side to wrap (client, server)")
	return cmd
}

func newJitterCmd() *cobra.Command {
	var (
		amplitude, frequency float64
		direction            string
	)
	cmd := &cobra.Command{
		Use:   "jitter",
		Short: "Inject jitter",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := config.ParseDirection(direction)
			if err != nil {
				return err
			}
			return serveProxy(cmd.Context(), config.FaultConfig{
				Kind: config.KindJitter,
				Jitter: &config.JitterSettings{
					Amplitude: amplitude,
					Frequency: frequency,
					Direction: dir,
				},
			})
		},
	}
	cmd.Flags().Float64Var(&amplitude, "amplitude", 20, "maximum jitter delay in milliseconds")
	cmd.Flags().Float64Var(&frequency, "frequency", 5, "jitter frequency in Hz")
	cmd.Flags().StringVar(&direction, "direction", "both", "fault direction (ingress, egress, both)")
	return cmd
}

func newPacketLossCmd() *cobra.Command {
	var direction, side string
	cmd := &cobra.Command{
		Use:   "packet-loss",
		Short: "Inject bursty packet loss",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := config.ParseDirection(direction)
			if err != nil {
				return err
			}
			sd, err := config.ParseStreamSide(side)
			if err != nil {
				return err
			}
			return serveProxy(cmd.Context(), config.FaultConfig{
				Kind:       config.KindPacketLoss,
				PacketLoss: &config.PacketLossSettings{Direction: dir, Side: sd},
			})
		},
	}
	cmd.Flags().StringVar(&direction, "direction", "both", "fault direction (ingress, egress, both)")
	cmd.Flags().StringVar(&side, "side", "server", "tunnel side to wrap (client, server)")
	return cmd
}

func newDNSCmd() *cobra.Command {
	var (
		rate      uint8
		direction string
	)
	cmd := &cobra.Command{
		Use:   "dns",
		Short: "Inject DNS resolution failures",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := config.ParseDirection(direction)
			if err != nil {
				return err
			}
			return serveProxy(cmd.Context(), config.FaultConfig{
				Kind: config.KindDNS,
				DNS:  &config.DNSSettings{Rate: rate, Direction: dir},
			})
		},
	}
	cmd.Flags().Uint8Var(&rate, "rate", 50, "failure probability in percent (0-100)")
	cmd.Flags().StringVar(&direction, "direction", "egress", "fault direction (ingress, egress, both)")
	return cmd
}

// serveProxy wires the data plane for a one-shot CLI fault configuration
// and serves until interrupted.
func serveProxy(parent context.Context, fault config.FaultConfig) error {
	cfg, err := config.NewProxyConfig(fault, upstreams)
	if err != nil {
		return err
	}
	cfg.Seed = seed

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watch := config.NewWatch(cfg)
	bus := event.NewBus(event.DefaultBusCapacity)
	defer bus.Close()
	manager := event.NewManager(bus)

	res, err := resolver.New(resolver.Options{Stealth: stealth})
	if err != nil {
		return err
	}

	var history proxy.HistorySink
	if historyDB != "" {
		repo, err := requestlog.OpenRepo(historyDB)
		if err != nil {
			return err
		}
		svc := requestlog.NewService(repo, logger)
		defer func() {
			svc.Close()
			repo.Close()
		}()
		history = svc
	}

	go logEvents(ctx, bus)

	srv, err := proxy.NewServer(proxy.ServerConfig{
		Addr:     proxyAddr,
		Watch:    watch,
		Events:   manager,
		Resolver: res,
		History:  history,
		Logger:   logger,
		Stealth:  stealth,
	})
	if err != nil {
		return err
	}
	logger.Info().
		Str("fault", string(fault.Kind)).
		Strs("upstreams", upstreams).
		Msg("starting proxy")
	return srv.Run(ctx)
}

// logEvents renders task lifecycle events as log lines. The TUI renderer
// of a richer build subscribes the same way.
func logEvents(ctx context.Context, bus *event.Bus) {
	sub := bus.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			ev := logger.Debug().
				Uint64("task", uint64(e.TaskID)).
				Str("type", string(e.Type))
			if e.Fault != nil {
				ev = ev.Str("fault", string(e.Fault.Kind)).
					Dur("delay", e.Fault.Delay).
					Uint64("bps", e.Fault.Bps)
			}
			if e.URL != "" {
				ev = ev.Str("url", e.URL)
			}
			if e.Message != "" {
				ev = ev.Str("error", e.Message)
			}
			ev.Msg(fmt.Sprintf("task %s", e.Type))
		}
	}
}
