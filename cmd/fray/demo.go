package main

import (
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/frayproxy/fray/internal/demo"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a dummy upstream for local experiments",
}

func init() {
	var (
		addr string
		port int
	)
	runDemoCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the demo upstream server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			srv := demo.NewServer(net.JoinHostPort(addr, strconv.Itoa(port)), logger)
			return srv.Run(ctx)
		},
	}
	runDemoCmd.Flags().StringVar(&addr, "address", "127.0.0.1", "listen address")
	runDemoCmd.Flags().IntVar(&port, "port", 7070, "listen port")
	demoCmd.AddCommand(runDemoCmd)
}
