package main

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/frayproxy/fray/internal/buildinfo"
	"github.com/frayproxy/fray/internal/config"
)

var (
	logFile   string
	logStdout bool
	logLevel  string

	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "fray",
	Short: "Network resilience testing proxy",
	Long: `Fray is a user-space HTTP/HTTPS forward proxy that injects
configurable network faults (latency, bandwidth, jitter, packet loss,
DNS failure) into live traffic, plus a scenario mode that replays
declarative request sequences and writes a structured report.`,
	Version:           buildinfo.Full(),
	PersistentPreRunE: setupLogging,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file (rotated)")
	rootCmd.PersistentFlags().BoolVar(&logStdout, "log-stdout", true, "log to stdout")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level filter (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scenarioCmd)
	rootCmd.AddCommand(demoCmd)
}

// setupLogging builds the global logger from the CLI flags, honoring the
// FRAY_LOG environment override for the level filter.
func setupLogging(cmd *cobra.Command, _ []string) error {
	level, err := zerolog.ParseLevel(config.LogLevelFromEnv(logLevel))
	if err != nil {
		return err
	}

	var writers []io.Writer
	if logStdout {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		})
	}
	if logFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    64, // MB
			MaxBackups: 3,
		})
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Logger()
	return nil
}
