// Command memcored is the process entrypoint for the memory engine: it
// opens the store, wires every component spec.md §4 describes, and
// either serves the line-delimited JSON protocol over stdio or runs a
// one-off LTM inspection subcommand. Grounded on kodelet's
// cmd/kodelet/main.go init()+cobra shape; narrowed to this engine's own
// flags and config keys (pkg/config.Config, not kodelet's provider/model
// flag set, since the model provider is out of scope, spec.md §1).
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opencoder-agent/memcore/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "memcored",
	Short: "memcored serves the memcore persistent-memory engine",
	Long:  `memcored is the process that owns a memcore store: the temporal log, the LTM tree, and the turn coordinator that drives them from line-delimited JSON on stdio.`,
}

func main() {
	ctx := context.Background()

	cobra.OnInitialize(func() {
		if level := viper.GetString("log_level"); level != "" {
			if err := logger.SetLogLevel(level); err != nil {
				logger.G(ctx).WithError(err).Warn("invalid log level, using default")
			}
		}
		if format := viper.GetString("log_format"); format != "" {
			logger.SetLogFormat(format)
		}
	})

	rootCmd.PersistentFlags().String("db", "", "path to the memcore store file (overrides session_db_path)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (panic, fatal, error, warn, info, debug, trace)")
	rootCmd.PersistentFlags().String("log-format", "fmt", "log format (json, text, fmt)")
	viper.BindPFlag("session_db_path", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(ltmCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.G(ctx).WithError(err).Error("memcored exited with an error")
		os.Exit(1)
	}
}
