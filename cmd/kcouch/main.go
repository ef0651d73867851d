// Command kcouch applies declared schema fragments to CouchDB servers.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	configFile string
	logFile    string
	logger     *log.Logger
)

var rootCmd = &cobra.Command{
	Use:           "kcouch",
	Short:         "Declarative design documents and indexes for CouchDB",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var out io.Writer = os.Stderr
		if logFile != "" {
			out = &lumberjack.Logger{
				Filename:   logFile,
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     28,
			}
		}
		logger = log.New(out, "[kcouch] ", log.LstdFlags)
	},
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "server configuration file (yaml, toml or json)")
	flags.StringVar(&logFile, "log-file", "", "write logs to a rotated file instead of stderr")

	rootCmd.AddCommand(migrateCmd, mergeCmd, setupCmd, dbsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
