// Command kdb runs a single node CouchDB-compatible document store.
package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kirubasankars/kcouch/internal/kdb"
)

func main() {
	var (
		addr      string
		opts      kdb.Options
		logFile   string
		setupDone bool
	)

	rootCmd := &cobra.Command{
		Use:           "kdb",
		Short:         "Single node document store speaking the CouchDB HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out io.Writer = os.Stderr
			if logFile != "" {
				out = &lumberjack.Logger{
					Filename:   logFile,
					MaxSize:    10,
					MaxBackups: 3,
					MaxAge:     28,
				}
			}
			opts.Logger = log.New(out, "[kdb] ", log.LstdFlags)

			node, err := kdb.New(opts)
			if err != nil {
				return err
			}
			defer node.Close()

			if setupDone {
				if err := node.FinishCluster(); err != nil {
					opts.Logger.Printf("cluster setup: %s", err)
				}
			}

			srv := &http.Server{
				Handler:      node.Handler(),
				Addr:         addr,
				WriteTimeout: 15 * time.Second,
				ReadTimeout:  15 * time.Second,
			}
			opts.Logger.Printf("listening on %s", addr)
			return srv.ListenAndServe()
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&addr, "addr", "127.0.0.1:5984", "listen address")
	flags.StringVar(&opts.DataPath, "data", "./data", "data directory, empty keeps databases in memory")
	flags.StringVar(&opts.Username, "user", "", "admin user name for basic authentication")
	flags.StringVar(&opts.Password, "password", "", "admin password for basic authentication")
	flags.StringVar(&opts.JWTSecret, "jwt-secret", "", "HS256 secret for bearer tokens")
	flags.StringVar(&logFile, "log-file", "", "write logs to a rotated file instead of stderr")
	flags.BoolVar(&setupDone, "single-node", false, "finish the cluster setup on start")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
