package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kirubasankars/kcouch"
)

var (
	runSetup    bool
	watch       bool
	mergeFormat string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <fragment>...",
	Short: "Merge schema fragments and apply them to the configured servers",
	Long: `Merge every fragment file (or directory of fragment files) and make the
configured servers match the result.

For each declared database:
  1. The database is created when missing
  2. Design documents and indexes no longer declared are deleted
  3. Declared design documents and indexes are written when they differ`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		m := kcouch.NewMigrator(cfg, logger)
		if runSetup {
			if err := m.Setup(ctx); err != nil {
				return err
			}
		}

		migrate := func() error {
			fragments, err := kcouch.LoadFragments(args...)
			if err != nil {
				return err
			}
			changes, err := m.Apply(ctx, kcouch.Merge(fragments))
			written := 0
			for _, c := range changes {
				if c.Action != kcouch.ActionUnchanged {
					written++
				}
			}
			logger.Printf("%d steps, %d changes", len(changes), written)
			return err
		}
		if err := migrate(); err != nil {
			if !watch {
				return err
			}
			logger.Printf("migrate: %s", err)
		}
		if !watch {
			return nil
		}
		return watchFragments(ctx, args, migrate)
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge <fragment>...",
	Short: "Print the merged schema tree",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fragments, err := kcouch.LoadFragments(args...)
		if err != nil {
			return err
		}
		data, err := kcouch.Merge(fragments).Encode(mergeFormat)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Finish the single node setup of every configured server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		return kcouch.NewMigrator(cfg, logger).Setup(ctx)
	},
}

var dbsCmd = &cobra.Command{
	Use:   "dbs [alias]",
	Short: "List the databases of a configured server",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		alias := "default"
		if len(args) == 1 {
			alias = args[0]
		} else if len(cfg.Servers) == 1 {
			for name := range cfg.Servers {
				alias = name
			}
		}
		s, err := cfg.Server(alias, logger)
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		names, err := s.ListDatabases(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&runSetup, "setup", false, "finish the single node setup before migrating")
	migrateCmd.Flags().BoolVar(&watch, "watch", false, "migrate again whenever a fragment changes")
	mergeCmd.Flags().StringVar(&mergeFormat, "format", "yaml", "output format: yaml, toml or json")
}

// fragmentDirs returns the directories to watch for paths.
func fragmentDirs(paths []string) ([]string, error) {
	seen := map[string]bool{}
	var dirs []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		dir := path
		if !info.IsDir() {
			dir = filepath.Dir(path)
		}
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}
