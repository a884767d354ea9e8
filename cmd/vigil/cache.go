package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chris-regnier/vigil/internal/cache"
	"github.com/chris-regnier/vigil/internal/config"
)

func init() {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the result cache",
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			n, err := cache.NewResults(cacheStorage(cfg), cache.WithLogger(logger)).Clear(cmd.Context())
			if err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached result(s)\n", n)
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Count cached results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			keys, err := cacheStorage(cfg).List(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing cache: %w", err)
			}
			where := cfg.Cache.Dir
			if cfg.Cache.Remote != "" {
				where = cfg.Cache.Remote
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d cached result(s) in %s\n", len(keys), where)
			return nil
		},
	}

	cacheCmd.AddCommand(clearCmd, statsCmd)
	rootCmd.AddCommand(cacheCmd)
}

// cacheStorage is the storage the configuration points at, remote first.
func cacheStorage(cfg *config.Config) cache.Storage {
	if cfg.Cache.Remote != "" {
		return cache.NewRemoteStorage(cfg.Cache.Remote, cache.WithToken(cfg.Cache.Token))
	}
	return cache.NewLocalStorage(cfg.Cache.Dir)
}
