// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/pdiddy/scholar-pipeline/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the persistent lookup cache",
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete cached lookups older than a cutoff",
	Long: `Prune removes persisted Crossref, Semantic Scholar, EasyScholar and page
lookups inserted more than --older-than ago.`,
	Args: cobra.NoArgs,
	RunE: runCachePrune,
}

func init() {
	cacheCmd.PersistentFlags().String("cache-db", "", "SQLite cache file (default: cache.path)")
	cachePruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "age beyond which entries are removed")

	cacheCmd.AddCommand(cachePruneCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	if cfg.Cache.Path == "" {
		return eris.New("no cache database: pass --cache-db or set cache.path")
	}
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	if olderThan <= 0 {
		return eris.New("--older-than must be positive")
	}

	store, err := cache.OpenSQLiteStore(cfg.Cache.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d entr(ies) from %s\n", n, cfg.Cache.Path)
	return nil
}
