// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/pdiddy/scholar-pipeline/internal/cache"
	"github.com/pdiddy/scholar-pipeline/internal/httputil"
	"github.com/pdiddy/scholar-pipeline/internal/ranking"
	"github.com/pdiddy/scholar-pipeline/pkg/types"
)

var rankCmd = &cobra.Command{
	Use:   "rank <venue>...",
	Short: "Look up journal rankings on EasyScholar",
	Long: `Rank looks up each venue on EasyScholar and prints its impact factor, JCI,
SCI partition and CAS tiers. Venues EasyScholar does not know are listed
as unranked.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRank,
}

func init() {
	rankCmd.Flags().String("easyscholar-key", "", "EasyScholar secret key")
	rankCmd.Flags().String("cache-db", "", "SQLite file persisting lookups across runs")
	rankCmd.Flags().Bool("json", false, "output rankings as JSON")

	rootCmd.AddCommand(rankCmd)
}

// venueRank is one row of rank output.
type venueRank struct {
	Venue   string         `json:"venue"`
	Ranked  bool           `json:"ranked"`
	Ranking *types.Ranking `json:"ranking,omitempty"`
}

func runRank(cmd *cobra.Command, args []string) error {
	if cfg.Ranking.APIKey == "" {
		return eris.New("no EasyScholar key: pass --easyscholar-key or add .secrets/easyscholar-api-key")
	}

	client, err := httputil.NewClient(cfg.Ranking.HTTPConfig)
	if err != nil {
		return err
	}
	opts := cache.Options{
		Namespace:   string(types.SourceEasyScholar),
		TTL:         cfg.Cache.TTL,
		MaxInFlight: cfg.Cache.MaxInFlight,
		MinInterval: cfg.Ranking.MinInterval,
		StoreMaxAge: cfg.Cache.StoreMaxAge,
	}
	if cfg.Cache.Path != "" {
		store, err := cache.OpenSQLiteStore(cfg.Cache.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Store = store
	}

	es := ranking.NewEasyScholarClient(client, cfg.Ranking, httputil.PolicyFromConfig(cfg.Retry), cache.New[*types.Ranking](opts))
	found, err := es.LookupMany(cmd.Context(), args)
	if err != nil {
		return err
	}

	rows := make([]venueRank, 0, len(args))
	for _, venue := range args {
		row := venueRank{Venue: venue}
		if r, ok := found[types.NormalizeVenue(venue)]; ok {
			row.Ranked = true
			row.Ranking = &r
		}
		rows = append(rows, row)
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	return formatRankOutput(cmd.OutOrStdout(), rows, jsonOutput)
}

func formatRankOutput(w io.Writer, rows []venueRank, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	fmt.Fprintf(w, "%-40s  %-7s  %-6s  %-4s  %-14s  %-10s  %s\n",
		"Venue", "IF", "JCI", "SCI", "CAS Up Top", "CAS Base", "CAS Up")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, row := range rows {
		venue := row.Venue
		if len(venue) > 40 {
			venue = venue[:37] + "..."
		}
		if !row.Ranked {
			fmt.Fprintf(w, "%-40s  unranked\n", venue)
			continue
		}
		r := row.Ranking
		fmt.Fprintf(w, "%-40s  %-7s  %-6s  %-4s  %-14s  %-10s  %s\n",
			venue, dash(r.ImpactFactor), dash(r.JCI), dash(r.SCIPartition),
			dash(r.SCIUpTop), dash(r.SCIBase), dash(r.SCIUp))
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
