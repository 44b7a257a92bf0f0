// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"github.com/spf13/cobra"

	"github.com/pdiddy/scholar-pipeline/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve keyword search over HTTP",
	Long: `Serve starts an HTTP server exposing acquisition:

  GET  /health   liveness check
  POST /search   {"keyword": "...", "pages": [1, 2], "ylo": 2020, "proxy": "..."}

Search runs the configured source (or the request's "source") and returns
the acquired records as JSON. Enrichment, ranking and classification are
not applied. The server stops on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("host", "", "listen address (default 127.0.0.1)")
	f.Int("port", 0, "listen port (default 3000)")
	f.String("allowed-origins", "", "comma-separated CORS origins; empty disables CORS")
	f.String("source", "", "default acquisition source: gscholar or openalex")
	f.String("cookie-path", "", "Scholar cookie file")
	f.String("openalex-email", "", "mailto for the OpenAlex polite pool")
	f.String("cache-db", "", "SQLite file persisting result pages across runs")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	deps, closeDeps, err := openDeps(cfg)
	if err != nil {
		return err
	}
	defer closeDeps()

	srv := server.New(*cfg, server.Deps{Session: deps.Session, Store: deps.Store})
	return srv.ListenAndServe(cmd.Context())
}
