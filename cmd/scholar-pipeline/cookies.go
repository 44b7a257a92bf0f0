// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/scholar-pipeline/internal/acquire"
)

var cookiesCmd = &cobra.Command{
	Use:   "cookies",
	Short: "Manage the Google Scholar session cookies",
	Long: `Cookies manages the cookie file used for Google Scholar requests. The file
is never regenerated automatically: when Scholar starts blocking requests,
export fresh cookies from a browser and import them.`,
}

var cookiesPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the cookie file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), cookiePath())
		return nil
	},
}

var cookiesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how many cookies are stored and when they were refreshed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := acquire.LoadSession(cookiePath())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		cookies := s.Cookies()
		fmt.Fprintf(w, "Path:      %s\n", s.Path())
		if len(cookies) == 0 {
			fmt.Fprintln(w, "Cookies:   none (requests run without a session)")
			return nil
		}
		google := 0
		for _, c := range cookies {
			if strings.Contains(c.Domain, "google") {
				google++
			}
		}
		fmt.Fprintf(w, "Cookies:   %d (%d for google domains)\n", len(cookies), google)
		fmt.Fprintf(w, "Refreshed: %s\n", s.RefreshedAt().Format("2006-01-02 15:04:05"))
		return nil
	},
}

var cookiesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the cookie file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := acquire.LoadSession(cookiePath())
		if err != nil {
			return err
		}
		if err := s.Clear(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", s.Path())
		return nil
	},
}

var cookiesImportCmd = &cobra.Command{
	Use:   "import [file|-]",
	Short: "Replace the cookie file with a browser export",
	Long: `Import reads a JSON array of cookies ({name, value, domain, path, secure,
http_only, expires}) from a file, or from stdin when the argument is "-" or
omitted, validates it and writes it to the cookie path.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCookiesImport,
}

func init() {
	cookiesCmd.PersistentFlags().String("cookie-path", "", "cookie file (default ~/.gscholar_cookies.json)")

	cookiesCmd.AddCommand(cookiesPathCmd, cookiesStatusCmd, cookiesClearCmd, cookiesImportCmd)
	rootCmd.AddCommand(cookiesCmd)
}

func cookiePath() string {
	return cfg.Acquisition.CookiePath
}

func runCookiesImport(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	s, err := acquire.LoadSession(cookiePath())
	if err != nil {
		return err
	}
	n, err := s.Import(r)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d cookie(s) into %s\n", n, s.Path())
	return nil
}
