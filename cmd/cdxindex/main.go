// Command cdxindex runs the capture index server: a chi-routed HTTP API
// for CDX-style ingest and query, backed by one SQLite-per-collection
// ordered key-value store.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	_ "modernc.org/sqlite"

	"github.com/outbackwave/cdxindex/dbopen"
	"github.com/outbackwave/cdxindex/internal/config"
	"github.com/outbackwave/cdxindex/internal/datastore"
	"github.com/outbackwave/cdxindex/internal/serverboot"
	"github.com/outbackwave/cdxindex/observability"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cdxindex:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a *config.MisconfigError to exit code 2 (operator
// error) and anything else to 1 (startup failure).
func exitCodeFor(err error) int {
	if _, ok := err.(*config.MisconfigError); ok {
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	cfg := config.DefaultConfig()
	var cfgPath string

	root := &cobra.Command{
		Use:           "cdxindex",
		Short:         "Capture index server: CDX-style ingest and query over SURT-keyed SQLite collections",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory holding one SQLite file per collection")
	root.PersistentFlags().IntVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	root.PersistentFlags().StringVar(&cfg.Bind, "bind", cfg.Bind, "HTTP listen address")
	root.PersistentFlags().BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "debug logging switch (stored in the config only; the log level does not change)")
	root.PersistentFlags().BoolVar(&cfg.CDX14, "cdx14", cfg.CDX14, "default query output to the CDX14 field set")
	root.PersistentFlags().BoolVar(&cfg.ExperimentalAccessControl, "experimental-access-control", cfg.ExperimentalAccessControl, "access rule/policy switch (stored in the config only; query results are not filtered by access rules)")
	root.PersistentFlags().BoolVar(&cfg.SecondaryMode, "secondary-mode", cfg.SecondaryMode, "run read-only, replicating from a primary's change feed")
	root.PersistentFlags().BoolVar(&cfg.AcceptWrites, "accept-writes", cfg.AcceptWrites, "accept ingest/delete/rule-policy writes (only checked for conflict with --secondary-mode; writes are refused by secondary mode, not by this flag)")
	root.PersistentFlags().StringVar(&cfg.WarcBaseURL, "warc-base-url", cfg.WarcBaseURL, "base URL for resolved WARC references (stored in the config only; query output is not changed by it)")
	root.PersistentFlags().IntVar(&cfg.MaxNumResults, "max-num-results", cfg.MaxNumResults, "cap on rows returned by one query (must be > 0; not applied to query execution)")
	root.PersistentFlags().IntVar(&cfg.QueryTimeoutMs, "query-timeout-ms", cfg.QueryTimeoutMs, "per-query deadline in milliseconds (must be > 0; not applied to query execution)")
	root.PersistentFlags().BoolVar(&cfg.CDXPlusWorkaround, "cdx-plus-workaround", cfg.CDXPlusWorkaround, "retry an empty match once with %20 rewritten to + in the query url")

	resolve := func(cmd *cobra.Command) error {
		changed := map[string]bool{}
		cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
		return config.Resolve(&cfg, changed, cfgPath)
	}

	root.AddCommand(newServeCmd(&cfg, resolve))
	root.AddCommand(newCollectionsCmd(&cfg, resolve))
	root.AddCommand(newCompactCmd(&cfg, resolve))
	root.AddCommand(newRetentionCmd(&cfg, resolve))

	return root
}

func newServeCmd(cfg *config.Config, resolve func(*cobra.Command) error) *cobra.Command {
	var jwtSecretEnv string
	var adminPasswordHashEnv string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolve(cmd); err != nil {
				return err
			}

			var jwtSecret, adminHash []byte
			if v := os.Getenv(jwtSecretEnv); v != "" {
				jwtSecret = serverboot.DeriveJWTSecret(v)
			}
			if v := os.Getenv(adminPasswordHashEnv); v != "" {
				adminHash = []byte(v)
			}

			srv, err := serverboot.Boot(*cfg, jwtSecret, adminHash)
			if err != nil {
				return fmt.Errorf("boot server: %w", err)
			}
			defer srv.Close()

			httpSrv := &http.Server{
				Addr:              fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port),
				Handler:           srv.Handler,
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				return fmt.Errorf("serve: %w", err)
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return httpSrv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&jwtSecretEnv, "jwt-secret-env", "CDXINDEX_JWT_SECRET", "environment variable holding the admin passphrase")
	cmd.Flags().StringVar(&adminPasswordHashEnv, "admin-password-hash-env", "CDXINDEX_ADMIN_PASSWORD_HASH", "environment variable holding the bcrypt hash of the admin login password")
	return cmd
}

func newCollectionsCmd(cfg *config.Config, resolve func(*cobra.Command) error) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List every collection under data-dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolve(cmd); err != nil {
				return err
			}
			store, err := datastore.New(cfg.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			names, err := store.List()
			if err != nil {
				return err
			}
			renderCollectionTree(cmd.OutOrStdout(), cfg.DataDir, names)
			return nil
		},
	}
}

// newRetentionCmd trims the metadata database's business event log, the
// one piece of operator-facing state that grows unboundedly under normal
// operation (every ingest/delete/rule/policy mutation appends a row).
func newRetentionCmd(cfg *config.Config, resolve func(*cobra.Command) error) *cobra.Command {
	var eventLogsDays int
	var vacuum bool

	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Delete business event log rows older than a retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolve(cmd); err != nil {
				return err
			}
			metaPath := filepath.Join(cfg.DataDir, "_meta.db")
			metaDB, err := dbopen.Open(metaPath, dbopen.WithMkdirAll())
			if err != nil {
				return fmt.Errorf("open metadata db: %w", err)
			}
			defer metaDB.Close()
			if err := observability.Init(metaDB); err != nil {
				return fmt.Errorf("init observability schema: %w", err)
			}

			rc := observability.RetentionConfig{EventLogsDays: eventLogsDays, RunVacuumAfter: vacuum}
			if err := observability.Cleanup(cmd.Context(), metaDB, rc); err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "retention cleanup complete (event_logs_days=%d vacuum=%v)\n", eventLogsDays, vacuum)
			return nil
		},
	}
	cmd.Flags().IntVar(&eventLogsDays, "event-logs-days", 90, "delete business event log rows older than this many days (0 disables cleanup)")
	cmd.Flags().BoolVar(&vacuum, "vacuum", false, "run VACUUM on the metadata database after cleanup")
	return cmd
}

func newCompactCmd(cfg *config.Config, resolve func(*cobra.Command) error) *cobra.Command {
	return &cobra.Command{
		Use:   "compact <collection>",
		Short: "Trigger background compaction of one collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := resolve(cmd); err != nil {
				return err
			}
			store, err := datastore.New(cfg.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			idx, err := store.Get(context.Background(), args[0], false)
			if err != nil {
				return err
			}
			if !idx.CompactInBackground() {
				return fmt.Errorf("compaction already running for %q", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "compaction started for %q\n", args[0])
			return nil
		},
	}
}
