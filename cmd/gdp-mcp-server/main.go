// Command gdp-mcp-server runs the GDP MCP server: an API-key-gated HTTP
// surface that lets AI agents discover and execute IBM Guardium Data
// Protection REST APIs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	gdpmcp "github.com/IBM/gdp-mcp-server"
	"github.com/IBM/gdp-mcp-server/internal/admin"
	"github.com/IBM/gdp-mcp-server/internal/audit"
	"github.com/IBM/gdp-mcp-server/internal/auth"
	"github.com/IBM/gdp-mcp-server/internal/catalog"
	"github.com/IBM/gdp-mcp-server/internal/gdp"
	"github.com/IBM/gdp-mcp-server/internal/keystore"
	"github.com/IBM/gdp-mcp-server/internal/logging"
	"github.com/IBM/gdp-mcp-server/internal/version"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "gdp-mcp-server",
		Short:         "AI-agent gateway to IBM Guardium Data Protection REST APIs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (JSON/YAML); environment variables fill unset fields")

	root.AddCommand(
		serveCmd(&configPath),
		keysCmd(&configPath),
		validateCmd(),
		versionCmd(),
	)
	return root
}

func resolveConfig(configPath string) (*gdpmcp.Config, error) {
	if configPath != "" {
		return gdpmcp.LoadConfig(configPath)
	}
	return gdpmcp.FromEnv(), nil
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(*configPath)
			if err != nil {
				return err
			}
			if err := gdpmcp.ValidateConfig(*cfg); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return runServer(cmd.Context(), cfg)
		},
	}
}

func runServer(ctx context.Context, cfg *gdpmcp.Config) error {
	keys := keystore.New(cfg.KeyStorePath)
	tokens := auth.NewManager(cfg.Appliance)
	client := gdp.NewClient(cfg.Appliance, tokens)
	cat := catalog.New(client, cfg.CatalogCachePath)

	var auditWriter audit.Writer = audit.NoopWriter{}
	var auditReader admin.AuditReader
	switch cfg.Audit.Backend {
	case "sqlite":
		w, err := audit.NewSQLiteWriter(cfg.Audit.DSN)
		if err != nil {
			return err
		}
		defer w.Close()
		auditWriter, auditReader = w, w
	case "postgres":
		w, err := audit.NewPostgresWriter(cfg.Audit.DSN)
		if err != nil {
			return err
		}
		defer w.Close()
		auditWriter, auditReader = w, w
	}

	// Warm the catalog in the background; requests lazily retry via Ensure.
	go func() {
		loadCtx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		if _, err := cat.Load(loadCtx, true); err != nil {
			logging.Logger.Warn("initial catalog load failed, will retry on first request", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      newRouter(cfg, keys, cat, client, auditWriter, auditReader),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logging.Logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Logger.Error("shutdown error", "error", err)
		}
	}()

	logging.Logger.Info("GDP MCP server listening",
		"version", version.Short(),
		"addr", cfg.Server.Addr,
		"target", cfg.Appliance.EffectiveHost()+":"+cfg.Appliance.EffectivePort(),
		"key_store", cfg.KeyStorePath,
		"active_keys", len(keys.List()))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logging.Logger.Info("server stopped")
	return nil
}

func keysCmd(configPath *string) *cobra.Command {
	keysRoot := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys in the local key store",
	}

	store := func() (*keystore.Store, error) {
		cfg, err := resolveConfig(*configPath)
		if err != nil {
			return nil, err
		}
		return keystore.New(cfg.KeyStorePath), nil
	}

	keysRoot.AddCommand(&cobra.Command{
		Use:   "create <user>",
		Short: "Issue a new API key (the raw key is shown exactly once)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store()
			if err != nil {
				return err
			}
			issued, err := s.Generate(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key for %s (prefix %s):\n%s\n",
				issued.User, issued.KeyPrefix, issued.Key)
			fmt.Fprintln(cmd.OutOrStdout(), "Store this key now; it cannot be recovered.")
			return nil
		},
	})

	keysRoot.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List issued keys (masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := store()
			if err != nil {
				return err
			}
			keys := s.List()
			if len(keys) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No keys issued.")
				return nil
			}
			for _, k := range keys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s  %s\n",
					k.KeyPrefix, k.User, k.Created.Format(time.RFC3339))
			}
			return nil
		},
	})

	keysRoot.AddCommand(&cobra.Command{
		Use:   "revoke <prefix>",
		Short: "Revoke a key by its 8-character prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store()
			if err != nil {
				return err
			}
			rec, err := s.Revoke(args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("no key with prefix %q", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked key %s (user %s)\n", args[0], rec.User)
			return nil
		},
	})

	return keysRoot
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a config file (JSON/YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gdpmcp.LoadConfig(args[0])
			if err != nil {
				return err
			}
			if err := gdpmcp.ValidateConfig(*cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config is valid\n")
			fmt.Fprintf(cmd.OutOrStdout(), "  Appliance:  %s:%s\n",
				cfg.Appliance.EffectiveHost(), cfg.Appliance.EffectivePort())
			fmt.Fprintf(cmd.OutOrStdout(), "  Key store:  %s\n", cfg.KeyStorePath)
			if cfg.Audit.Backend != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  Audit:      %s\n", cfg.Audit.Backend)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gdp-mcp-server %s\n", version.String())
		},
	}
}
