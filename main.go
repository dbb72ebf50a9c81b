package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cvhariharan/sailboat/config"
	"github.com/cvhariharan/sailboat/directory"
	"github.com/cvhariharan/sailboat/keyring"
	"github.com/cvhariharan/sailboat/server"
	"github.com/cvhariharan/sailboat/store"
	"github.com/cvhariharan/sailboat/transport"
)

const shutdownTimeout = 30 * time.Second

var (
	envFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sailboat",
		Short: "ActivityPub federation for locally hosted profiles",
		Long: `sailboat lets local profiles follow and be followed by accounts on
other ActivityPub servers, and delivers their posts to remote followers.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment from this file (default .env if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		serveCmd(),
		profileCmd(),
		resolveCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if envFile != "" {
		cfg, err = config.Load(envFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.DBPath, err)
	}
	return st, nil
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the federation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync() //nolint:errcheck

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			srv := server.New(cfg, st, logger)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides SAILBOAT_ADDR)")
	return cmd
}

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage local profiles",
	}
	cmd.AddCommand(profileCreateCmd(), profileListCmd())
	return cmd
}

func profileCreateCmd() *cobra.Command {
	var username, name, summary string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a profile and its signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			p := &store.Profile{PreferredUsername: username, DisplayName: name, Summary: summary}
			if err := keyring.CreateProfile(cmd.Context(), st, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created profile %d: @%s@%s\n", p.ID, p.PreferredUsername, cfg.Domain)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "preferred username")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&summary, "summary", "", "profile summary")
	cmd.MarkFlagRequired("username") //nolint:errcheck
	return cmd
}

func profileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List local profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			profiles, err := st.ListProfiles(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range profiles {
				fmt.Fprintf(out, "%d\t@%s@%s\t%s\n", p.ID, p.PreferredUsername, cfg.Domain, p.DisplayName)
			}
			return nil
		},
	}
}

func resolveCmd() *cobra.Command {
	var as int64

	cmd := &cobra.Command{
		Use:   "resolve <handle>",
		Short: "Look up a remote account through WebFinger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync() //nolint:errcheck

			h, err := directory.ParseHandle(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			profile, err := keyring.New(st, cfg.Domain).CurrentProfile(cmd.Context(), as)
			if err != nil {
				return fmt.Errorf("profile %d: %w", as, err)
			}
			dir := directory.New(transport.New(transport.WithTimeout(cfg.RequestTimeout)), logger.Named("directory"))
			actor, err := dir.Resolve(cmd.Context(), h, profile)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(actor)
		},
	}

	cmd.Flags().Int64Var(&as, "as", 1, "local profile id that signs the requests")
	return cmd
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, _ := config.Build()
	return logger
}
