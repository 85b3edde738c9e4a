// Command drivesync is the operational CLI for the mirror sync engine:
// arm a user's sync, drain it in batches, pull deltas, and inspect state.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/snapshelf/drivesync/internal/config"
	"github.com/snapshelf/drivesync/internal/drive"
	"github.com/snapshelf/drivesync/internal/engine"
	"github.com/snapshelf/drivesync/internal/mirror"
	"github.com/snapshelf/drivesync/internal/vault"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagUser       string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
var resolvedCfg *config.Config

const httpClientTimeout = 30 * time.Second

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "drivesync",
		Short:   "Drive mirror sync engine",
		Long:    "Mirrors a remote drive folder tree into a local relational mirror.",
		Version: version,
		// Silence Cobra's default error/usage printing; main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.LoadOrDefault(config.ResolvePath(flagConfigPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			resolvedCfg = cfg

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagUser, "user", "", "user id to operate on")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newConnectCmd())
	cmd.AddCommand(newDisconnectCmd())
	cmd.AddCommand(newArmCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newPeekCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// buildLogger picks a text handler on a terminal and JSON otherwise, so
// piped output stays machine-readable. CLI flags set the level.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// stack is the assembled application: store, vault, and engine sharing one
// config and logger.
type stack struct {
	store  *mirror.Store
	vault  *vault.Vault
	engine *engine.Engine
	logger *slog.Logger
}

func (s *stack) Close() {
	if err := s.store.Close(); err != nil {
		s.logger.Warn("closing store", slog.Any("error", err))
	}
}

// buildStack wires the full dependency chain from the resolved config.
func buildStack() (*stack, error) {
	logger := buildLogger()

	store, err := mirror.Open(resolvedCfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	key, err := resolvedCfg.Provider.SecretKey()
	if err != nil {
		store.Close()
		return nil, err
	}

	sealer, err := vault.NewAESSealer(key)
	if err != nil {
		store.Close()
		return nil, err
	}

	v := vault.New(store, sealer, vault.Options{
		TokenURL:       resolvedCfg.Provider.TokenURL,
		ClientID:       resolvedCfg.Provider.ClientID,
		ClientSecret:   resolvedCfg.Provider.ClientSecret,
		RequiredScopes: resolvedCfg.Provider.Scopes,
		Logger:         logger,
	})

	httpClient := &http.Client{Timeout: httpClientTimeout}

	eng, err := engine.New(engine.Options{
		Store: store,
		Providers: func(userID string) engine.Provider {
			return drive.NewClient(resolvedCfg.Provider.BaseURL, httpClient, v.TokenSourceFor(userID), logger)
		},
		Logger:       logger,
		FolderBudget: resolvedCfg.Sync.FolderBudget,
		PollInterval: resolvedCfg.Sync.PollIntervalDuration(),
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &stack{store: store, vault: v, engine: eng, logger: logger}, nil
}

// requireUser validates the --user flag, needed by every subcommand.
func requireUser() (string, error) {
	if flagUser == "" {
		return "", fmt.Errorf("--user is required")
	}

	return flagUser, nil
}
