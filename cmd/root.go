package cmd

import (
	"fmt"
	"os"

	"github.com/kayz/tavernkit/internal/config"
	"github.com/kayz/tavernkit/internal/logger"
	"github.com/kayz/tavernkit/internal/persist"
	"github.com/kayz/tavernkit/internal/session"
	"github.com/spf13/cobra"
)

// configEnv overrides the config file location when --config is not given.
const configEnv = "TAVERNKIT_CONFIG"

var (
	logLevel   string
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "tavernkit",
	Short: "Prompt assembly and extension settings toolkit",
	Long: `tavernkit assembles chat prompts for text-completion and chat-completion
backends and keeps extension settings migrated across versions.

Commands:
  tavernkit promptbuild   Assemble a prompt from a request file
  tavernkit generate      Assemble a prompt and send it through a connection profile
  tavernkit settings      Initialize, read and edit extension settings
  tavernkit audit         Inspect and prune prompt audit logs
  tavernkit mcp           Serve the toolkit over MCP (stdio)`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		opts := logger.Options{
			Level:   cfg.Logging.Level,
			File:    cfg.Logging.File,
			Journal: cfg.Logging.Journal,
			Stderr:  cmd.ErrOrStderr(),
		}
		// --log wins over the config file
		if cmd.Flags().Changed("log") {
			opts.Level = logLevel
		}
		return logger.Setup(opts)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info",
		"Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default: .tavernkit.yaml next to the executable, or $"+configEnv+")")
}

// loadConfig reads the config from --config, $TAVERNKIT_CONFIG or the default path.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStore opens the SQLite store named in the config.
func openStore(cfg *config.Config) (*persist.Store, error) {
	path := cfg.Store.SQLitePath
	if path == "" {
		return nil, fmt.Errorf("store.sqlite_path is not set")
	}
	store, err := persist.NewStore(resolvePath(cfg, path))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

func resolvePath(cfg *config.Config, p string) string {
	return session.Resolve(cfg.PromptBuild.RootDir, p)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
