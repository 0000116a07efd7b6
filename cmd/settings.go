package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kayz/tavernkit/internal/settings"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newSettingsCommand() *cobra.Command {
	var key, defaultsPath string

	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Initialize, read and edit extension settings stored in SQLite",
	}
	cmd.PersistentFlags().StringVar(&key, "key", "", "Extension settings key")
	cmd.PersistentFlags().StringVar(&defaultsPath, "defaults", "", "Default settings file (JSON or YAML)")

	// withManager opens the store and runs fn with a manager for --key.
	withManager := func(needDefaults bool, fn func(m *settings.Manager) error) error {
		if key == "" {
			return fmt.Errorf("--key is required")
		}
		var defaults settings.Blob
		if needDefaults {
			if defaultsPath == "" {
				return fmt.Errorf("--defaults is required")
			}
			var err error
			if defaults, err = loadDefaults(defaultsPath); err != nil {
				return err
			}
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(settings.NewManager(key, defaults, store))
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create or backfill settings from defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(true, func(m *settings.Manager) error {
				res, err := m.InitializeSettings(cmd.Context(), settings.InitOptions{Strategy: settings.Recursive{}})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if res.OldSettings == nil {
					fmt.Fprintf(out, "Created settings for %s (version %s)\n", key, res.Version.New)
					return nil
				}
				if res.Version.Changed {
					fmt.Fprintf(out, "Version: %s -> %s\n", optional(res.Version.Old), res.Version.New)
				}
				if res.FormatVersion.Changed {
					fmt.Fprintf(out, "Format version: %s -> %s\n", optional(res.FormatVersion.Old), res.FormatVersion.New)
				}
				fmt.Fprintf(out, "Settings for %s initialized\n", key)
				return nil
			})
		},
	}

	getCmd := &cobra.Command{
		Use:   "get [field]",
		Short: "Print stored settings, or one top-level field",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(false, func(m *settings.Manager) error {
				blob := m.GetSettings()
				if blob == nil {
					return settings.ErrNotInitialized
				}
				var v any = blob
				if len(args) == 1 {
					field, ok := blob[args[0]]
					if !ok {
						return fmt.Errorf("no field %q in %s", args[0], key)
					}
					v = field
				}
				data, err := json.MarshalIndent(v, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			})
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <field> <value>",
		Short: "Set one top-level field; the value is parsed as JSON when possible",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(false, func(m *settings.Manager) error {
				return m.UpdateSetting(args[0], parseValue(args[1]))
			})
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Replace stored settings with the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(true, func(m *settings.Manager) error {
				return m.ResetSettings()
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List keys with stored settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			keys, err := store.SettingsKeys()
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}

	cmd.AddCommand(initCmd, getCmd, setCmd, resetCmd, listCmd)
	return cmd
}

func loadDefaults(path string) (settings.Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read defaults: %w", err)
	}
	var blob settings.Blob
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &blob)
	default:
		err = json.Unmarshal(data, &blob)
	}
	if err != nil {
		return nil, fmt.Errorf("parse defaults %s: %w", path, err)
	}
	if blob == nil {
		blob = settings.Blob{}
	}
	return blob, nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func optional(s *string) string {
	if s == nil {
		return "(none)"
	}
	return *s
}

func init() {
	rootCmd.AddCommand(newSettingsCommand())
}
