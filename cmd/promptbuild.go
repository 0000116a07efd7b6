package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kayz/tavernkit/internal/config"
	"github.com/kayz/tavernkit/internal/logger"
	"github.com/kayz/tavernkit/internal/promptbuild"
	"github.com/kayz/tavernkit/internal/session"
	"github.com/spf13/cobra"
)

func newPromptBuildCommand() *cobra.Command {
	var (
		requestPath string
		api         string
		outputPath  string
		record      bool
		recordDir   string
	)

	cmd := &cobra.Command{
		Use:   "promptbuild",
		Short: "Assemble a prompt from a request file, presets, world info and SQLite history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if requestPath == "" {
				return fmt.Errorf("--request is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			req, reqBytes, err := session.LoadRequest(requestPath)
			if err != nil {
				return err
			}
			res, err := buildPrompt(cmd.Context(), cfg, req, api)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			if outputPath == "" {
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			} else if err := os.WriteFile(outputPath, append(out, '\n'), 0644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}

			if record {
				if err := recordPromptBuild(cfg.PromptBuild, recordDir, reqBytes, out); err != nil {
					logger.Warn("record promptbuild failed: %v", err)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&requestPath, "request", "", "Path to JSON or YAML request file")
	cmd.Flags().StringVar(&api, "api", "", "Backend family: textgenerationwebui or openai (default: from request)")
	cmd.Flags().StringVar(&outputPath, "output", "", "Write output to file (default: stdout)")
	cmd.Flags().BoolVar(&record, "record", false, "Record request/output to files")
	cmd.Flags().StringVar(&recordDir, "record-dir", "", "Directory to write record files (default: promptbuild-records)")
	return cmd
}

// buildPrompt assembles req. The chat store is opened only when the request
// reads history from it.
func buildPrompt(ctx context.Context, cfg *config.Config, req *session.Request, api string) (promptbuild.Result, error) {
	var history promptbuild.HistoryStore
	if len(req.Chat) == 0 && req.ChatID != "" {
		store, err := openStore(cfg)
		if err != nil {
			return promptbuild.Result{}, err
		}
		defer store.Close()
		history = store
	}

	host, err := session.NewHost(cfg, req, history)
	if err != nil {
		return promptbuild.Result{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return promptbuild.NewBuilder(cfg.PromptBuild, host).Build(ctx, req.APIOrDefault(api), req.Options)
}

func recordPromptBuild(cfg config.PromptBuildConfig, recordDir string, reqBytes, out []byte) error {
	if recordDir == "" {
		recordDir = "promptbuild-records"
	}
	recordDir = session.Resolve(cfg.RootDir, recordDir)
	if err := os.MkdirAll(recordDir, 0755); err != nil {
		return err
	}

	ts := time.Now().Format("20060102-150405")
	reqPath := filepath.Join(recordDir, fmt.Sprintf("request-%s.json", ts))
	outPath := filepath.Join(recordDir, fmt.Sprintf("output-%s.json", ts))

	if err := os.WriteFile(reqPath, reqBytes, 0644); err != nil {
		return err
	}
	return os.WriteFile(outPath, out, 0644)
}

func init() {
	rootCmd.AddCommand(newPromptBuildCommand())
}
