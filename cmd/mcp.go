package cmd

import (
	"github.com/kayz/tavernkit/internal/logger"
	"github.com/kayz/tavernkit/internal/tools"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

func newMCPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve prompt assembly, settings and audit tools over MCP on stdio",
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

			if schedule := cfg.PromptBuild.AuditPruneSchedule; schedule != "" {
				scheduler, err := startAuditScheduler(cfg, schedule)
				if err != nil {
					return err
				}
				defer func() {
					if err := scheduler.Stop(); err != nil {
						logger.Warn("[CRON] %v", err)
					}
				}()
			}

			s := server.NewMCPServer("tavernkit", Version, server.WithToolCapabilities(false))
			tools.NewToolset(cfg, store).Register(s)
			logger.Info("[MCP] Serving tools on stdio")
			return server.ServeStdio(s)
		},
	}
}

func init() {
	rootCmd.AddCommand(newMCPCommand())
}
