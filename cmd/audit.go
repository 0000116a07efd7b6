package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kayz/tavernkit/internal/config"
	cronpkg "github.com/kayz/tavernkit/internal/cron"
	"github.com/kayz/tavernkit/internal/logger"
	"github.com/kayz/tavernkit/internal/promptbuild"
	"github.com/kayz/tavernkit/internal/tools"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"
)

const auditPruneTask = "audit-prune"

func newAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and prune prompt audit logs",
	}

	var listDays int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List audit logs older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			req := mcp.CallToolRequest{}
			req.Params.Arguments = map[string]any{}
			if listDays > 0 {
				req.Params.Arguments["days"] = float64(listDays)
			}
			res, err := tools.NewToolset(cfg, nil).AuditListOld(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printToolResult(cmd, res)
		},
	}
	listCmd.Flags().IntVar(&listDays, "days", 0, "Minimum age in days (default: audit_retention_days)")

	var (
		pruneDays int
		schedule  string
	)
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete audit logs past retention, once or on a cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if pruneDays > 0 {
				cfg.PromptBuild.AuditRetentionDays = pruneDays
			}
			if schedule == "" {
				if err := pruneAudit(cfg.PromptBuild); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Audit logs pruned")
				return nil
			}

			scheduler, err := startAuditScheduler(cfg, schedule)
			if err != nil {
				return err
			}
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			return scheduler.Stop()
		},
	}
	pruneCmd.Flags().IntVar(&pruneDays, "days", 0, "Retention in days (default: audit_retention_days)")
	pruneCmd.Flags().StringVar(&schedule, "schedule", "", "Cron expression; keep running and prune on this schedule")

	cmd.AddCommand(listCmd, pruneCmd)
	return cmd
}

// pruneAudit removes audit logs older than the configured retention, whether
// or not new records are being written.
func pruneAudit(cfg config.PromptBuildConfig) error {
	cfg.AuditEnabled = true
	return promptbuild.NewBuilder(cfg, nil).CleanupOldAuditFiles()
}

// startAuditScheduler stores an audit-prune job in SQLite and starts running
// it. Callers Stop the scheduler.
func startAuditScheduler(cfg *config.Config, schedule string) (*cronpkg.Scheduler, error) {
	if err := cronpkg.ValidateSchedule(schedule); err != nil {
		return nil, err
	}
	store, err := cronpkg.NewStore(resolvePath(cfg, cfg.Store.SQLitePath))
	if err != nil {
		return nil, err
	}
	scheduler := cronpkg.NewScheduler(store)

	pb := cfg.PromptBuild
	scheduler.RegisterTask(auditPruneTask, func(ctx context.Context, args map[string]any) error {
		run := pb
		if d, ok := args["days"].(float64); ok && d > 0 {
			run.AuditRetentionDays = int(d)
		}
		return pruneAudit(run)
	})
	if err := scheduler.Start(); err != nil {
		store.Close()
		return nil, err
	}

	// the stored job is replaced so schedule and retention follow the latest run
	if job, ok := scheduler.FindJob(auditPruneTask); ok {
		if err := scheduler.RemoveJob(job.ID); err != nil {
			logger.Warn("[CRON] Failed to replace job %s: %v", job.ID, err)
		}
	}
	args := map[string]any{"days": float64(pb.AuditRetentionDays)}
	job, err := scheduler.AddJob(auditPruneTask, schedule, auditPruneTask, args)
	if err != nil {
		scheduler.Stop()
		return nil, err
	}
	logger.Info("Pruning audit logs older than %d days on schedule %s (job %s)", pb.AuditRetentionDays, job.Schedule, job.ID)
	return scheduler, nil
}

func printToolResult(cmd *cobra.Command, res *mcp.CallToolResult) error {
	var text string
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			text += tc.Text
		}
	}
	if res.IsError {
		return fmt.Errorf("%s", text)
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}

func init() {
	rootCmd.AddCommand(newAuditCommand())
}
