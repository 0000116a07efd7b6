package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kayz/tavernkit/internal/session"
	"github.com/mark3labs/mcp-go/mcp"
)

const defaultAuditDays = 30

type auditFile struct {
	name    string
	size    int64
	modTime time.Time
}

func (t *Toolset) auditDir() string {
	pb := t.cfg.PromptBuild
	return session.Resolve(pb.RootDir, pb.AuditDir)
}

func (t *Toolset) auditDays(req mcp.CallToolRequest) int {
	if d, ok := req.Params.Arguments["days"].(float64); ok && d > 0 {
		return int(d)
	}
	if t.cfg.PromptBuild.AuditRetentionDays > 0 {
		return t.cfg.PromptBuild.AuditRetentionDays
	}
	return defaultAuditDays
}

// oldAuditFiles lists audit logs not modified since cutoff, oldest first.
func (t *Toolset) oldAuditFiles(cutoff time.Time) ([]auditFile, error) {
	prefix := strings.TrimSpace(t.cfg.PromptBuild.AuditFilePrefix)
	if prefix == "" {
		prefix = "promptbuild"
	}
	entries, err := os.ReadDir(t.auditDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var old []auditFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix+"-") || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			old = append(old, auditFile{name: entry.Name(), size: info.Size(), modTime: info.ModTime()})
		}
	}
	sort.Slice(old, func(i, j int) bool { return old[i].modTime.Before(old[j].modTime) })
	return old, nil
}

// AuditListOld lists prompt audit logs that haven't been modified for a number of days
func (t *Toolset) AuditListOld(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days := t.auditDays(req)
	dir := t.auditDir()
	old, err := t.oldAuditFiles(time.Now().AddDate(0, 0, -days))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read audit directory: %v", err)), nil
	}
	if len(old) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No audit logs older than %d days found in %s", days, dir)), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Audit logs not modified for %d+ days in %s:\n\n", days, dir))
	var totalSize int64
	for _, f := range old {
		result.WriteString(fmt.Sprintf("%s | %s | %s\n", f.modTime.Format("2006-01-02"), FormatBytes(uint64(f.size)), f.name))
		totalSize += f.size
	}
	result.WriteString(fmt.Sprintf("\nTotal: %d files, %s", len(old), FormatBytes(uint64(totalSize))))
	return mcp.NewToolResultText(result.String()), nil
}

// AuditPrune deletes prompt audit logs older than a number of days
func (t *Toolset) AuditPrune(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	days := t.auditDays(req)
	dryRun, _ := req.Params.Arguments["dry_run"].(bool)
	dir := t.auditDir()

	old, err := t.oldAuditFiles(time.Now().AddDate(0, 0, -days))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read audit directory: %v", err)), nil
	}

	var deleted, failed []string
	var totalSize int64
	for _, f := range old {
		if ctx.Err() != nil {
			break
		}
		if !dryRun {
			if err := os.Remove(filepath.Join(dir, f.name)); err != nil && !os.IsNotExist(err) {
				failed = append(failed, fmt.Sprintf("%s: %v", f.name, err))
				continue
			}
		}
		deleted = append(deleted, f.name)
		totalSize += f.size
	}

	if len(deleted) == 0 && len(failed) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No audit logs older than %d days found in %s", days, dir)), nil
	}

	var result strings.Builder
	if dryRun {
		result.WriteString(fmt.Sprintf("[DRY RUN] Would delete %d files (%s) from %s:\n\n", len(deleted), FormatBytes(uint64(totalSize)), dir))
	} else {
		result.WriteString(fmt.Sprintf("Deleted %d files (%s) from %s:\n\n", len(deleted), FormatBytes(uint64(totalSize)), dir))
	}
	for _, name := range deleted {
		result.WriteString(fmt.Sprintf("  - %s\n", name))
	}
	if len(failed) > 0 {
		result.WriteString(fmt.Sprintf("\nFailed to delete %d files:\n", len(failed)))
		for _, f := range failed {
			result.WriteString(fmt.Sprintf("  - %s\n", f))
		}
	}
	return mcp.NewToolResultText(result.String()), nil
}
