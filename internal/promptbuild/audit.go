package promptbuild

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kayz/tavernkit/internal/tokenizer"
)

var auditMu sync.Mutex

type auditRecord struct {
	Timestamp       string   `json:"timestamp"`
	API             string   `json:"api"`
	RequestDigest   string   `json:"request_digest"`
	Roles           []string `json:"roles"`
	MessageCount    int      `json:"message_count"`
	EstimatedTokens int      `json:"estimated_tokens"`
	Warnings        []string `json:"warnings,omitempty"`
}

func (b *Builder) auditPrefix() string {
	prefix := strings.TrimSpace(b.cfg.AuditFilePrefix)
	if prefix == "" {
		prefix = "promptbuild"
	}
	return prefix
}

func (b *Builder) writeAuditRecord(api string, opts BuildOptions, res Result) error {
	if !b.cfg.AuditEnabled {
		return nil
	}

	auditDir := b.resolvePath(b.cfg.AuditDir)
	if err := os.MkdirAll(auditDir, 0755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	now := time.Now()
	fileName := fmt.Sprintf("%s-%s.jsonl", b.auditPrefix(), now.Format("2006-01-02"))
	filePath := filepath.Join(auditDir, fileName)

	record := auditRecord{
		Timestamp:     now.Format(time.RFC3339),
		API:           api,
		RequestDigest: buildRequestDigest(api, opts),
		Roles:         messageRoles(res.Messages),
		MessageCount:  len(res.Messages),
		Warnings:      res.Warnings,
	}
	for _, m := range res.Messages {
		record.EstimatedTokens += tokenizer.Count(m.Content)
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if err := appendJSONL(filePath, line); err != nil {
		return err
	}

	if err := b.cleanupOldAuditFilesWithNow(now); err != nil {
		return err
	}

	return nil
}

func appendJSONL(filePath string, line []byte) error {
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit file: %w", err)
	}
	return nil
}

func (b *Builder) CleanupOldAuditFiles() error {
	auditMu.Lock()
	defer auditMu.Unlock()
	return b.cleanupOldAuditFilesWithNow(time.Now())
}

func (b *Builder) cleanupOldAuditFilesWithNow(now time.Time) error {
	if !b.cfg.AuditEnabled || b.cfg.AuditRetentionDays <= 0 {
		return nil
	}

	auditDir := b.resolvePath(b.cfg.AuditDir)
	entries, err := os.ReadDir(auditDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("list audit dir: %w", err)
	}

	prefix := b.auditPrefix()
	cutoff := now.AddDate(0, 0, -b.cfg.AuditRetentionDays)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		filePath := filepath.Join(auditDir, name)
		fileDate, ok := parseAuditDate(name, prefix)
		if ok {
			if fileDate.Before(startOfDay(cutoff)) {
				if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("remove old audit file %s: %w", filePath, err)
				}
			}
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat audit file %s: %w", filePath, err)
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove old audit file %s: %w", filePath, err)
			}
		}
	}

	return nil
}

func parseAuditDate(filename, prefix string) (time.Time, bool) {
	raw := strings.TrimSuffix(filename, ".jsonl")
	raw = strings.TrimPrefix(raw, prefix+"-")
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func messageRoles(messages []Message) []string {
	roles := make([]string, 0, len(messages))
	for _, m := range messages {
		roles = append(roles, m.Role)
	}
	return roles
}

// buildRequestDigest hashes the build options. It never includes message text.
func buildRequestDigest(api string, opts BuildOptions) string {
	digestInput := struct {
		API     string       `json:"api"`
		Options BuildOptions `json:"options"`
	}{API: api, Options: opts}
	payload, _ := json.Marshal(digestInput)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func (b *Builder) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(b.cfg.RootDir, p)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
