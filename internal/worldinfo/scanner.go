package worldinfo

import (
	"context"
	"sort"
	"strings"

	"github.com/kayz/tavernkit/internal/logger"
	"github.com/kayz/tavernkit/internal/promptbuild"
	"github.com/kayz/tavernkit/internal/regexscript"
	"github.com/kayz/tavernkit/internal/tokenizer"
)

const (
	DefaultScanDepth = 2
	// DefaultBudget is the share of max context, in percent, world info may use.
	DefaultBudget = 25
)

// Scanner activates lorebook entries against recent chat.
type Scanner struct {
	Entries []Entry
	// ScanDepth is how many of the newest messages are searched for keys.
	ScanDepth int
	// Budget is a percent of max context. Zero means DefaultBudget.
	Budget        int
	CaseSensitive bool
}

var _ promptbuild.WorldInfoSource = (*Scanner)(nil)

func NewScanner(entries []Entry, scanDepth, budget int) *Scanner {
	return &Scanner{Entries: entries, ScanDepth: scanDepth, Budget: budget}
}

// WorldInfoPrompt scans chat, newest message first, and buckets activated
// entries by position. Constant entries always activate. Higher Order wins
// the budget; within a bucket entries keep ascending Order.
func (s *Scanner) WorldInfoPrompt(ctx context.Context, chat []string, maxContext int, dryRun bool) (promptbuild.WorldInfoResult, error) {
	if err := ctx.Err(); err != nil {
		return promptbuild.WorldInfoResult{}, err
	}

	depth := s.ScanDepth
	if depth <= 0 || depth > len(chat) {
		depth = len(chat)
	}
	text := strings.Join(chat[:depth], "\n")
	folded := text
	if !s.CaseSensitive {
		folded = strings.ToLower(text)
	}

	var candidates []Entry
	for _, e := range s.Entries {
		if e.Disable || strings.TrimSpace(e.Content) == "" {
			continue
		}
		if e.Constant || s.matches(e, text, folded) {
			candidates = append(candidates, e)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Order != candidates[j].Order {
			return candidates[i].Order > candidates[j].Order
		}
		return candidates[i].UID < candidates[j].UID
	})

	budget := s.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	limit := maxContext * budget / 100
	used := 0
	var activated []Entry
	for _, e := range candidates {
		cost := tokenizer.Count(e.Content)
		if limit > 0 && used+cost > limit {
			logger.Debug("World info budget reached at entry %d (%d/%d tokens)", e.UID, used, limit)
			break
		}
		used += cost
		activated = append(activated, e)
	}
	sort.SliceStable(activated, func(i, j int) bool {
		if activated[i].Order != activated[j].Order {
			return activated[i].Order < activated[j].Order
		}
		return activated[i].UID < activated[j].UID
	})

	if dryRun {
		logger.Debug("World info dry run: %d of %d entries activated", len(activated), len(s.Entries))
	}
	return bucket(activated), nil
}

func (s *Scanner) matches(e Entry, text, folded string) bool {
	if !s.anyKey(e.Keys, text, folded) {
		return false
	}
	if e.Selective && len(e.SecondaryKeys) > 0 {
		return s.anyKey(e.SecondaryKeys, text, folded)
	}
	return true
}

// anyKey reports whether one of keys occurs in the scanned text. Keys written
// as "/pattern/flags" are matched as regular expressions against the
// unfolded text.
func (s *Scanner) anyKey(keys []string, text, folded string) bool {
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if isRegexKey(key) {
			re, _, err := regexscript.Compile(key)
			if err != nil {
				logger.Warn("Skipping world info key %s: %v", key, err)
				continue
			}
			if ok, _ := re.MatchString(text); ok {
				return true
			}
			continue
		}
		if !s.CaseSensitive {
			key = strings.ToLower(key)
		}
		if strings.Contains(folded, key) {
			return true
		}
	}
	return false
}

func isRegexKey(key string) bool {
	return len(key) > 2 && key[0] == '/' && strings.LastIndex(key, "/") > 0
}

func bucket(entries []Entry) promptbuild.WorldInfoResult {
	var before, after []string
	res := promptbuild.WorldInfoResult{}
	type depthKey struct {
		depth int
		role  promptbuild.PromptRole
	}
	depthIndex := map[depthKey]int{}

	for _, e := range entries {
		switch e.Position {
		case PositionAfter:
			after = append(after, e.Content)
		case PositionANTop:
			res.ANBefore = append(res.ANBefore, e.Content)
		case PositionANBottom:
			res.ANAfter = append(res.ANAfter, e.Content)
		case PositionAtDepth:
			k := depthKey{depth: e.Depth, role: e.Role}
			i, ok := depthIndex[k]
			if !ok {
				i = len(res.Depth)
				depthIndex[k] = i
				res.Depth = append(res.Depth, promptbuild.WorldInfoDepth{Depth: e.Depth, Role: e.Role})
			}
			res.Depth[i].Entries = append(res.Depth[i].Entries, e.Content)
		case PositionEMTop:
			res.Examples = append(res.Examples, promptbuild.WorldInfoExample{Content: e.Content, Position: promptbuild.AnchorBefore})
		case PositionEMBottom:
			res.Examples = append(res.Examples, promptbuild.WorldInfoExample{Content: e.Content, Position: promptbuild.AnchorAfter})
		default:
			before = append(before, e.Content)
		}
	}

	res.Before = strings.Join(before, "\n")
	res.After = strings.Join(after, "\n")
	var all []string
	for _, part := range []string{res.Before, res.After} {
		if part != "" {
			all = append(all, part)
		}
	}
	res.String = strings.Join(all, "\n")
	return res
}
