package regexscript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kayz/tavernkit/internal/logger"
)

// Engine applies an ordered list of scripts.
type Engine struct {
	Scripts []Script
}

func NewEngine(scripts ...Script) *Engine {
	return &Engine{Scripts: scripts}
}

// Apply runs every script that matches placement and opts, in order. A script
// that fails to compile or run is skipped with a warning.
func (e *Engine) Apply(text string, placement Placement, opts Options) string {
	if e == nil || text == "" {
		return text
	}
	for _, s := range e.Scripts {
		if !s.applies(placement, opts) {
			continue
		}
		out, err := s.Run(text, opts.Macros)
		if err != nil {
			logger.Warn("Regex script %q skipped: %v", s.ScriptName, err)
			continue
		}
		text = out
	}
	return text
}

// LoadFile reads scripts from a JSON or YAML file holding a list of scripts.
func LoadFile(path string) ([]Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read regex scripts %s: %w", path, err)
	}
	var scripts []Script
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &scripts)
	default:
		err = json.Unmarshal(data, &scripts)
	}
	if err != nil {
		return nil, fmt.Errorf("parse regex scripts %s: %w", path, err)
	}
	for i, s := range scripts {
		if strings.TrimSpace(s.FindRegex) == "" {
			return nil, fmt.Errorf("regex script %d (%s): find_regex is required", i, s.ScriptName)
		}
	}
	return scripts, nil
}
