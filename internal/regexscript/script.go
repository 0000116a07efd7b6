// Package regexscript runs user-defined find/replace scripts over chat text.
// Patterns use JavaScript regex syntax, so they are compiled with regexp2 in
// ECMAScript mode.
package regexscript

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dlclark/regexp2"
)

// Placement says which text a script runs on.
type Placement int

const (
	PlacementMarkdown     Placement = 0 // deprecated
	PlacementUserInput    Placement = 1
	PlacementAIOutput     Placement = 2
	PlacementSlashCommand Placement = 3
	PlacementWorldInfo    Placement = 5
	PlacementReasoning    Placement = 6
)

// Substitution modes for macros inside FindRegex.
const (
	SubstituteNone    = 0
	SubstituteRaw     = 1
	SubstituteEscaped = 2
)

// Script is one stored regex script.
type Script struct {
	ID              string      `json:"id" yaml:"id"`
	ScriptName      string      `json:"scriptName" yaml:"script_name"`
	FindRegex       string      `json:"findRegex" yaml:"find_regex"`
	ReplaceString   string      `json:"replaceString" yaml:"replace_string"`
	TrimStrings     []string    `json:"trimStrings" yaml:"trim_strings"`
	Placement       []Placement `json:"placement" yaml:"placement"`
	Disabled        bool        `json:"disabled" yaml:"disabled"`
	MarkdownOnly    bool        `json:"markdownOnly" yaml:"markdown_only"`
	PromptOnly      bool        `json:"promptOnly" yaml:"prompt_only"`
	RunOnEdit       bool        `json:"runOnEdit" yaml:"run_on_edit"`
	SubstituteRegex int         `json:"substituteRegex" yaml:"substitute_regex"`
	// MinDepth and MaxDepth bound the message depth (0 = newest). Nil or
	// negative means unbounded.
	MinDepth *int `json:"minDepth" yaml:"min_depth"`
	MaxDepth *int `json:"maxDepth" yaml:"max_depth"`
}

// Options describe the context a string is being processed in.
type Options struct {
	IsMarkdown bool
	IsPrompt   bool
	IsEdit     bool
	Depth      *int
	// Macros are substituted into FindRegex when SubstituteRegex is set.
	// Keys are matched case-insensitively as {{key}}.
	Macros map[string]string
}

var (
	cacheMu sync.Mutex
	cache   = map[string]compiled{}

	groupRef = regexp2.MustCompile(`\$(\d{1,2}|&)`, regexp2.ECMAScript)
)

type compiled struct {
	re     *regexp2.Regexp
	global bool
}

// Compile parses a "/pattern/flags" literal or a bare pattern.
func Compile(literal string) (*regexp2.Regexp, bool, error) {
	cacheMu.Lock()
	c, ok := cache[literal]
	cacheMu.Unlock()
	if ok {
		return c.re, c.global, nil
	}

	pattern, flags := literal, ""
	if len(literal) > 1 && literal[0] == '/' {
		if end := strings.LastIndex(literal, "/"); end > 0 {
			pattern, flags = literal[1:end], literal[end+1:]
		}
	}

	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	global := false
	for _, f := range flags {
		switch f {
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			// ECMAScript mode does not accept Singleline, so emulate dotAll.
			opts &^= regexp2.ECMAScript
			opts |= regexp2.Singleline
		case 'g':
			global = true
		case 'u', 'y', 'd':
		default:
			return nil, false, fmt.Errorf("unsupported regex flag %q in %s", f, literal)
		}
	}

	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, false, fmt.Errorf("compile %s: %w", literal, err)
	}

	cacheMu.Lock()
	cache[literal] = compiled{re: re, global: global}
	cacheMu.Unlock()
	return re, global, nil
}

// Run applies one script to text regardless of placement or flags.
func (s Script) Run(text string, macros map[string]string) (string, error) {
	if s.FindRegex == "" || text == "" {
		return text, nil
	}

	find := s.FindRegex
	switch s.SubstituteRegex {
	case SubstituteRaw:
		find = substituteMacros(find, macros, false)
	case SubstituteEscaped:
		find = substituteMacros(find, macros, true)
	}

	re, global, err := Compile(find)
	if err != nil {
		return text, err
	}
	count := 1
	if global {
		count = -1
	}

	var evalErr error
	out, err := re.ReplaceFunc(text, func(m regexp2.Match) string {
		replaced, err := s.expand(m)
		if err != nil && evalErr == nil {
			evalErr = err
		}
		return replaced
	}, -1, count)
	if err != nil {
		return text, fmt.Errorf("run script %s: %w", s.ScriptName, err)
	}
	if evalErr != nil {
		return text, fmt.Errorf("run script %s: %w", s.ScriptName, evalErr)
	}
	return out, nil
}

func (s Script) expand(m regexp2.Match) (string, error) {
	template := strings.ReplaceAll(s.ReplaceString, "{{match}}", "$&")
	groups := m.Groups()
	return groupRef.ReplaceFunc(template, func(ref regexp2.Match) string {
		name := ref.GroupByNumber(1).String()
		if name == "&" {
			return s.trim(m.String())
		}
		idx := 0
		for _, r := range name {
			idx = idx*10 + int(r-'0')
		}
		if idx >= len(groups) {
			return ""
		}
		return s.trim(groups[idx].String())
	}, -1, -1)
}

func (s Script) trim(v string) string {
	for _, t := range s.TrimStrings {
		if t != "" {
			v = strings.ReplaceAll(v, t, "")
		}
	}
	return v
}

func (s Script) hasPlacement(p Placement) bool {
	for _, sp := range s.Placement {
		if sp == p {
			return true
		}
	}
	return false
}

// applies reports whether a script runs for the given placement and options.
func (s Script) applies(p Placement, opts Options) bool {
	if s.Disabled || !s.hasPlacement(p) {
		return false
	}
	if opts.IsEdit && !s.RunOnEdit {
		return false
	}
	if opts.Depth != nil {
		d := *opts.Depth
		if s.MinDepth != nil && *s.MinDepth >= 0 && d < *s.MinDepth {
			return false
		}
		if s.MaxDepth != nil && *s.MaxDepth >= 0 && d > *s.MaxDepth {
			return false
		}
	}
	switch {
	case s.MarkdownOnly && opts.IsMarkdown:
		return true
	case s.PromptOnly && opts.IsPrompt:
		return true
	case !s.MarkdownOnly && !s.PromptOnly && !opts.IsMarkdown && !opts.IsPrompt:
		return true
	}
	return false
}

func substituteMacros(s string, macros map[string]string, escape bool) string {
	for k, v := range macros {
		if escape {
			v = regexp2.Escape(v)
		}
		s = replaceFold(s, "{{"+k+"}}", v)
	}
	return s
}

func replaceFold(s, old, new string) string {
	var out strings.Builder
	for i := 0; i < len(s); {
		if i+len(old) <= len(s) && strings.EqualFold(s[i:i+len(old)], old) {
			out.WriteString(new)
			i += len(old)
			continue
		}
		out.WriteByte(s[i])
		i++
	}
	return out.String()
}
