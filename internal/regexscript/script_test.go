package regexscript

import (
	"os"
	"path/filepath"
	"testing"
)

func intPtr(v int) *int { return &v }

func TestRunReplaceModes(t *testing.T) {
	tests := []struct {
		name   string
		script Script
		in     string
		want   string
	}{
		{
			name:   "first match only without g",
			script: Script{FindRegex: "/cat/", ReplaceString: "dog"},
			in:     "cat cat",
			want:   "dog cat",
		},
		{
			name:   "global case-insensitive",
			script: Script{FindRegex: "/cat/gi", ReplaceString: "dog"},
			in:     "Cat CAT",
			want:   "dog dog",
		},
		{
			name:   "match macro and groups",
			script: Script{FindRegex: `/(\w+)@(\w+)/g`, ReplaceString: "[{{match}}|$2|$1]"},
			in:     "a@b",
			want:   "[a@b|b|a]",
		},
		{
			name:   "trim strings inside match",
			script: Script{FindRegex: `/\*[^*]+\*/g`, ReplaceString: "<{{match}}>", TrimStrings: []string{"*"}},
			in:     "she *waves*",
			want:   "she <waves>",
		},
		{
			name:   "bare pattern",
			script: Script{FindRegex: `\d+`, ReplaceString: "#"},
			in:     "room 101 and 102",
			want:   "room # and 102",
		},
		{
			name:   "lookbehind works in ECMAScript mode",
			script: Script{FindRegex: `/(?<=\$)\d+/g`, ReplaceString: "N"},
			in:     "$5 and $10",
			want:   "$N and $N",
		},
		{
			name:   "escaped macro substitution",
			script: Script{FindRegex: `/{{char}}/g`, ReplaceString: "X", SubstituteRegex: SubstituteEscaped},
			in:     "A.B visits AxB",
			want:   "X visits AxB",
		},
	}

	macros := map[string]string{"char": "A.B"}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.script.Run(tc.in, macros)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCompileFlags(t *testing.T) {
	tests := []struct {
		literal string
		input   string
		match   bool
		global  bool
	}{
		{"/a.b/", "a\nb", false, false},
		{"/a.b/s", "a\nb", true, false},
		{"/HELLO/i", "say hello", true, false},
		{"/^two$/m", "one\ntwo", true, false},
		{"/x/g", "xx", true, true},
		{"plain", "a plain word", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.literal, func(t *testing.T) {
			re, global, err := Compile(tt.literal)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			ok, err := re.MatchString(tt.input)
			if err != nil {
				t.Fatalf("match: %v", err)
			}
			if ok != tt.match || global != tt.global {
				t.Fatalf("match = %v global = %v, want %v %v", ok, global, tt.match, tt.global)
			}
		})
	}

	if _, _, err := Compile("/x/q"); err == nil {
		t.Fatalf("expected unsupported flag error")
	}
}

func TestRunRejectsBadPattern(t *testing.T) {
	s := Script{FindRegex: "/(unclosed/", ReplaceString: "x"}
	if _, err := s.Run("text", nil); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestEngineFiltersScripts(t *testing.T) {
	e := NewEngine(
		Script{ScriptName: "prompt", FindRegex: "/a/g", ReplaceString: "b", Placement: []Placement{PlacementUserInput}, PromptOnly: true},
		Script{ScriptName: "display", FindRegex: "/b/g", ReplaceString: "c", Placement: []Placement{PlacementUserInput}, MarkdownOnly: true},
		Script{ScriptName: "disabled", FindRegex: "/b/g", ReplaceString: "z", Placement: []Placement{PlacementUserInput}, PromptOnly: true, Disabled: true},
		Script{ScriptName: "ai", FindRegex: "/b/g", ReplaceString: "y", Placement: []Placement{PlacementAIOutput}, PromptOnly: true},
		Script{ScriptName: "shallow", FindRegex: "/b/g", ReplaceString: "d", Placement: []Placement{PlacementUserInput}, PromptOnly: true, MaxDepth: intPtr(1)},
	)

	got := e.Apply("aa", PlacementUserInput, Options{IsPrompt: true, Depth: intPtr(3)})
	if got != "bb" {
		t.Fatalf("depth 3: got %q, want %q", got, "bb")
	}
	got = e.Apply("aa", PlacementUserInput, Options{IsPrompt: true, Depth: intPtr(0)})
	if got != "dd" {
		t.Fatalf("depth 0: got %q, want %q", got, "dd")
	}
	got = e.Apply("bb", PlacementUserInput, Options{IsMarkdown: true})
	if got != "cc" {
		t.Fatalf("markdown: got %q, want %q", got, "cc")
	}
}

func TestEngineSkipsBrokenScript(t *testing.T) {
	e := NewEngine(
		Script{ScriptName: "broken", FindRegex: "/(/", Placement: []Placement{PlacementAIOutput}, PromptOnly: true},
		Script{ScriptName: "ok", FindRegex: "/x/", ReplaceString: "y", Placement: []Placement{PlacementAIOutput}, PromptOnly: true},
	)
	if got := e.Apply("x", PlacementAIOutput, Options{IsPrompt: true}); got != "y" {
		t.Fatalf("got %q, want y", got)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scripts.yaml")
	content := `- script_name: trim ooc
  find_regex: "/\\(OOC:.*?\\)/g"
  replace_string: ""
  placement: [1, 2]
  prompt_only: true
  max_depth: 4
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write scripts: %v", err)
	}
	scripts, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(scripts) != 1 || scripts[0].MaxDepth == nil || *scripts[0].MaxDepth != 4 {
		t.Fatalf("unexpected scripts: %+v", scripts)
	}
	e := NewEngine(scripts...)
	got := e.Apply("hi (OOC: brb) there", PlacementAIOutput, Options{IsPrompt: true, Depth: intPtr(0)})
	if got != "hi  there" {
		t.Fatalf("got %q", got)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`[{"scriptName":"x"}]`), 0644); err != nil {
		t.Fatalf("write bad: %v", err)
	}
	if _, err := LoadFile(bad); err == nil {
		t.Fatalf("expected validation error")
	}
}
