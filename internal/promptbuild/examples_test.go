package promptbuild

import (
	"reflect"
	"strings"
	"testing"
)

func identity(s string) string { return s }

func TestParseMesExamples(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		instruct  bool
		separator string
		want      []string
	}{
		{"empty", "", false, "", nil},
		{"bare start", "<START>", false, "", nil},
		{"no start tag", "User: hi\nMia: hello", false, "***", []string{"***\nUser: hi\nMia: hello\n"}},
		{"instruct heading", "<START>\nUser: hi", true, "***", []string{"<START>\nUser: hi\n"}},
		{"two blocks any case", "<START>\nA\n<start>\nB", false, "", []string{"A\n", "B\n"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := parseMesExamples(tc.in, tc.instruct, tc.separator)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFormatInstructModeExamples(t *testing.T) {
	blocks := []string{"<START>\nUser: hi\nMia: hello\nthere\n"}

	plain := formatInstructModeExamples(blocks, "User", "Mia", nil, "---", identity)
	if plain[0] != "---\nUser: hi\nMia: hello\nthere\n" {
		t.Fatalf("plain = %q", plain)
	}

	instruct := &InstructPreset{
		Enabled:        true,
		Wrap:           true,
		InputSequence:  "### Input:",
		OutputSequence: "### Response:",
		NamesBehavior:  "always",
	}
	got := formatInstructModeExamples(blocks, "User", "Mia", instruct, "", identity)
	want := []string{"### Input:\nUser: hi", "### Response:\nMia: hello\nthere"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestFormatInstructModeSystemPrompt(t *testing.T) {
	p := &InstructPreset{SystemSequencePrefix: "[{{name}}]", SystemSequenceSuffix: "[/]"}
	if got := formatInstructModeSystemPrompt("rules", p, ""); got != "[System]rules[/]" {
		t.Fatalf("got %q", got)
	}
	p.Wrap = true
	if got := formatInstructModeSystemPrompt("rules", p, "Ann"); got != "[Ann]\nrules\n[/]" {
		t.Fatalf("got %q", got)
	}
}

func TestExampleMessages(t *testing.T) {
	msgs := exampleMessages([]string{"<START>\nUser: hi\nMia: hello\n"}, "User", "Mia", "[Example Chat]")
	if got := roles(msgs); got != "system,user,assistant" {
		t.Fatalf("roles = %s", got)
	}
	if msgs[1].Content != "hi" || msgs[2].Content != "hello" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestExpandMacros(t *testing.T) {
	vars := map[string]string{"user": "Ann", "Char": "Mia"}
	got := ExpandMacros("<USER> and <bot>: {{USER}}/{{char}}{{newline}}{{unknown}}\n{{trim}}\nend", vars)
	if got != "Ann and Mia: Ann/Mia\n{{unknown}}end" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderStoryString(t *testing.T) {
	params := StoryStringParams{Description: "<b>bold</b> & co", Char: "Mia", Personality: "shy"}
	got, err := RenderStoryString("", params, nil, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "<b>bold</b> & co\nMia's personality: shy\n" {
		t.Fatalf("got %q", got)
	}

	got, err = RenderStoryString("\n\n{{description}}", params, &InstructPreset{Enabled: true}, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got != "<b>bold</b> & co" {
		t.Fatalf("instruct without wrap got %q", got)
	}

	if _, err := RenderStoryString("{{#if}}", params, nil, nil); err == nil || !strings.Contains(err.Error(), "story string") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestInsertAtClampsAndCopies(t *testing.T) {
	base := []Message{{Content: "a"}, {Content: "b"}}
	out := insertFromEnd(base, 5, Message{Content: "x"})
	if out[0].Content != "x" || len(base) != 2 || base[0].Content != "a" {
		t.Fatalf("out = %+v base = %+v", out, base)
	}
	out = insertAt(base, 9, Message{Content: "y"})
	if out[2].Content != "y" {
		t.Fatalf("out = %+v", out)
	}
}

func TestBudgetedChat(t *testing.T) {
	chat := []ChatMessage{
		{Mes: "a", IsUser: true, Extra: ChatExtra{TokenCount: 4}},
		{Mes: "b"},
		{Mes: "c", IsUser: true, Extra: ChatExtra{TokenCount: 2}},
	}
	got := BudgetedChat(chat, 3, false)
	if len(got) != 2 || got[0].Content != "b" || got[1].Content != "c" {
		t.Fatalf("got %+v", got)
	}
	if got := BudgetedChat(chat, 100, false); len(got) != 3 {
		t.Fatalf("all should fit: %+v", got)
	}
}

func TestSliceChat(t *testing.T) {
	chat := []ChatMessage{{Mes: "0"}, {Mes: "1"}, {Mes: "2"}, {Mes: "3"}}
	tests := []struct {
		name string
		r    *MessageRange
		want string
	}{
		{"nil range", nil, "0123"},
		{"empty sentinel", &MessageRange{Start: -1, End: intPtr(-1)}, ""},
		{"open end", &MessageRange{Start: 2}, "23"},
		{"inclusive end", &MessageRange{Start: 0, End: intPtr(1)}, "01"},
		{"zero end", &MessageRange{End: intPtr(0)}, "0"},
		{"negative start", &MessageRange{Start: -2}, "23"},
		{"past the end", &MessageRange{Start: 3, End: intPtr(10)}, "3"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var b strings.Builder
			for _, m := range sliceChat(chat, tc.r) {
				b.WriteString(m.Mes)
			}
			if b.String() != tc.want {
				t.Fatalf("got %q, want %q", b.String(), tc.want)
			}
		})
	}
}
