package worldinfo

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/kayz/tavernkit/internal/promptbuild"
)

func TestScannerActivation(t *testing.T) {
	s := NewScanner([]Entry{
		{UID: 0, Keys: []string{"castle"}, Content: "The castle is old.", Order: 10},
		{UID: 1, Keys: []string{"dragon"}, Content: "Dragons sleep.", Order: 20},
		{UID: 2, Constant: true, Content: "Magic exists.", Order: 5},
		{UID: 3, Keys: []string{"castle"}, Content: "disabled", Disable: true},
		{UID: 4, Keys: []string{"/kn[iy]ght/i"}, Content: "Knights guard it.", Order: 30, Position: PositionAfter},
		{UID: 5, Keys: []string{"castle"}, SecondaryKeys: []string{"moat"}, Selective: true, Content: "needs moat"},
	}, 2, 0)

	chat := []string{"We reach the CASTLE.", "A KNIGHT waves.", "A dragon flew by long ago."}
	res, err := s.WorldInfoPrompt(context.Background(), chat, 4096, false)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Before != "Magic exists.\nThe castle is old." {
		t.Fatalf("before = %q", res.Before)
	}
	if res.After != "Knights guard it." {
		t.Fatalf("after = %q", res.After)
	}
	if res.String != res.Before+"\n"+res.After {
		t.Fatalf("string = %q", res.String)
	}
}

func TestScannerBucketsAndDepthGroups(t *testing.T) {
	s := NewScanner([]Entry{
		{UID: 0, Constant: true, Content: "top", Position: PositionANTop},
		{UID: 1, Constant: true, Content: "bottom", Position: PositionANBottom},
		{UID: 2, Constant: true, Content: "d1", Position: PositionAtDepth, Depth: 2, Role: promptbuild.PromptRoleUser},
		{UID: 3, Constant: true, Content: "d2", Position: PositionAtDepth, Depth: 2, Role: promptbuild.PromptRoleUser},
		{UID: 4, Constant: true, Content: "d3", Position: PositionAtDepth, Depth: 2},
		{UID: 5, Constant: true, Content: "ex", Position: PositionEMBottom},
	}, 0, 0)

	res, err := s.WorldInfoPrompt(context.Background(), nil, 4096, true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !reflect.DeepEqual(res.ANBefore, []string{"top"}) || !reflect.DeepEqual(res.ANAfter, []string{"bottom"}) {
		t.Fatalf("author note buckets = %v %v", res.ANBefore, res.ANAfter)
	}
	want := []promptbuild.WorldInfoDepth{
		{Depth: 2, Role: promptbuild.PromptRoleUser, Entries: []string{"d1", "d2"}},
		{Depth: 2, Role: promptbuild.PromptRoleSystem, Entries: []string{"d3"}},
	}
	if !reflect.DeepEqual(res.Depth, want) {
		t.Fatalf("depth = %+v", res.Depth)
	}
	if len(res.Examples) != 1 || res.Examples[0].Position != promptbuild.AnchorAfter {
		t.Fatalf("examples = %+v", res.Examples)
	}
}

func TestScannerBudget(t *testing.T) {
	s := NewScanner([]Entry{
		{UID: 0, Constant: true, Content: strings.Repeat("a", 40), Order: 1},
		{UID: 1, Constant: true, Content: strings.Repeat("b", 40), Order: 2},
	}, 0, 50)

	// 30 tokens at 50% leaves room for one 10-token entry.
	res, err := s.WorldInfoPrompt(context.Background(), nil, 30, false)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Before != strings.Repeat("b", 40) {
		t.Fatalf("higher order entry should win the budget, got %q", res.Before)
	}
}

func TestScannerCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewScanner(nil, 0, 0).WorldInfoPrompt(ctx, nil, 100, false); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestBookUpsert(t *testing.T) {
	b := &Book{Name: "lore"}
	first := b.Upsert(Entry{UID: 0, Content: "a"})
	if first.Order != DefaultOrder || first.Depth != DefaultDepth {
		t.Fatalf("first entry defaults = %+v", first)
	}

	b.Entries[0] = Entry{UID: 0, Content: "a", Order: 7, Position: PositionAtDepth, Depth: 1, Role: promptbuild.PromptRoleAssistant}
	second := b.Upsert(Entry{UID: b.NextUID(), Content: "b", Order: 99})
	if second.UID != 1 || second.Order != 7 || second.Position != PositionAtDepth || second.Role != promptbuild.PromptRoleAssistant {
		t.Fatalf("second entry should copy the last entry: %+v", second)
	}

	updated := b.Upsert(Entry{UID: 1, Content: "b2", Order: 50})
	if updated.Order != 50 || b.Entries[1].Content != "b2" || len(b.Entries) != 2 {
		t.Fatalf("update = %+v, entries = %+v", updated, b.Entries)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	js := `{"entries": {"3": {"key": ["sword"], "content": "A sword.", "order": 10}}}`
	if err := os.WriteFile(filepath.Join(dir, "Weapons.json"), []byte(js), 0644); err != nil {
		t.Fatal(err)
	}
	ym := "name: Places\nentries:\n  1:\n    key: [town]\n    content: A town.\n"
	if err := os.WriteFile(filepath.Join(dir, "places.yaml"), []byte(ym), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "readme.md"), []byte("skip"), 0644); err != nil {
		t.Fatal(err)
	}

	lib, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := lib.Names(); !reflect.DeepEqual(got, []string{"Places", "Weapons"}) {
		t.Fatalf("names = %v", got)
	}
	w, _ := lib.Book("Weapons")
	if w.Entries[3].UID != 3 || w.Entries[3].Content != "A sword." {
		t.Fatalf("weapons = %+v", w.Entries)
	}

	if _, err := LoadDir(filepath.Join(dir, "missing")); err != nil {
		t.Fatalf("missing dir should be empty: %v", err)
	}
}

func TestActiveEntries(t *testing.T) {
	lib := NewLibrary(
		&Book{Name: "global", Entries: map[int]Entry{0: {UID: 0, Content: "g"}}},
		&Book{Name: "char", Entries: map[int]Entry{1: {UID: 1, Content: "c1"}, 0: {UID: 0, Content: "c0"}}},
		&Book{Name: "extra", Entries: map[int]Entry{0: {UID: 0, Content: "x"}}},
	)
	src := Sources{
		Global:         []string{"global", "missing"},
		Chat:           "gone",
		CharacterBook:  "char",
		CharacterExtra: []string{"global", "extra", "char"},
		Persona:        "char",
	}

	all := ActiveEntries([]Source{SourceAll}, src, lib)
	if len(all) != 4 {
		t.Fatalf("worlds = %v", all)
	}
	if len(all["gone"]) != 0 {
		t.Fatalf("unloadable chat world should be empty: %v", all["gone"])
	}
	if len(all["global"]) != 1 {
		t.Fatalf("global gathered twice: %v", all["global"])
	}
	if all["char"][0].Content != "c0" || all["char"][1].Content != "c1" {
		t.Fatalf("char entries out of order: %v", all["char"])
	}

	onlyChar := ActiveEntries([]Source{SourceCharacter}, src, lib)
	if _, ok := onlyChar["global"]; !ok || len(onlyChar) != 3 {
		t.Fatalf("character source = %v", onlyChar)
	}
	if got := len(Flatten(onlyChar)); got != 4 {
		t.Fatalf("flatten = %d", got)
	}
}
