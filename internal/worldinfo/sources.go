package worldinfo

import "slices"

// Source selects which attached lorebooks ActiveEntries gathers.
type Source string

const (
	SourceAll       Source = "all"
	SourceGlobal    Source = "global"
	SourceCharacter Source = "character"
	SourceChat      Source = "chat"
	SourcePersona   Source = "persona"
)

// BookLoader looks lorebooks up by name.
type BookLoader interface {
	Book(name string) (*Book, bool)
}

// Sources names the lorebooks attached to the current session.
type Sources struct {
	Global []string
	Chat   string
	// CharacterBook and CharacterExtra come from the target character.
	CharacterBook  string
	CharacterExtra []string
	Persona        string
}

// ActiveEntries gathers entries by world name from the included sources.
// A world already gathered by an earlier source is not read again. Chat and
// persona worlds that fail to load still appear, with no entries.
func ActiveEntries(include []Source, src Sources, books BookLoader) map[string][]Entry {
	included := func(s Source) bool {
		return slices.Contains(include, SourceAll) || slices.Contains(include, s)
	}
	out := map[string][]Entry{}

	if included(SourceGlobal) {
		for _, name := range src.Global {
			book, ok := books.Book(name)
			if !ok {
				continue
			}
			out[name] = append(out[name], book.SortedEntries()...)
		}
	}

	attach := func(name string) {
		if name == "" {
			return
		}
		if _, seen := out[name]; seen {
			return
		}
		out[name] = []Entry{}
		if book, ok := books.Book(name); ok {
			out[name] = append(out[name], book.SortedEntries()...)
		}
	}

	if included(SourceChat) {
		attach(src.Chat)
	}

	if included(SourceCharacter) {
		var worlds []string
		if src.CharacterBook != "" {
			worlds = append(worlds, src.CharacterBook)
		}
		for _, name := range src.CharacterExtra {
			if !slices.Contains(worlds, name) {
				worlds = append(worlds, name)
			}
		}
		for _, name := range worlds {
			book, ok := books.Book(name)
			if _, seen := out[name]; !ok || seen {
				continue
			}
			out[name] = book.SortedEntries()
		}
	}

	if included(SourcePersona) {
		attach(src.Persona)
	}
	return out
}

// Flatten merges gathered entries into one list, worlds in name order.
func Flatten(byWorld map[string][]Entry) []Entry {
	names := make([]string, 0, len(byWorld))
	for name := range byWorld {
		names = append(names, name)
	}
	slices.Sort(names)
	var out []Entry
	for _, name := range names {
		out = append(out, byWorld[name]...)
	}
	return out
}
