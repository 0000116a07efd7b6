// Package worldinfo stores lorebooks and turns a chat into the world info
// fragments a prompt needs.
package worldinfo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kayz/tavernkit/internal/logger"
	"github.com/kayz/tavernkit/internal/promptbuild"
	"gopkg.in/yaml.v3"
)

// Position is where an activated entry lands in the prompt.
type Position int

const (
	PositionBefore   Position = 0
	PositionAfter    Position = 1
	PositionANTop    Position = 2
	PositionANBottom Position = 3
	PositionAtDepth  Position = 4
	PositionEMTop    Position = 5
	PositionEMBottom Position = 6
)

const (
	DefaultOrder = 100
	DefaultDepth = 4
)

// Entry is one lorebook record.
type Entry struct {
	UID           int                    `json:"uid" yaml:"uid"`
	Keys          []string               `json:"key" yaml:"key"`
	SecondaryKeys []string               `json:"keysecondary,omitempty" yaml:"keysecondary,omitempty"`
	Selective     bool                   `json:"selective,omitempty" yaml:"selective,omitempty"`
	Comment       string                 `json:"comment,omitempty" yaml:"comment,omitempty"`
	Content       string                 `json:"content" yaml:"content"`
	Constant      bool                   `json:"constant,omitempty" yaml:"constant,omitempty"`
	Disable       bool                   `json:"disable,omitempty" yaml:"disable,omitempty"`
	Order         int                    `json:"order" yaml:"order"`
	Position      Position               `json:"position" yaml:"position"`
	Depth         int                    `json:"depth" yaml:"depth"`
	Role          promptbuild.PromptRole `json:"role" yaml:"role"`
}

// Book is a named lorebook. Entries are keyed by UID.
type Book struct {
	Name    string        `json:"name,omitempty" yaml:"name,omitempty"`
	Entries map[int]Entry `json:"entries" yaml:"entries"`
}

// SortedEntries returns the entries in UID order.
func (b *Book) SortedEntries() []Entry {
	out := make([]Entry, 0, len(b.Entries))
	for _, e := range b.Entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// Upsert replaces the entry with the same UID, or inserts it. An inserted
// entry takes its order, position, depth and role from the entry with the
// highest UID so new records land next to the latest ones.
func (b *Book) Upsert(e Entry) Entry {
	if b.Entries == nil {
		b.Entries = map[int]Entry{}
	}
	if _, ok := b.Entries[e.UID]; ok {
		b.Entries[e.UID] = e
		return e
	}

	tmpl := Entry{Order: DefaultOrder, Position: PositionBefore, Depth: DefaultDepth}
	if sorted := b.SortedEntries(); len(sorted) > 0 {
		tmpl = sorted[len(sorted)-1]
	}
	e.Order = tmpl.Order
	e.Position = tmpl.Position
	e.Depth = tmpl.Depth
	e.Role = tmpl.Role
	b.Entries[e.UID] = e
	return e
}

// NextUID returns an unused UID.
func (b *Book) NextUID() int {
	next := 0
	for uid := range b.Entries {
		if uid >= next {
			next = uid + 1
		}
	}
	return next
}

// LoadBook reads a lorebook from a .json, .yaml or .yml file. A book with no
// name takes the file stem.
func LoadBook(path string) (*Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read world info %s: %w", path, err)
	}
	book := &Book{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, book)
	default:
		err = json.Unmarshal(data, book)
	}
	if err != nil {
		return nil, fmt.Errorf("parse world info %s: %w", path, err)
	}
	if book.Name == "" {
		book.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if book.Entries == nil {
		book.Entries = map[int]Entry{}
	}
	for uid, e := range book.Entries {
		e.UID = uid
		book.Entries[uid] = e
	}
	return book, nil
}

// Library holds lorebooks by name.
type Library struct {
	mu    sync.RWMutex
	books map[string]*Book
}

func NewLibrary(books ...*Book) *Library {
	l := &Library{books: map[string]*Book{}}
	for _, b := range books {
		l.Add(b)
	}
	return l
}

// LoadDir loads every lorebook file in dir. A missing dir yields an empty library.
func LoadDir(dir string) (*Library, error) {
	lib := NewLibrary()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return lib, nil
		}
		return nil, fmt.Errorf("list world info %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}
		book, err := LoadBook(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		lib.Add(book)
	}
	logger.Debug("Loaded %d world info books from %s", len(lib.books), dir)
	return lib, nil
}

func (l *Library) Add(b *Book) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.books[b.Name] = b
}

func (l *Library) Book(name string) (*Book, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.books[name]
	return b, ok
}

func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.books))
	for name := range l.books {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
