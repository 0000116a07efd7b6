package persist

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/kayz/tavernkit/internal/settings"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "tavernkit.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s, path
}

func TestSettingsPersistAcrossReopen(t *testing.T) {
	s, path := newTestStore(t)

	if _, ok := s.Get("ext"); ok {
		t.Fatalf("expected no settings before Set")
	}
	s.Set("ext", settings.Blob{"version": "1", "nested": map[string]any{"on": true}})
	if err := s.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, ok := reopened.Get("ext")
	if !ok {
		t.Fatalf("settings missing after reopen")
	}
	want := settings.Blob{"version": "1", "nested": map[string]any{"on": true}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	again, _ := reopened.Get("ext")
	again["extra"] = 1.0
	if third, _ := reopened.Get("ext"); third["extra"] != 1.0 {
		t.Fatalf("Get should return the shared blob")
	}

	keys, err := reopened.SettingsKeys()
	if err != nil || !reflect.DeepEqual(keys, []string{"ext"}) {
		t.Fatalf("keys = %v, err = %v", keys, err)
	}
}

func TestSetWithoutPersistIsNotWritten(t *testing.T) {
	s, path := newTestStore(t)
	s.Set("ext", settings.Blob{"a": 1})
	s.Close()

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, ok := reopened.Get("ext"); ok {
		t.Fatalf("staged settings should not survive without Persist")
	}
}

func TestManagerOverSQLiteStore(t *testing.T) {
	s, _ := newTestStore(t)
	defer s.Close()

	m := settings.NewManager("ext", settings.Blob{"version": "2", "formatVersion": "F2", "enabled": true}, s)
	res, err := m.InitializeSettings(context.Background(), settings.InitOptions{Strategy: settings.Recursive{}})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if res.Version.Changed {
		t.Fatalf("fresh settings should not report a change: %+v", res)
	}
	if err := m.UpdateSetting("enabled", false); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := m.SaveSettings(); err != nil {
		t.Fatalf("save: %v", err)
	}

	var raw string
	if err := s.db.QueryRow(`SELECT value FROM extension_settings WHERE key = 'ext'`).Scan(&raw); err != nil {
		t.Fatalf("query: %v", err)
	}
	if !strings.Contains(raw, `"enabled":false`) || !strings.Contains(raw, `"formatVersion":"F2"`) {
		t.Fatalf("stored = %s", raw)
	}
}

func TestChatMessages(t *testing.T) {
	s, _ := newTestStore(t)
	defer s.Close()

	chat, err := s.GetOrCreateChat("c1", "Mia")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	again, err := s.GetOrCreateChat("c1", "Other")
	if err != nil || again.CharacterName != "Mia" || chat.ID != "c1" {
		t.Fatalf("existing chat not returned: %+v %v", again, err)
	}

	for _, mes := range []string{"one", "two", "three"} {
		if _, err := s.AddChatMessage("c1", ChatMessage{Name: "User", Mes: mes, IsUser: true}); err != nil {
			t.Fatalf("add %s: %v", mes, err)
		}
	}
	msgs, err := s.ChatMessages("c1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Mes != "two" || msgs[1].Mes != "three" {
		t.Fatalf("msgs = %+v", msgs)
	}
	if msgs[1].TokenCount != 2 || string(msgs[1].Extra) != "{}" {
		t.Fatalf("token count or extra not filled: %+v", msgs[1])
	}

	chats, err := s.ListChats()
	if err != nil || len(chats) != 1 {
		t.Fatalf("chats = %+v, err = %v", chats, err)
	}
}

func TestPersistEmptyIsNoop(t *testing.T) {
	s, _ := newTestStore(t)
	s.Close()
	if err := s.Persist(); err != nil {
		t.Fatalf("persist with nothing staged should not touch the db: %v", err)
	}
}
