// Package settings holds the participant's app-scoped preferences: dark
// mode and interface language.
//
// A Store is loaded once at startup, changed only through Update, and
// written back to its TOML file on every change.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// Settings is a value; copies handed out by Store never alias its state.
type Settings struct {
	DarkMode bool   `toml:"dark_mode"`
	Language string `toml:"language"` // "en" or "ko"
}

// Defaults apply when the file is missing or leaves a field unset.
func Defaults() Settings {
	return Settings{DarkMode: false, Language: "en"}
}

func (s *Settings) normalize() {
	if s.Language != "en" && s.Language != "ko" {
		s.Language = "en"
	}
}

type Store struct {
	path string

	mu      sync.RWMutex
	current Settings
	subs    map[int]func(Settings)
	nextSub int
}

// Load reads path, or starts from Defaults when it does not exist yet.
func Load(path string) (*Store, error) {
	st := &Store{path: path, current: Defaults(), subs: make(map[int]func(Settings))}

	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return st, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if _, err := toml.Decode(string(content), &st.current); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	st.current.normalize()
	return st, nil
}

func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current
}

// Update applies fn to a copy, persists the result and then notifies
// subscribers. Nothing changes when persisting fails.
func (st *Store) Update(fn func(*Settings)) error {
	st.mu.Lock()
	next := st.current
	fn(&next)
	next.normalize()

	if next == st.current {
		st.mu.Unlock()
		return nil
	}
	if err := st.save(next); err != nil {
		st.mu.Unlock()
		return err
	}
	st.current = next

	subs := make([]func(Settings), 0, len(st.subs))
	for _, fn := range st.subs {
		subs = append(subs, fn)
	}
	st.mu.Unlock()

	for _, sub := range subs {
		sub(next)
	}
	return nil
}

// Subscribe calls fn after every change until the returned cancel runs.
func (st *Store) Subscribe(fn func(Settings)) (cancel func()) {
	st.mu.Lock()
	defer st.mu.Unlock()

	id := st.nextSub
	st.nextSub++
	st.subs[id] = fn

	return func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		delete(st.subs, id)
	}
}

// save writes through a temp file so a crash never leaves half a file.
func (st *Store) save(s Settings) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}
	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp, st.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}
