// Package genredata loads per-genre keyword/signal tables (beat keywords,
// dopamine signals, realm ladders, style hints) the gates use to score
// drafts. These are data, not code, so adding or tuning a genre never
// touches internal/gates.
package genredata

import (
	"embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/taibuivan/storyforge/internal/storytypes"
)

//go:embed *.yaml
var dataFS embed.FS

// Table is one genre's complete data set.
type Table struct {
	Genre            storytypes.Genre   `yaml:"-"`
	RealmLadder      []string           `yaml:"realmLadder"`
	BeatKeywords     map[string][]string `yaml:"beatKeywords"`
	DopamineSignals  []string           `yaml:"dopamineSignals"`
	OpeningHookWords []string           `yaml:"openingHookWords"`
	CliffhangerWords []string           `yaml:"cliffhangerWords"`
	StyleHints       string             `yaml:"styleHints"`
	SceneStyleHints  map[string]string  `yaml:"sceneStyleHints"`
}

// StyleHintFor returns the style guidance for a specific scene type,
// falling back to the genre-wide StyleHints when no per-scene override
// exists.
func (t Table) StyleHintFor(sceneType string) string {
	if h, ok := t.SceneStyleHints[sceneType]; ok {
		return h
	}
	return t.StyleHints
}

// RealmIndex returns the ladder position of realm, or -1 if unknown.
func (t Table) RealmIndex(realm string) int {
	for i, r := range t.RealmLadder {
		if r == realm {
			return i
		}
	}
	return -1
}

var (
	loadOnce sync.Once
	loadErr  error
	tables   map[storytypes.Genre]Table
	fallback Table
)

func load() {
	tables = make(map[storytypes.Genre]Table)

	raw, err := dataFS.ReadFile("default.yaml")
	if err != nil {
		loadErr = fmt.Errorf("genredata: missing default.yaml: %w", err)
		return
	}
	if err := yaml.Unmarshal(raw, &fallback); err != nil {
		loadErr = fmt.Errorf("genredata: parse default.yaml: %w", err)
		return
	}

	for _, g := range storytypes.ValidGenres {
		name := string(g) + ".yaml"
		raw, err := dataFS.ReadFile(name)
		if err != nil {
			// No genre-specific override; the fallback table serves it.
			continue
		}
		// Copy the fallback's maps so decoding the override into t does not
		// write the genre's keys into the shared default table.
		t := fallback
		t.BeatKeywords = make(map[string][]string, len(fallback.BeatKeywords))
		for k, v := range fallback.BeatKeywords {
			t.BeatKeywords[k] = v
		}
		t.SceneStyleHints = make(map[string]string, len(fallback.SceneStyleHints))
		for k, v := range fallback.SceneStyleHints {
			t.SceneStyleHints[k] = v
		}
		if err := yaml.Unmarshal(raw, &t); err != nil {
			loadErr = fmt.Errorf("genredata: parse %s: %w", name, err)
			return
		}
		t.Genre = g
		tables[g] = t
	}
}

// For returns the data table for g, falling back to the genre-neutral
// default table when g has no dedicated file.
func For(g storytypes.Genre) (Table, error) {
	loadOnce.Do(load)
	if loadErr != nil {
		return Table{}, loadErr
	}
	if t, ok := tables[g]; ok {
		return t, nil
	}
	t := fallback
	t.Genre = g
	return t, nil
}
