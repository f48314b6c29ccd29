package engine

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ----- Preset Manager ----- //

// presetManager persists param snapshots (never live handles) as JSON
// files in a directory, one preset per file.
type presetManager struct {
	dir string
}

func newPresetManager(dir string) *presetManager {
	return &presetManager{dir: dir}
}

func (pm *presetManager) list() ([]string, error) {
	entries, err := ioutil.ReadDir(pm.dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(names)
	return names, nil
}

func (pm *presetManager) applyToParams(name string, target *params) error {
	bytes, err := ioutil.ReadFile(filepath.Join(pm.dir, name+".json"))
	if err != nil {
		return err
	}
	target.applyJSON(json.RawMessage(bytes))
	return nil
}

func (pm *presetManager) save(name string, source *params) error {
	if err := os.MkdirAll(pm.dir, 0o755); err != nil {
		return err
	}
	return ioutil.WriteFile(filepath.Join(pm.dir, name+".json"), source.toJSON(), 0o644)
}
