package personality

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a personalities file
type File struct {
	Default       string        `yaml:"default"`
	Personalities []Personality `yaml:"personalities"`
}

// Load builds the catalog from the built-in set, overlaid with the
// personalities file at path. Entries with a built-in id replace only the
// fields they set; unknown ids are appended. A missing file is not an error.
func Load(path, defaultID string) (*Catalog, error) {
	list := Builtin()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Printf("[Personality] %s not found, using built-in personalities", path)
		case err != nil:
			return nil, fmt.Errorf("read personalities file: %w", err)
		default:
			var f File
			if err := yaml.Unmarshal(data, &f); err != nil {
				return nil, fmt.Errorf("parse personalities file %s: %w", path, err)
			}
			list = merge(list, f.Personalities)
			if defaultID == "" {
				defaultID = f.Default
			}
			log.Printf("[Personality] Loaded %d personalities from %s", len(f.Personalities), path)
		}
	}
	if defaultID == "" {
		defaultID = DefaultID
	}
	return NewCatalog(defaultID, list...)
}

func merge(base, overlay []Personality) []Personality {
	index := make(map[string]int, len(base))
	for i, p := range base {
		index[key(p.ID)] = i
	}
	for _, o := range overlay {
		i, ok := index[key(o.ID)]
		if !ok {
			index[key(o.ID)] = len(base)
			base = append(base, o)
			continue
		}
		p := base[i]
		if o.Label != "" {
			p.Label = o.Label
		}
		if o.Emoji != "" {
			p.Emoji = o.Emoji
		}
		if o.Description != "" {
			p.Description = o.Description
		}
		if o.Welcome != "" {
			p.Welcome = o.Welcome
		}
		if o.SystemPrompt != "" {
			p.SystemPrompt = o.SystemPrompt
		}
		base[i] = p
	}
	return base
}
