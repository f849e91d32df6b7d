package personality

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPersonality is returned by Get for ids outside the catalog
var ErrUnknownPersonality = errors.New("unknown personality")

// Personality is a canned conversation style: how the assistant greets the
// user and the system prompt sent with every request.
type Personality struct {
	ID           string `json:"id" yaml:"id"`
	Label        string `json:"label" yaml:"label"`
	Emoji        string `json:"emoji" yaml:"emoji"`
	Description  string `json:"description" yaml:"description"`
	Welcome      string `json:"welcome" yaml:"welcome"`
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
}

// Catalog is the read-only set of personalities known to the process
type Catalog struct {
	order     []string
	byKey     map[string]Personality
	defaultID string
}

// NewCatalog builds a catalog. The first personality is the default unless
// defaultID names another registered one.
func NewCatalog(defaultID string, list ...Personality) (*Catalog, error) {
	if len(list) == 0 {
		return nil, fmt.Errorf("personality catalog needs at least one entry")
	}

	c := &Catalog{byKey: make(map[string]Personality, len(list))}
	for _, p := range list {
		if p.ID == "" {
			return nil, fmt.Errorf("personality without id")
		}
		k := key(p.ID)
		if _, dup := c.byKey[k]; dup {
			return nil, fmt.Errorf("duplicate personality %q", p.ID)
		}
		if p.Label == "" {
			p.Label = p.ID
		}
		c.byKey[k] = p
		c.order = append(c.order, k)
	}

	c.defaultID = c.order[0]
	if defaultID != "" {
		if _, ok := c.byKey[key(defaultID)]; !ok {
			return nil, fmt.Errorf("default personality %q: %w", defaultID, ErrUnknownPersonality)
		}
		c.defaultID = key(defaultID)
	}
	return c, nil
}

// Get returns the personality registered under id (case-insensitive)
func (c *Catalog) Get(id string) (Personality, error) {
	p, ok := c.byKey[key(id)]
	if !ok {
		return Personality{}, fmt.Errorf("%w: %q", ErrUnknownPersonality, id)
	}
	return p, nil
}

// Resolve is Get with a silent fallback to the default personality
func (c *Catalog) Resolve(id string) Personality {
	p, err := c.Get(id)
	if err != nil {
		return c.Default()
	}
	return p
}

// Default returns the fallback personality
func (c *Catalog) Default() Personality {
	return c.byKey[c.defaultID]
}

// List returns every personality in registration order
func (c *Catalog) List() []Personality {
	out := make([]Personality, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.byKey[k])
	}
	return out
}

// IDs returns the registered ids in order
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.byKey[k].ID)
	}
	return out
}

func key(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
