package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var builtin []byte

// Template describes one visual template.
type Template struct {
	ID      string `yaml:"id" json:"id"`
	Name    string `yaml:"name" json:"name"`
	Premium bool   `yaml:"premium" json:"premium"`
}

type document struct {
	Templates []Template `yaml:"templates"`
}

// Catalog is an immutable, id-indexed set of templates.
type Catalog struct {
	byID  map[string]Template
	order []string
}

// Default returns the catalog compiled into the binary.
func Default() *Catalog {
	c, err := Parse(builtin)
	if err != nil {
		panic(fmt.Sprintf("builtin template catalog: %v", err))
	}
	return c
}

// Parse reads a YAML catalog document.
func Parse(raw []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(doc.Templates) == 0 {
		return nil, errors.New("catalog has no templates")
	}

	c := &Catalog{byID: make(map[string]Template, len(doc.Templates))}
	for _, t := range doc.Templates {
		if t.ID == "" {
			return nil, errors.New("template without id")
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("duplicate template %q", t.ID)
		}
		c.byID[t.ID] = t
		c.order = append(c.order, t.ID)
	}
	return c, nil
}

// IsPremium reports whether templateID needs a paid tier. Unknown ids are free.
func (c *Catalog) IsPremium(templateID string) bool {
	return c.byID[templateID].Premium
}

// Lookup returns the template with id.
func (c *Catalog) Lookup(id string) (Template, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// List returns templates free first, then premium, each in file order.
func (c *Catalog) List() []Template {
	out := make([]Template, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return !out[i].Premium && out[j].Premium
	})
	return out
}
