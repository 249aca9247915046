// Package assets tracks the model weight files the engine needs and
// downloads or imports them into the engine's models directory.
package assets

import (
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// ErrUnknownAsset is returned for a name that is not in the catalog.
var ErrUnknownAsset = errors.New("unknown model asset")

// Asset is one downloadable weight file.
type Asset struct {
	Name        string `yaml:"name" json:"name"`
	Dir         string `yaml:"dir" json:"dir"`
	URL         string `yaml:"url" json:"url"`
	Description string `yaml:"description" json:"description"`
	Gated       bool   `yaml:"gated" json:"gated"`
}

// RelPath returns the asset's path relative to the models directory.
func (a Asset) RelPath() string {
	return filepath.Join(a.Dir, a.Name)
}

// Catalog is the fixed set of known assets.
type Catalog struct {
	assets []Asset
	byName map[string]Asset
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(embeddedCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var doc struct {
		Assets []Asset `yaml:"assets"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{byName: make(map[string]Asset, len(doc.Assets))}
	for i, a := range doc.Assets {
		if a.Name == "" || a.Dir == "" || a.URL == "" {
			return nil, fmt.Errorf("catalog entry %d: name, dir and url are required", i)
		}
		if a.Name != filepath.Base(a.Name) || strings.Contains(a.Dir, "..") {
			return nil, fmt.Errorf("catalog entry %q: invalid path", a.Name)
		}
		if _, dup := c.byName[a.Name]; dup {
			return nil, fmt.Errorf("catalog entry %q: duplicate name", a.Name)
		}
		c.byName[a.Name] = a
		c.assets = append(c.assets, a)
	}
	sort.Slice(c.assets, func(i, j int) bool { return c.assets[i].Name < c.assets[j].Name })
	return c, nil
}

// Lookup returns the named asset.
func (c *Catalog) Lookup(name string) (Asset, error) {
	a, ok := c.byName[name]
	if !ok {
		return Asset{}, fmt.Errorf("%w: %q", ErrUnknownAsset, name)
	}
	return a, nil
}

// Assets returns every asset sorted by name.
func (c *Catalog) Assets() []Asset {
	out := make([]Asset, len(c.assets))
	copy(out, c.assets)
	return out
}
